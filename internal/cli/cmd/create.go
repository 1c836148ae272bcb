// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hpwieczorek/towldb/internal/cli/copylog"
	"github.com/hpwieczorek/towldb/internal/config"
	"github.com/hpwieczorek/towldb/internal/ingest/pipeline"
	"github.com/hpwieczorek/towldb/internal/repository"
	"github.com/hpwieczorek/towldb/pkg/log"
)

// exitOutputExists is returned when the output directory already exists
// and --overwrite was not given, so wrapper scripts can special-case it.
const exitOutputExists = 2

// CreateCommand groups the database-creation subcommands.
func CreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a store from an instrumentation log",
		Subcommands: []*cli.Command{
			createFromLogFileCommand(),
		},
	}
}

func createFromLogFileCommand() *cli.Command {
	return &cli.Command{
		Name:      "from-log-file",
		Usage:     "Ingest a towl instrumentation log into a fresh store",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output directory (default: <path>.towldb)"},
			&cli.BoolFlag{Name: "overwrite", Aliases: []string{"f"}, Usage: "remove an existing output directory first"},
			&cli.BoolFlag{Name: "copy", Aliases: []string{"c"}, Usage: "copy the input log alongside the output store"},
			&cli.StringFlag{Name: "config", Usage: "path to an optional ingest config file"},
			&cli.StringFlag{Name: "loglevel", Usage: "debug, info, warn, err, crit", Value: "info"},
			&cli.IntFlag{Name: "commit-interval", Usage: "events per SQLite transaction (0 = use config/default)"},
		},
		Action: createFromLogFileAction,
	}
}

func createFromLogFileAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("create from-log-file: missing required <path> argument", 1)
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logLevel := ""
	if c.IsSet("loglevel") {
		logLevel = c.String("loglevel")
	}
	cfg = cfg.ApplyOverrides(c.Int("commit-interval"), logLevel)
	log.SetLogLevel(cfg.LogLevel)
	log.SetLogDateTime(cfg.LogDateTime)
	repository.SetConfig(&repository.RepositoryConfig{
		CommitInterval: cfg.CommitInterval,
		VacuumOnFinish: cfg.VacuumOnFinish,
	})

	output := c.String("output")
	if output == "" {
		output = path + ".towldb"
	}
	if _, err := os.Stat(output); err == nil {
		if !c.Bool("overwrite") {
			return cli.Exit(fmt.Sprintf("create from-log-file: output directory %q already exists (use --overwrite)", output), exitOutputExists)
		}
		if err := os.RemoveAll(output); err != nil {
			return cli.Exit(fmt.Sprintf("create from-log-file: removing existing %q: %v", output, err), 1)
		}
	}

	store, err := repository.Create(output)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ingestPath := path
	if c.Bool("copy") {
		copied, err := copylog.Into(path, store.Dir())
		if err != nil {
			store.Discard()
			return cli.Exit(err.Error(), 1)
		}
		log.Infof("create from-log-file: preserved input log at %s", copied)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stats, err := pipeline.Run(ctx, ingestPath, store)
	if err != nil {
		store.Discard()
		return cli.Exit(err.Error(), 1)
	}

	if err := store.Finish(); err != nil {
		store.Discard()
		return cli.Exit(err.Error(), 1)
	}
	if err := store.Close(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	log.Infof("create from-log-file: %d lines read, %d skipped, %d bytes read, wrote %s",
		stats.LinesRead, stats.LinesSkipped, stats.BytesRead, output)
	return nil
}
