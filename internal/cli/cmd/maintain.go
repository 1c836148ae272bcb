// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hpwieczorek/towldb/internal/cli/copylog"
	"github.com/hpwieczorek/towldb/internal/ingest/pipeline"
	"github.com/hpwieczorek/towldb/internal/repository"
	"github.com/hpwieczorek/towldb/pkg/log"
)

// MaintainCommand groups the store-maintenance subcommands.
func MaintainCommand() *cli.Command {
	return &cli.Command{
		Name:  "maintain",
		Usage: "Maintain an existing store",
		Subcommands: []*cli.Command{
			maintainRecreateCommand(),
		},
	}
}

func maintainRecreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "recreate",
		Usage:     "Rebuild towl.db from the log copy preserved by --copy",
		ArgsUsage: "[path]",
		Action:    maintainRecreateAction,
	}
}

func maintainRecreateAction(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		dir = "."
	}

	logPath, err := copylog.Find(dir)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	dbPath := filepath.Join(dir, "towl.db")
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return cli.Exit(err.Error(), 1)
	}

	store, err := repository.Create(dir)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stats, err := pipeline.Run(ctx, logPath, store)
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

	log.Infof("maintain recreate: %d lines read, %d skipped, rebuilt %s", stats.LinesRead, stats.LinesSkipped, dbPath)
	return nil
}
