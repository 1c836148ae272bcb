// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the optional ingest configuration
// file, and holds the resolved settings the rest of the process reads
// from.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hpwieczorek/towldb/pkg/log"
	"github.com/hpwieczorek/towldb/pkg/schema"
)

// Config holds everything the ingest pipeline and the store need that a
// user might reasonably want to tune. CLI flags, when given, take
// precedence over whatever a config file set (see ApplyOverrides).
type Config struct {
	// CommitInterval is how many events the Store batches into one SQLite
	// transaction before committing.
	CommitInterval int `json:"commitInterval"`
	// LogLevel is the minimum pkg/log level that gets printed.
	LogLevel string `json:"logLevel"`
	// LogDateTime enables timestamps on log lines (off by default; most
	// deployments run under systemd, which timestamps its own way).
	LogDateTime bool `json:"logDateTime"`
	// VacuumOnFinish runs VACUUM and PRAGMA optimize once ingest commits
	// its last transaction.
	VacuumOnFinish bool `json:"vacuumOnFinish"`
}

// Default returns the configuration used when no config file is given.
func Default() Config {
	return Config{
		CommitInterval: 100,
		LogLevel:       "info",
		LogDateTime:    false,
		VacuumOnFinish: true,
	}
}

// Load reads and validates the config file at path, if path is
// non-empty, and returns it merged over Default(). An empty path is not
// an error: it simply means "use the defaults".
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %q: %w", path, err)
	}

	if err := schema.Validate(schema.Config, bytes.NewReader(raw)); err != nil {
		return Config{}, fmt.Errorf("config: %q failed validation: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %q: %w", path, err)
	}

	log.Debugf("config: loaded %+v from %s", cfg, path)
	return cfg, nil
}

// ApplyOverrides lets CLI flags win over whatever the config file (or
// the defaults) set. A zero value for an int/string override means "not
// given on the command line" and leaves cfg unchanged for that field.
func (c Config) ApplyOverrides(commitInterval int, logLevel string) Config {
	if commitInterval > 0 {
		c.CommitInterval = commitInterval
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	return c
}
