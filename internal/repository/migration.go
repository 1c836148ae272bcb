// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/hpwieczorek/towldb/pkg/log"
)

// SchemaVersion is the output store's schema version, a wire-format
// commitment documented at the store boundary (spec'd output format).
const SchemaVersion uint = 20240206

//go:embed migrations/*
var migrationFiles embed.FS

// checkDBVersion returns an error if a pre-existing database's schema is
// not the version this binary knows how to write.
func checkDBVersion(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	d, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		return err
	}

	v, _, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Debug("repository: fresh database, no schema version yet")
			return nil
		}
		return err
	}

	if uint(v) != SchemaVersion {
		return fmt.Errorf("repository: database schema version %d does not match supported version %d", v, SchemaVersion)
	}
	return nil
}

// MigrateDB brings the sqlite3 database at path up to SchemaVersion.
func MigrateDB(path string) error {
	d, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, fmt.Sprintf("sqlite3://%s?_foreign_keys=on", path))
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("repository: migrating %q: %w", path, err)
	}
	return nil
}
