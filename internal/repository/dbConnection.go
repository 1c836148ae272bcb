// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/hpwieczorek/towldb/pkg/log"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

var driverRegisterOnce sync.Once

// DBConnection wraps a single sqlite3 connection. Ingest is
// single-writer, single-threaded (§5 of the design), so unlike the
// multi-backend connection pool this was grounded on, there is no mysql
// branch and no connection pooling: sqlite does not multithread, and
// having more than one connection open would just mean waiting for
// locks.
type DBConnection struct {
	DB *sqlx.DB
}

// Connect opens (and, on first call in the process, registers the
// instrumented sqlite3 driver for) the database file at path. It does
// not run migrations; call MigrateDB afterwards.
func Connect(path string) (*DBConnection, error) {
	driverRegisterOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
	})

	dbHandle, err := sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("repository: opening %q: %w", path, err)
	}
	dbHandle.SetMaxOpenConns(1)

	log.Debugf("repository: opened %s", path)
	return &DBConnection{DB: dbHandle}, nil
}
