// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Transaction wraps one sqlite3 transaction. Once the transaction is
// resolved, Rollback is a no-op (so the common "defer tx.Rollback()"
// pattern is safe after a Commit) while a second Commit returns an error.
type Transaction struct {
	tx   *sqlx.Tx
	done bool
}

// TransactionInit begins a new transaction. Inserts are bundled into
// transactions because in sqlite, that speeds up inserts a lot: the
// Store uses this to batch CommitInterval events per commit instead of
// fsyncing once per row.
func (r *DBConnection) TransactionInit() (*Transaction, error) {
	tx, err := r.DB.Beginx()
	if err != nil {
		return nil, fmt.Errorf("repository: beginning transaction: %w", err)
	}
	return &Transaction{tx: tx}, nil
}

// Commit commits the transaction. Calling Commit on an already resolved
// transaction returns an error.
func (t *Transaction) Commit() error {
	if t.tx == nil || t.done {
		return fmt.Errorf("transaction already committed or rolled back")
	}
	err := t.tx.Commit()
	t.done = true
	return err
}

// Rollback rolls back the transaction. Unlike Commit, calling Rollback
// after the transaction is already resolved is a safe no-op, so callers
// can unconditionally defer it after a successful Commit.
func (t *Transaction) Rollback() error {
	if t.tx == nil || t.done {
		return nil
	}
	err := t.tx.Rollback()
	t.done = true
	return err
}

// TransactionAdd executes query with args inside t and returns the
// inserted row's id.
func (r *DBConnection) TransactionAdd(t *Transaction, query string, args ...any) (int64, error) {
	if t == nil || t.tx == nil || t.done {
		return 0, fmt.Errorf("transaction is nil or already completed")
	}
	res, err := t.tx.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// TransactionAddNamed is TransactionAdd for a query using :named
// parameters bound from arg's struct fields or map entries.
func (r *DBConnection) TransactionAddNamed(t *Transaction, query string, arg any) (int64, error) {
	if t == nil || t.tx == nil || t.done {
		return 0, fmt.Errorf("transaction is nil or already completed")
	}
	res, err := t.tx.NamedExec(query, arg)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// TransactionEnd is a deprecated alias for Commit.
func (r *DBConnection) TransactionEnd(t *Transaction) error {
	return t.Commit()
}
