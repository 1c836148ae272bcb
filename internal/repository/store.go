// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package repository is the Store (C10): schema, prepared
// inserts/updates, periodic commit, final optimisation.
package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	"github.com/hpwieczorek/towldb/pkg/log"
	"github.com/hpwieczorek/towldb/pkg/schema"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Store is the ingest pipeline's persistence layer. Writes are batched
// CommitInterval-events-per-transaction (see config.go); a handful of
// mutable columns (data_buffers.meta and its event back-references) are
// written only once, at Finish, by whichever in-memory owner marks them
// dirty — the coalescing itself lives in internal/ingest/devmem, Store
// just exposes the flush.
type Store struct {
	conn        *DBConnection
	dir         string
	dbPath      string
	cfg         *RepositoryConfig
	tx          *Transaction
	sinceCommit int
}

// Create creates a fresh output directory containing towl.db, migrates
// its schema, and opens the first batch transaction.
func Create(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("repository: creating output directory %q: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "towl.db")
	if err := MigrateDB(dbPath); err != nil {
		return nil, err
	}

	conn, err := Connect(dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{conn: conn, dir: dir, dbPath: dbPath, cfg: GetConfig()}
	tx, err := conn.TransactionInit()
	if err != nil {
		conn.DB.Close()
		return nil, err
	}
	s.tx = tx
	return s, nil
}

// Open opens an existing store directory, verifying its schema version
// matches what this binary writes. It does not begin a batch
// transaction, so the Store it returns is not set up for inserts.
func Open(dir string) (*Store, error) {
	dbPath := filepath.Join(dir, "towl.db")
	conn, err := Connect(dbPath)
	if err != nil {
		return nil, err
	}
	if err := checkDBVersion(conn.DB.DB); err != nil {
		conn.DB.Close()
		return nil, err
	}
	return &Store{conn: conn, dir: dir, dbPath: dbPath, cfg: GetConfig()}, nil
}

// Dir returns the output directory this Store was created in, so the
// caller can remove it on a fatal error.
func (s *Store) Dir() string {
	return s.dir
}

// Discard closes the connection and removes the entire output
// directory. The ingest run is idempotent: on any fatal error, the
// caller should call Discard rather than leave a half-written store
// behind.
func (s *Store) Discard() error {
	s.conn.DB.Close()
	return os.RemoveAll(s.dir)
}

// Close releases the underlying connection without touching the output
// directory's contents.
func (s *Store) Close() error {
	return s.conn.DB.Close()
}

// Finish commits the final transaction and, if configured, runs
// PRAGMA optimize and VACUUM afterwards on the Store's connection,
// outside any batch transaction.
func (s *Store) Finish() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("repository: committing final transaction: %w", err)
	}
	if s.cfg.VacuumOnFinish {
		return s.Optimize()
	}
	return nil
}

// Optimize runs PRAGMA optimize then VACUUM. Finish calls it when
// VacuumOnFinish is set; it can also be called on its own.
func (s *Store) Optimize() error {
	if _, err := s.conn.DB.Exec("PRAGMA optimize"); err != nil {
		return fmt.Errorf("repository: PRAGMA optimize: %w", err)
	}
	if _, err := s.conn.DB.Exec("VACUUM"); err != nil {
		return fmt.Errorf("repository: VACUUM: %w", err)
	}
	return nil
}

func (s *Store) afterEvent() error {
	s.sinceCommit++
	if s.cfg.CommitInterval > 0 && s.sinceCommit >= s.cfg.CommitInterval {
		return s.commitAndBeginNext()
	}
	return nil
}

func (s *Store) commitAndBeginNext() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("repository: committing batch: %w", err)
	}
	tx, err := s.conn.TransactionInit()
	if err != nil {
		return err
	}
	s.tx = tx
	s.sinceCommit = 0
	log.Debug("repository: committed batch, opened next transaction")
	return nil
}

// encodeAddr implements the addr storage quirk: device
// addresses are 8-byte aligned and exceed the signed 63-bit range some
// SQLite builds tolerate, so the stored value is the address divided by
// two. Readers must multiply by two when materialising addr.
func encodeAddr(addr uint64) uint64 { return addr / 2 }

func nullableUint(p *uint64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableUint32(p *uint32) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// InsertEvent persists the immutable top-level Event row and advances
// the batch-commit counter.
func (s *Store) InsertEvent(e schema.Event) error {
	q, args, err := psql.Insert("events").
		Columns("ident", "timestamp", "tid", "kind", "reference").
		Values(e.Ident, e.Timestamp.String(), e.TID, int(e.Kind), e.Reference).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn.TransactionAdd(s.tx, q, args...); err != nil {
		return fmt.Errorf("repository: inserting event %d: %w", e.Ident, err)
	}
	return s.afterEvent()
}

// InsertDataBuffer persists a new buffer row at malloc time. The event
// back-references are not yet known at this point in C5's malloc()
// (the wrapping Event hasn't been written yet), so they are left NULL
// here and filled in later by FlushDataBuffer.
func (s *Store) InsertDataBuffer(b schema.DataBuffer) error {
	metaJSON, err := json.Marshal(b.Meta)
	if err != nil {
		return fmt.Errorf("repository: encoding meta for buffer %d: %w", b.Ident, err)
	}
	q, args, err := psql.Insert("data_buffers").
		Columns("ident", "addr", "size", "stream", "meta", "unknown").
		Values(b.Ident, encodeAddr(b.Addr), b.Size, b.Stream, string(metaJSON), b.Meta.Unknown).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn.TransactionAdd(s.tx, q, args...); err != nil {
		return fmt.Errorf("repository: inserting buffer %d: %w", b.Ident, err)
	}
	return nil
}

// FlushDataBuffer writes back meta and all four event back-references
// for one buffer. The DevMem Manager calls this once per dirty ident at
// finish(), coalescing what would otherwise be many small updates.
func (s *Store) FlushDataBuffer(b schema.DataBuffer) error {
	metaJSON, err := json.Marshal(b.Meta)
	if err != nil {
		return fmt.Errorf("repository: encoding meta for buffer %d: %w", b.Ident, err)
	}
	q, args, err := psql.Update("data_buffers").
		Set("meta", string(metaJSON)).
		Set("unknown", b.Meta.Unknown).
		Set("event_malloc", b.EventMalloc).
		Set("event_free", nullableUint(b.EventFree)).
		Set("event_first_launch", nullableUint(b.EventFirstLaunch)).
		Set("event_last_launch", nullableUint(b.EventLastLaunch)).
		Where(sq.Eq{"ident": b.Ident}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn.TransactionAdd(s.tx, q, args...); err != nil {
		return fmt.Errorf("repository: flushing buffer %d: %w", b.Ident, err)
	}
	return nil
}

// InsertDevMemBufEvent persists the DEVMEM_BUF detail row.
func (s *Store) InsertDevMemBufEvent(d schema.DevMemBufEvent) error {
	q, args, err := psql.Insert("events_devmem_buf").
		Columns("ident", "buffer_ident", "is_allocation").
		Values(d.Ident, d.BufferIdent, d.IsAllocation).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn.TransactionAdd(s.tx, q, args...); err != nil {
		return fmt.Errorf("repository: inserting devmem_buf event %d: %w", d.Ident, err)
	}
	return nil
}

// InsertDevMemSummaryEvent persists the DEVMEM_SUMMARY detail row.
func (s *Store) InsertDevMemSummaryEvent(d schema.DeviceMemoryShortSummaryEvent) error {
	q, args, err := psql.Insert("events_devmem_summary").
		Columns("ident", "used", "workspace", "persistent", "tag").
		Values(d.Ident, d.Used, d.Workspace, d.Persistent, d.Tag).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn.TransactionAdd(s.tx, q, args...); err != nil {
		return fmt.Errorf("repository: inserting devmem_summary event %d: %w", d.Ident, err)
	}
	return nil
}

// InsertLaunch persists a new launch row. event_launch/event_finished
// are filled in afterwards via SetLaunchEventLaunch/SetLaunchEventFinished
// as they become known, matching the order publish_launch actually
// learns them in (§4.7).
func (s *Store) InsertLaunch(l schema.DataRecipeLaunch) error {
	q, args, err := psql.Insert("data_launches").
		Columns("ident", "workspace", "handle", "recipe_name", "meta").
		Values(l.Ident, l.Workspace, l.Handle, l.RecipeName, "{}").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn.TransactionAdd(s.tx, q, args...); err != nil {
		return fmt.Errorf("repository: inserting launch %d: %w", l.Ident, err)
	}
	return nil
}

// InsertLaunchBuffer persists one per-launch tensor view.
func (s *Store) InsertLaunchBuffer(launchIdent uint64, lb schema.LaunchBuffer) error {
	q, args, err := psql.Insert("data_launches_bufs").
		Columns("launch_ident", "buffer_ident", "index_in_launch", "offset", "synapse_name").
		Values(launchIdent, lb.Buffer, lb.Index, lb.Offset, lb.SynapseName).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn.TransactionAdd(s.tx, q, args...); err != nil {
		return fmt.Errorf("repository: inserting launch buffer for launch %d: %w", launchIdent, err)
	}
	return nil
}

// SetLaunchEventLaunch writes back the RECIPE_LAUNCH event's ident once
// it has been assigned.
func (s *Store) SetLaunchEventLaunch(ident, eventIdent uint64) error {
	q, args, err := psql.Update("data_launches").
		Set("event_launch", eventIdent).
		Where(sq.Eq{"ident": ident}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn.TransactionAdd(s.tx, q, args...); err != nil {
		return fmt.Errorf("repository: setting event_launch on launch %d: %w", ident, err)
	}
	return nil
}

// SetLaunchEventFinished writes back the RECIPE_FINISHED event's ident.
func (s *Store) SetLaunchEventFinished(ident, eventIdent uint64) error {
	q, args, err := psql.Update("data_launches").
		Set("event_finished", eventIdent).
		Where(sq.Eq{"ident": ident}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn.TransactionAdd(s.tx, q, args...); err != nil {
		return fmt.Errorf("repository: setting event_finished on launch %d: %w", ident, err)
	}
	return nil
}

// InsertPythonLogEvent persists the flattened PYTHON_LOG detail row.
func (s *Store) InsertPythonLogEvent(p schema.PythonLogEvent) error {
	q, args, err := psql.Insert("events_pythonlog").
		Columns("ident", "command", "message", "funcname", "filename", "lineno", "content", "mark_id").
		Values(p.Ident, p.Command,
			nullableString(p.Message), nullableString(p.Funcname), nullableString(p.Filename),
			nullableUint32(p.Lineno), nullableString(p.Content), nullableUint(p.MarkID)).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.conn.TransactionAdd(s.tx, q, args...); err != nil {
		return fmt.Errorf("repository: inserting pythonlog event %d: %w", p.Ident, err)
	}
	return nil
}
