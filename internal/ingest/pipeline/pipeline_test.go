// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package pipeline_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/hpwieczorek/towldb/internal/ingest/pipeline"
	"github.com/hpwieczorek/towldb/internal/repository"
)

// runLog writes lines to a temp log file, runs the pipeline against a
// fresh store, and returns a read-only connection to the resulting
// towl.db for assertions plus the run's stats.
func runLog(t *testing.T, lines ...string) (*sql.DB, pipeline.Stats) {
	t.Helper()

	logPath := filepath.Join(t.TempDir(), "input.log")
	writeLines(t, logPath, lines)

	store, err := repository.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err, "repository.Create")

	stats, runErr := pipeline.Run(context.Background(), logPath, store)
	require.NoError(t, runErr, "pipeline.Run")
	require.NoError(t, store.Finish(), "store.Finish")

	dbPath := filepath.Join(store.Dir(), "towl.db")
	require.NoError(t, store.Close(), "store.Close")

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err, "reopening towl.db")
	t.Cleanup(func() { db.Close() })

	return db, stats
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}

// S1: a single buffer round trip through malloc and free.
func TestS1SingleBufferRoundTrip(t *testing.T) {
	db, _ := runLog(t,
		`[00:00:00.000001][tid:1] devmem.malloc 1000 size 256 stream 0`,
		`[00:00:00.000002][tid:1] devmem.free 1000`,
	)

	require.Equal(t, 2, countRows(t, db, `SELECT COUNT(*) FROM events`))
	require.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM data_buffers`))

	var mallocEvent, freeEvent sql.NullInt64
	require.NoError(t, db.QueryRow(`SELECT event_malloc, event_free FROM data_buffers`).
		Scan(&mallocEvent, &freeEvent))
	require.True(t, mallocEvent.Valid && freeEvent.Valid)
	require.Equal(t, int64(0), mallocEvent.Int64)
	require.Equal(t, int64(1), freeEvent.Int64)
}

// S2: freeing an address that was never allocated is a tolerated
// anomaly, not a fatal error, and produces no rows.
func TestS2UnknownAddressFreeIsTolerated(t *testing.T) {
	db, _ := runLog(t,
		`[00:00:00.000001][tid:1] devmem.free 9999`,
	)

	require.Equal(t, 0, countRows(t, db, `SELECT COUNT(*) FROM events`))
	require.Equal(t, 0, countRows(t, db, `SELECT COUNT(*) FROM data_buffers`))
}

// S3: a two-buffer launch paired with its finish, FIFO.
func TestS3LaunchFinishPairing(t *testing.T) {
	db, _ := runLog(t,
		`[00:00:00.000001][tid:1] devmem.malloc 1000 size 64 stream 0`,
		`[00:00:00.000002][tid:1] devmem.malloc 2000 size 64 stream 0`,
		`[00:00:00.000003][tid:1] recipe.launch ws 0 handle aa nbufs 2 name conv2d`,
		`[00:00:00.000004][tid:1] recipe.launch.buf 0 tid 1 type input device_addr 9000 handle_addr 1000 synapse_name x`,
		`[00:00:00.000005][tid:1] recipe.launch.buf 1 tid 1 type output device_addr 9000 handle_addr 2000 synapse_name y`,
		`[00:00:00.000006][tid:1] recipe.finished aa`,
	)

	require.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM data_launches`))
	require.Equal(t, 2, countRows(t, db, `SELECT COUNT(*) FROM data_launches_bufs`))
	require.Equal(t, 2, countRows(t, db, `SELECT COUNT(*) FROM data_buffers`),
		"buffers must resolve by handle_addr against the two mallocs, not synthesize new ones from device_addr")

	var launchEvent, finishEvent int64
	require.NoError(t, db.QueryRow(`SELECT event_launch, event_finished FROM data_launches`).
		Scan(&launchEvent, &finishEvent))
	require.Less(t, launchEvent, finishEvent)

	rows, err := db.Query(`SELECT event_first_launch, event_last_launch FROM data_buffers ORDER BY addr`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var first, last int64
		require.NoError(t, rows.Scan(&first, &last))
		require.Equal(t, first, last)
		require.Equal(t, launchEvent, first)
	}
	require.NoError(t, rows.Err())
}

// S4: a finish whose handle does not match the oldest pending launch is
// dropped without touching the queue; the launch is left unfinished.
func TestS4OutOfOrderFinishIsDropped(t *testing.T) {
	db, _ := runLog(t,
		`[00:00:00.000001][tid:1] recipe.launch ws 0 handle aa nbufs 0 name first`,
		`[00:00:00.000002][tid:1] recipe.finished bb`,
	)

	require.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM data_launches`))

	var finished sql.NullInt64
	require.NoError(t, db.QueryRow(`SELECT event_finished FROM data_launches`).Scan(&finished))
	require.False(t, finished.Valid)
}

// S5: a python attach-allocation-point addressing the middle of a live
// buffer resolves to that buffer rather than synthesizing a new one.
func TestS5MidRegionAddressLookupAttachesFrames(t *testing.T) {
	db, _ := runLog(t,
		`[00:00:00.000001][tid:1] devmem.malloc 1000 size 256 stream 0`,
		`[00:00:00.000002][tid:1] python TOWL-CMD: {"command":"attach-allocation-point","payload":{"addr":4192,"frames":[{"filename":"a.py","funcname":"f","line":10}]}}`,
	)

	require.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM data_buffers`))
	var meta string
	require.NoError(t, db.QueryRow(`SELECT meta FROM data_buffers`).Scan(&meta))
	require.Contains(t, meta, "a.py")
}

// S6: a python command addressing a never-allocated address synthesizes
// a fresh one-byte unknown buffer.
func TestS6SynthesizesUnknownBuffer(t *testing.T) {
	db, _ := runLog(t,
		`[00:00:00.000001][tid:1] python TOWL-CMD: {"command":"attach-allocation-point","payload":{"addr":8192,"frames":[{"filename":"b.py","funcname":"g","line":1}]}}`,
	)

	require.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM data_buffers`))
	var size int64
	var unknown bool
	require.NoError(t, db.QueryRow(`SELECT size, unknown FROM data_buffers`).Scan(&size, &unknown))
	require.Equal(t, int64(1), size)
	require.True(t, unknown)
}

// Universal invariant: every events row has exactly one matching detail
// row in its kind's table.
func TestInvariantEventDetailOneToOne(t *testing.T) {
	db, _ := runLog(t,
		`[00:00:00.000001][tid:1] devmem.malloc 1000 size 64 stream 0`,
		`[00:00:00.000002][tid:1] devmem.summary used 64 workspace 0 persistent 0 tag step`,
	)

	require.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM events_devmem_buf`))
	require.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM events_devmem_summary`))
	require.Equal(t, 2, countRows(t, db, `SELECT COUNT(*) FROM events`))
}

// Universal invariant: Event.ident is dense and monotone from 0.
func TestInvariantEventIdentIsDenseAndMonotone(t *testing.T) {
	db, _ := runLog(t,
		`[00:00:00.000001][tid:1] devmem.malloc 1000 size 64 stream 0`,
		`[00:00:00.000002][tid:1] devmem.malloc 2000 size 64 stream 0`,
		`[00:00:00.000003][tid:1] devmem.free 1000`,
	)

	rows, err := db.Query(`SELECT ident FROM events ORDER BY ident`)
	require.NoError(t, err)
	defer rows.Close()
	var idents []int64
	for rows.Next() {
		var ident int64
		require.NoError(t, rows.Scan(&ident))
		idents = append(idents, ident)
	}
	require.NoError(t, rows.Err())
	for i, ident := range idents {
		require.Equal(t, int64(i), ident)
	}
}

// Boundary case: a malformed line with no recognizable time-of-day
// prefix is skipped, not treated as fatal.
func TestBoundaryUnparseablePrefixIsSkipped(t *testing.T) {
	db, stats := runLog(t,
		`not a log line at all`,
		`[00:00:00.000001][tid:1] devmem.malloc 1000 size 64 stream 0`,
	)

	require.Equal(t, 1, countRows(t, db, `SELECT COUNT(*) FROM events`))
	require.Equal(t, uint64(1), stats.LinesSkipped)
	require.Equal(t, uint64(2), stats.LinesRead)
}

// Boundary case: an unrecognized kind token is skipped, not fatal.
func TestBoundaryUnknownKindTokenIsSkipped(t *testing.T) {
	db, stats := runLog(t,
		`[00:00:00.000001][tid:1] devmem.reticulate 1000`,
	)

	require.Equal(t, 0, countRows(t, db, `SELECT COUNT(*) FROM events`))
	require.Equal(t, uint64(1), stats.LinesSkipped)
}

// Round trip: a recipe launch's buffer offset is the handle address
// minus the resolved buffer's base address, not the device address
// (which here points at an unrelated region and must be ignored).
func TestRoundTripLaunchBufferOffset(t *testing.T) {
	db, _ := runLog(t,
		`[00:00:00.000001][tid:1] devmem.malloc 1000 size 256 stream 0`,
		`[00:00:00.000002][tid:1] recipe.launch ws 0 handle aa nbufs 1 name conv2d`,
		`[00:00:00.000003][tid:1] recipe.launch.buf 0 tid 1 type input device_addr 9000 handle_addr 1010 synapse_name x`,
	)

	var offset int64
	require.NoError(t, db.QueryRow(`SELECT offset FROM data_launches_bufs`).Scan(&offset))
	require.Equal(t, int64(0x10), offset)
}

// Fatal error: an unknown python command aborts the run instead of
// being silently dropped.
func TestUnknownPythonCommandIsFatal(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "input.log")
	writeLines(t, logPath, []string{
		`[00:00:00.000001][tid:1] python TOWL-CMD: {"command":"not-a-real-command","payload":{}}`,
	})

	store, err := repository.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer store.Discard()

	_, runErr := pipeline.Run(context.Background(), logPath, store)
	require.Error(t, runErr)
}
