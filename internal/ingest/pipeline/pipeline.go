// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pipeline wires the Line Source through prefix parsing,
// decoding and the domain reactors (C1 through C9) into a Store (C10).
// It is the one place that knows the full shape of the ingest core.
package pipeline

import (
	"context"
	"fmt"

	"github.com/hpwieczorek/towldb/internal/ingest/decode"
	"github.com/hpwieczorek/towldb/internal/ingest/devmem"
	"github.com/hpwieczorek/towldb/internal/ingest/eventwriter"
	"github.com/hpwieczorek/towldb/internal/ingest/linesource"
	"github.com/hpwieczorek/towldb/internal/ingest/prefix"
	"github.com/hpwieczorek/towldb/internal/ingest/pyreactor"
	"github.com/hpwieczorek/towldb/internal/ingest/recipe"
	"github.com/hpwieczorek/towldb/pkg/log"
)

// Store is the subset of repository.Store the pipeline's reactors need,
// collected from eventwriter.Store, devmem.Store, recipe.Store and
// pyreactor.Store.
type Store interface {
	eventwriter.Store
	devmem.Store
	recipe.Store
	pyreactor.Store
}

// Stats summarizes one ingest run, returned so the CLI can report
// progress without the pipeline depending on any particular output
// format.
type Stats struct {
	LinesRead    uint64
	LinesSkipped uint64
	BytesRead    uint64
}

// Run drives one full pass over path, writing every decoded event into
// store. It returns on the first fatal error (unopenable input, unknown
// EventKind, unknown python command); interval-map corruption is not
// returned as an error but panics from intervalmap.Lookup. Anything
// the spec tolerates is logged and ingestion continues.
func Run(ctx context.Context, path string, store Store) (Stats, error) {
	src, err := linesource.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("pipeline: opening %q: %w", path, err)
	}
	defer src.Close()

	writer := eventwriter.New(store)
	mem := devmem.New(store, writer)
	recipeMgr := recipe.NewManager(store, writer, mem)
	collector := recipe.NewCollector(recipeMgr)
	reactor := pyreactor.New(store, writer, mem)

	var stats Stats
	for {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("pipeline: cancelled: %w", err)
		}

		line, ok := src.Next()
		if !ok {
			break
		}
		stats.LinesRead++

		parsed, ok := prefix.Parse(line.Text)
		if !ok {
			log.Warnf("pipeline: line %d: no valid time-of-day prefix, skipping", line.LineNumber)
			stats.LinesSkipped++
			continue
		}

		event, kind, ok := decode.Decode(parsed.Payload)
		if !ok {
			stats.LinesSkipped++
			continue
		}

		if err := dispatch(mem, recipeMgr, collector, reactor, parsed, kind, event); err != nil {
			return stats, fmt.Errorf("pipeline: line %d: %w", line.LineNumber, err)
		}
	}
	if err := src.Err(); err != nil {
		return stats, fmt.Errorf("pipeline: reading %q: %w", path, err)
	}
	stats.BytesRead = src.BytesRead()

	if err := mem.Finish(); err != nil {
		return stats, fmt.Errorf("pipeline: %w", err)
	}
	return stats, nil
}

func dispatch(mem *devmem.Manager, recipeMgr *recipe.Manager, collector *recipe.Collector, reactor *pyreactor.Reactor, line prefix.Line, kind decode.Kind, event any) error {
	ts, tid := line.Timestamp, line.TID

	switch kind {
	case decode.DevMemMalloc:
		e := event.(decode.DevMemMallocEvent)
		_, err := mem.Malloc(ts, tid, e.Addr, e.Size, e.Stream, false)
		return err

	case decode.DevMemFree:
		e := event.(decode.DevMemFreeEvent)
		return mem.Free(ts, tid, e.Addr)

	case decode.DevMemSummary:
		e := event.(decode.DevMemSummaryEvent)
		return mem.RecordStatus(ts, tid, e.Used, e.Workspace, e.Persistent, e.Tag)

	case decode.RecipeLaunch:
		e := event.(decode.RecipeLaunchEvent)
		return collector.Launch(ts, tid, e.Workspace, e.Handle, e.NBufs, e.Name)

	case decode.RecipeLaunchBuf:
		e := event.(decode.RecipeLaunchBufEvent)
		return collector.Buf(e.Index, e.DeviceAddr, e.HandleAddr, e.SynapseName)

	case decode.RecipeFinished:
		e := event.(decode.RecipeFinishedEvent)
		return recipeMgr.FinishLaunch(ts, tid, e.Handle)

	case decode.PythonTowlCmd:
		e := event.(decode.PythonTowlCmdEvent)
		return reactor.Dispatch(ts, tid, e)

	default:
		return fmt.Errorf("unknown decoded event kind %d", kind)
	}
}
