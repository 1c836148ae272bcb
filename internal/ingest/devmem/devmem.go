// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package devmem implements the DevMem Manager (C5): it owns buffer
// identity, handles malloc/free/summary, synthesizes "unknown" buffers
// on lookup misses, and defers metadata/event-backref writes to a
// single flush at the end of ingest.
package devmem

import (
	"fmt"

	"github.com/hpwieczorek/towldb/internal/ingest/intervalmap"
	"github.com/hpwieczorek/towldb/pkg/log"
	"github.com/hpwieczorek/towldb/pkg/schema"
)

// Store is the subset of the repository Store the manager writes
// through.
type Store interface {
	InsertDataBuffer(schema.DataBuffer) error
	FlushDataBuffer(schema.DataBuffer) error
	InsertDevMemBufEvent(schema.DevMemBufEvent) error
	InsertDevMemSummaryEvent(schema.DeviceMemoryShortSummaryEvent) error
}

// EventWriter is the subset of eventwriter.Writer the manager needs.
type EventWriter interface {
	Write(kind schema.EventKind, reference uint64, ts schema.TimeOfDay, tid uint64) (schema.Event, error)
}

// Manager owns live and historical buffer state. It is not safe for
// concurrent use; the ingest core is single-threaded by design.
type Manager struct {
	store  Store
	writer EventWriter

	intervals *intervalmap.Map[uint64] // addr range -> buffer ident
	live      map[uint64]uint64        // live addr -> buffer ident, O(1) overlay for free()
	all       map[uint64]*schema.DataBuffer
	dirty     map[uint64]struct{} // idents needing a meta/event-backref flush

	nextBufferIdent   uint64
	nextBufEventIdent uint64
	nextSummaryIdent  uint64
}

// New returns an empty Manager.
func New(store Store, writer EventWriter) *Manager {
	return &Manager{
		store:     store,
		writer:    writer,
		intervals: intervalmap.New[uint64](),
		live:      make(map[uint64]uint64),
		all:       make(map[uint64]*schema.DataBuffer),
		dirty:     make(map[uint64]struct{}),
	}
}

// Malloc records a new device-memory allocation.
func (m *Manager) Malloc(ts schema.TimeOfDay, tid, addr, size, stream uint64, unknown bool) (*schema.DataBuffer, error) {
	ident := m.nextBufferIdent
	m.nextBufferIdent++

	buf := &schema.DataBuffer{
		Ident:  ident,
		Addr:   addr,
		Size:   size,
		Stream: stream,
		Meta:   schema.BufferMeta{Unknown: unknown},
	}

	if err := m.store.InsertDataBuffer(*buf); err != nil {
		return nil, fmt.Errorf("devmem: malloc: %w", err)
	}

	detailIdent := m.nextBufEventIdent
	m.nextBufEventIdent++
	if err := m.store.InsertDevMemBufEvent(schema.DevMemBufEvent{
		Ident:        detailIdent,
		BufferIdent:  ident,
		IsAllocation: true,
	}); err != nil {
		return nil, fmt.Errorf("devmem: malloc: recording devmem_buf event: %w", err)
	}
	ev, err := m.writer.Write(schema.DevMemBuf, detailIdent, ts, tid)
	if err != nil {
		return nil, fmt.Errorf("devmem: malloc: %w", err)
	}
	buf.EventMalloc = ev.Ident

	m.intervals.Map(addr, addr+size, ident)
	m.live[addr] = ident
	m.all[ident] = buf
	m.markDirty(ident)

	return buf, nil
}

// Free releases the buffer live at addr, if any. A free of an address
// with no live buffer is a tolerated anomaly (the log is allowed to be
// incomplete at its head): it is logged and otherwise ignored.
func (m *Manager) Free(ts schema.TimeOfDay, tid, addr uint64) error {
	ident, ok := m.live[addr]
	if !ok {
		log.Warnf("devmem: free of address %#x with no live buffer", addr)
		return nil
	}
	buf := m.all[ident]

	m.intervals.Unmap(buf.Addr, buf.Addr+buf.Size)
	delete(m.live, addr)

	detailIdent := m.nextBufEventIdent
	m.nextBufEventIdent++
	if err := m.store.InsertDevMemBufEvent(schema.DevMemBufEvent{
		Ident:        detailIdent,
		BufferIdent:  ident,
		IsAllocation: false,
	}); err != nil {
		return fmt.Errorf("devmem: free: recording devmem_buf event: %w", err)
	}
	ev, err := m.writer.Write(schema.DevMemBuf, detailIdent, ts, tid)
	if err != nil {
		return fmt.Errorf("devmem: free: %w", err)
	}
	eventIdent := ev.Ident
	buf.EventFree = &eventIdent
	m.markDirty(ident)

	return nil
}

// GetBufferByAddr resolves addr through the interval map, synthesizing
// a one-byte "unknown" buffer on miss: this is how references from
// later events to pre-log addresses get resolved.
func (m *Manager) GetBufferByAddr(ts schema.TimeOfDay, addr uint64) (*schema.DataBuffer, error) {
	if ident, ok := m.intervals.Lookup(addr); ok {
		return m.all[ident], nil
	}
	return m.Malloc(ts, 0, addr, 1, 0, true)
}

// RecordStatus persists a point-in-time device memory accounting
// snapshot.
func (m *Manager) RecordStatus(ts schema.TimeOfDay, tid, used, workspace, persistent uint64, tag string) error {
	ident := m.nextSummaryIdent
	m.nextSummaryIdent++
	if err := m.store.InsertDevMemSummaryEvent(schema.DeviceMemoryShortSummaryEvent{
		Ident:      ident,
		Used:       used,
		Workspace:  workspace,
		Persistent: persistent,
		Tag:        tag,
	}); err != nil {
		return fmt.Errorf("devmem: record_status: %w", err)
	}
	if _, err := m.writer.Write(schema.DevMemSummary, ident, ts, tid); err != nil {
		return fmt.Errorf("devmem: record_status: %w", err)
	}
	return nil
}

// Get returns the in-memory buffer for ident, for callers (the Recipe
// Manager, the python-command reactor) that need to mutate its mutable
// fields directly before calling MarkDirty.
func (m *Manager) Get(ident uint64) (*schema.DataBuffer, bool) {
	buf, ok := m.all[ident]
	return buf, ok
}

// MarkDirty flags ident for a deferred meta/event-backref flush at
// Finish. update_buffer_events and update_buffer_meta in the original
// design are both just "mutate the in-memory struct, then call this".
func (m *Manager) MarkDirty(ident uint64) {
	m.markDirty(ident)
}

func (m *Manager) markDirty(ident uint64) {
	m.dirty[ident] = struct{}{}
}

// Finish writes back meta and event back-references for every dirty
// buffer. It must be called exactly once, at the end of ingest.
func (m *Manager) Finish() error {
	for ident := range m.dirty {
		buf, ok := m.all[ident]
		if !ok {
			continue
		}
		if err := m.store.FlushDataBuffer(*buf); err != nil {
			return fmt.Errorf("devmem: finish: flushing buffer %d: %w", ident, err)
		}
	}
	m.dirty = make(map[uint64]struct{})
	return nil
}
