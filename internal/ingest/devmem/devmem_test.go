// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package devmem

import (
	"testing"

	"github.com/hpwieczorek/towldb/pkg/schema"
)

type fakeStore struct {
	buffers   []schema.DataBuffer
	flushes   []schema.DataBuffer
	bufEvents []schema.DevMemBufEvent
	summaries []schema.DeviceMemoryShortSummaryEvent
}

func (f *fakeStore) InsertDataBuffer(b schema.DataBuffer) error {
	f.buffers = append(f.buffers, b)
	return nil
}

func (f *fakeStore) FlushDataBuffer(b schema.DataBuffer) error {
	f.flushes = append(f.flushes, b)
	return nil
}

func (f *fakeStore) InsertDevMemBufEvent(d schema.DevMemBufEvent) error {
	f.bufEvents = append(f.bufEvents, d)
	return nil
}

func (f *fakeStore) InsertDevMemSummaryEvent(d schema.DeviceMemoryShortSummaryEvent) error {
	f.summaries = append(f.summaries, d)
	return nil
}

type fakeWriter struct {
	next uint64
}

func (f *fakeWriter) Write(kind schema.EventKind, reference uint64, ts schema.TimeOfDay, tid uint64) (schema.Event, error) {
	e := schema.Event{Ident: f.next, Kind: kind, Reference: reference, Timestamp: ts, TID: tid}
	f.next++
	return e, nil
}

func mustTime(t *testing.T) schema.TimeOfDay {
	t.Helper()
	ts, err := schema.ParseTimeOfDay("00:00:00.000000")
	if err != nil {
		t.Fatalf("parsing fixture timestamp: %v", err)
	}
	return ts
}

func TestMallocAssignsIdentAndEventBackref(t *testing.T) {
	store := &fakeStore{}
	m := New(store, &fakeWriter{})
	ts := mustTime(t)

	buf, err := m.Malloc(ts, 1, 0xff00, 1024, 0, false)
	if err != nil {
		t.Fatalf("malloc: %v", err)
	}
	if buf.Ident != 0 {
		t.Errorf("expected first buffer ident 0, got %d", buf.Ident)
	}
	if buf.EventMalloc != 0 {
		t.Errorf("expected event_malloc 0, got %d", buf.EventMalloc)
	}
	if len(store.buffers) != 1 || len(store.bufEvents) != 1 {
		t.Fatalf("expected one insert each, got buffers=%d bufEvents=%d", len(store.buffers), len(store.bufEvents))
	}
}

func TestFreeUnknownAddressIsTolerated(t *testing.T) {
	store := &fakeStore{}
	m := New(store, &fakeWriter{})
	ts := mustTime(t)

	if err := m.Free(ts, 1, 0xdead); err != nil {
		t.Fatalf("expected no error freeing unknown address, got %v", err)
	}
}

func TestFreeClearsLiveLookup(t *testing.T) {
	store := &fakeStore{}
	m := New(store, &fakeWriter{})
	ts := mustTime(t)

	buf, err := m.Malloc(ts, 1, 0x1000, 16, 0, false)
	if err != nil {
		t.Fatalf("malloc: %v", err)
	}
	if err := m.Free(ts, 1, 0x1000); err != nil {
		t.Fatalf("free: %v", err)
	}

	got, err := m.GetBufferByAddr(ts, 0x1000)
	if err != nil {
		t.Fatalf("get after free: %v", err)
	}
	if got.Ident == buf.Ident {
		t.Errorf("expected a freshly synthesized buffer after free, got the same ident %d", got.Ident)
	}
	if !got.Meta.Unknown {
		t.Errorf("expected synthesized buffer to be marked unknown")
	}
}

func TestGetBufferByAddrSynthesizesUnknownOnMiss(t *testing.T) {
	store := &fakeStore{}
	m := New(store, &fakeWriter{})
	ts := mustTime(t)

	buf, err := m.GetBufferByAddr(ts, 0xabc0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !buf.Meta.Unknown {
		t.Errorf("expected synthesized buffer to be marked unknown")
	}
	if buf.Size != 1 {
		t.Errorf("expected synthesized buffer size 1, got %d", buf.Size)
	}
	if buf.Stream != 0 {
		t.Errorf("expected synthesized buffer stream 0, got %d", buf.Stream)
	}
}

func TestGetBufferByAddrResolvesLiveAllocation(t *testing.T) {
	store := &fakeStore{}
	m := New(store, &fakeWriter{})
	ts := mustTime(t)

	want, err := m.Malloc(ts, 1, 0x2000, 64, 0, false)
	if err != nil {
		t.Fatalf("malloc: %v", err)
	}

	got, err := m.GetBufferByAddr(ts, 0x2020)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Ident != want.Ident {
		t.Errorf("expected lookup inside the buffer range to resolve to ident %d, got %d", want.Ident, got.Ident)
	}
}

func TestFinishFlushesEachDirtyIdentOnce(t *testing.T) {
	store := &fakeStore{}
	m := New(store, &fakeWriter{})
	ts := mustTime(t)

	buf, err := m.Malloc(ts, 1, 0x3000, 8, 0, false)
	if err != nil {
		t.Fatalf("malloc: %v", err)
	}
	m.MarkDirty(buf.Ident)
	m.MarkDirty(buf.Ident)

	if err := m.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if len(store.flushes) != 1 {
		t.Fatalf("expected exactly one flush, got %d", len(store.flushes))
	}

	if err := m.Finish(); err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if len(store.flushes) != 1 {
		t.Errorf("expected no additional flush on a second call with nothing dirty, got %d total", len(store.flushes))
	}
}

func TestRecordStatusPersistsSummary(t *testing.T) {
	store := &fakeStore{}
	m := New(store, &fakeWriter{})
	ts := mustTime(t)

	if err := m.RecordStatus(ts, 1, 1024, 512, 256, "ckpt"); err != nil {
		t.Fatalf("record_status: %v", err)
	}
	if len(store.summaries) != 1 {
		t.Fatalf("expected one summary row, got %d", len(store.summaries))
	}
	if store.summaries[0].Tag != "ckpt" {
		t.Errorf("expected tag ckpt, got %q", store.summaries[0].Tag)
	}
}
