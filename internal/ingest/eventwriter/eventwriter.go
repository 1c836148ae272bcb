// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package eventwriter assigns monotonically increasing Event idents and
// persists one row per observed event (C9). It must be the only
// producer of Event.ident values: every other component that needs an
// Event row goes through a Writer instance, never constructs one
// directly.
package eventwriter

import (
	"fmt"

	"github.com/hpwieczorek/towldb/pkg/schema"
)

// Store is the subset of the repository Store that the event writer
// needs.
type Store interface {
	InsertEvent(schema.Event) error
}

// Writer owns the single counter backing Event.ident.
type Writer struct {
	store Store
	next  uint64
}

// New returns a Writer whose first assigned ident is 0.
func New(store Store) *Writer {
	return &Writer{store: store}
}

// Write assigns the next ident, persists the Event row, and returns the
// fully populated Event so the caller can back-propagate the id into
// whatever domain record it belongs to.
func (w *Writer) Write(kind schema.EventKind, reference uint64, ts schema.TimeOfDay, tid uint64) (schema.Event, error) {
	e := schema.Event{
		Ident:     w.next,
		Kind:      kind,
		Reference: reference,
		Timestamp: ts,
		TID:       tid,
	}
	if err := w.store.InsertEvent(e); err != nil {
		return schema.Event{}, fmt.Errorf("eventwriter: writing event %d: %w", e.Ident, err)
	}
	w.next++
	return e, nil
}
