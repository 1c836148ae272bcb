// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema defines the relational data model reconstructed by the
// ingest pipeline: events, device-memory buffers and recipe launches, as
// observed in a TOWL instrumentation log.
package schema

// EventKind is the closed enumeration of observable event types. Its
// integer encoding is a wire-format commitment: these values are what the
// store persists in events.kind and what downstream readers switch on.
type EventKind int

const (
	DevMemBuf EventKind = iota
	DevMemSummary
	RecipeLaunch
	RecipeFinished
	PythonLog
)

// eventKindNames backs String(). The event_kind table's seed rows are
// written as literal SQL in the migration and carry the same names.
var eventKindNames = [...]string{
	DevMemBuf:      "DEVMEM_BUF",
	DevMemSummary:  "DEVMEM_SUMMARY",
	RecipeLaunch:   "RECIPE_LAUNCH",
	RecipeFinished: "RECIPE_FINISHED",
	PythonLog:      "PYTHON_LOG",
}

func (k EventKind) String() string {
	if int(k) < 0 || int(k) >= len(eventKindNames) {
		return "UNKNOWN"
	}
	return eventKindNames[k]
}

// EventKinds returns every closed-enum value in ident order.
func EventKinds() []EventKind {
	kinds := make([]EventKind, len(eventKindNames))
	for i := range eventKindNames {
		kinds[i] = EventKind(i)
	}
	return kinds
}

// Event is the immutable top-level row: one per observed log line that
// decoded to something. Ident is assigned once, monotonically, at write
// time by the Event Writer and is never reused or mutated afterwards.
type Event struct {
	Ident     uint64
	Kind      EventKind
	Reference uint64
	Timestamp TimeOfDay
	TID       uint64
}

// DataBuffer is a device-memory allocation tracked across its lifetime.
// EventFree/EventFirstLaunch/EventLastLaunch start unset and are filled in
// as the buffer is referenced by later events; EventMalloc is set once at
// construction and never cleared.
type DataBuffer struct {
	Ident            uint64
	Addr             uint64
	Size             uint64
	Stream           uint64
	Meta             BufferMeta
	EventMalloc      uint64
	EventFree        *uint64
	EventFirstLaunch *uint64
	EventLastLaunch  *uint64
}

// BufferMeta holds the parts of a DataBuffer that accumulate after
// creation: whether it was synthesized from an unresolved lookup, and the
// stack traces attached to it post-hoc by python-command events.
type BufferMeta struct {
	Unknown     bool
	AllocFrames [][]FrameInfo
}

// FrameInfo is one stack frame, immutable once captured.
type FrameInfo struct {
	Filename string `json:"filename"`
	Funcname string `json:"funcname"`
	Line     uint32 `json:"line"`
}

// DevMemBufEvent is the detail row for a DEVMEM_BUF event: which buffer,
// and whether this is the malloc or the free side of its lifetime.
type DevMemBufEvent struct {
	Ident        uint64
	BufferIdent  uint64
	IsAllocation bool
}

// DeviceMemoryShortSummaryEvent is the detail row for a DEVMEM_SUMMARY
// event: a point-in-time device memory accounting snapshot.
type DeviceMemoryShortSummaryEvent struct {
	Ident      uint64
	Used       uint64
	Workspace  uint64
	Persistent uint64
	Tag        string
}

// DataRecipeLaunch is one assembled recipe-graph launch, from the
// RecipeLaunch event through its (optional) RecipeFinished pairing.
type DataRecipeLaunch struct {
	Ident         uint64
	Handle        uint64
	Workspace     uint64
	RecipeName    string
	Buffers       []LaunchBuffer
	EventLaunch   uint64
	EventFinished *uint64
}

// LaunchBuffer is one tensor's view into a launch: which buffer backs it
// and the byte offset into that buffer.
type LaunchBuffer struct {
	Buffer      uint64
	Index       uint32
	Offset      uint64
	SynapseName string
}

// PythonLogEvent is the detail row for a PYTHON_LOG event: one flattened
// record per structured python-side command (script-log, mark-code-*,
// frame-log).
type PythonLogEvent struct {
	Ident    uint64
	Command  string
	Message  *string
	Funcname *string
	Filename *string
	Lineno   *uint32
	Content  *string
	MarkID   *uint64
}
