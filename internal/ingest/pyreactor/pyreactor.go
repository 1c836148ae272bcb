// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pyreactor implements the Python-command Reactor (C8): it
// dispatches decoded TOWL-CMD envelopes sent from the python side onto
// the device-memory buffer graph and the PYTHON_LOG detail table.
package pyreactor

import (
	"encoding/json"
	"fmt"

	"github.com/hpwieczorek/towldb/internal/ingest/decode"
	"github.com/hpwieczorek/towldb/pkg/schema"
)

// Store is the subset of the repository Store the reactor writes
// through.
type Store interface {
	InsertPythonLogEvent(schema.PythonLogEvent) error
}

// EventWriter is the subset of eventwriter.Writer the reactor needs.
type EventWriter interface {
	Write(kind schema.EventKind, reference uint64, ts schema.TimeOfDay, tid uint64) (schema.Event, error)
}

// BufferResolver is the subset of devmem.Manager the reactor needs to
// attach stack traces to buffers and resolve frame-log memory maps.
type BufferResolver interface {
	GetBufferByAddr(ts schema.TimeOfDay, addr uint64) (*schema.DataBuffer, error)
	MarkDirty(ident uint64)
}

// Reactor dispatches PythonTowlCmdEvent payloads by command name.
type Reactor struct {
	store   Store
	writer  EventWriter
	buffers BufferResolver

	nextLogIdent uint64
}

// New returns a Reactor.
func New(store Store, writer EventWriter, buffers BufferResolver) *Reactor {
	return &Reactor{store: store, writer: writer, buffers: buffers}
}

// attachAllocationPointPayload is the payload shape of
// "attach-allocation-point".
type attachAllocationPointPayload struct {
	Addr   uint64             `json:"addr"`
	Frames []schema.FrameInfo `json:"frames"`
}

// frameRef is the single-frame location embedded in script-log and
// mark-code-* payloads.
type frameRef struct {
	Funcname string `json:"funcname"`
	Filename string `json:"filename"`
	Line     uint32 `json:"line"`
}

// simpleLogPayload covers "script-log", "mark-code-enter" and
// "mark-code-exit".
type simpleLogPayload struct {
	Message string    `json:"message"`
	Frame   *frameRef `json:"frame"`
	MarkID  *uint64   `json:"mark_id"`
}

// capturedFrame is one entry of a "frame-log" stack snapshot. Memory
// maps a python-side variable name to a device address on the wire, and
// is rewritten in place to map to a buffer ident before encoding.
type capturedFrame struct {
	Funcname string            `json:"funcname"`
	Filename string            `json:"filename"`
	Line     uint32            `json:"line"`
	Memory   map[string]uint64 `json:"memory"`
}

// frameLogPayload carries the same top-level message/frame location as
// simpleLogPayload, plus the captured stack snapshot.
type frameLogPayload struct {
	Message string          `json:"message"`
	Frame   *frameRef       `json:"frame"`
	Frames  []capturedFrame `json:"frames"`
}

// Dispatch handles one decoded TOWL-CMD envelope. An unrecognized
// command is a fatal error: the wire protocol is closed, and silently
// ignoring an unknown command would hide a format the reactor doesn't
// know how to interpret.
func (r *Reactor) Dispatch(ts schema.TimeOfDay, tid uint64, cmd decode.PythonTowlCmdEvent) error {
	switch cmd.Command {
	case "attach-allocation-point":
		return r.attachAllocationPoint(ts, cmd.Payload)
	case "script-log", "mark-code-enter", "mark-code-exit":
		return r.simpleLog(ts, tid, cmd.Command, cmd.Payload)
	case "frame-log":
		return r.frameLog(ts, tid, cmd.Payload)
	default:
		return fmt.Errorf("pyreactor: unknown command %q", cmd.Command)
	}
}

func (r *Reactor) attachAllocationPoint(ts schema.TimeOfDay, raw json.RawMessage) error {
	var p attachAllocationPointPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("pyreactor: attach-allocation-point: %w", err)
	}
	buf, err := r.buffers.GetBufferByAddr(ts, p.Addr)
	if err != nil {
		return fmt.Errorf("pyreactor: attach-allocation-point: %w", err)
	}
	buf.Meta.AllocFrames = append(buf.Meta.AllocFrames, p.Frames)
	r.buffers.MarkDirty(buf.Ident)
	return nil
}

func (r *Reactor) simpleLog(ts schema.TimeOfDay, tid uint64, command string, raw json.RawMessage) error {
	var p simpleLogPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("pyreactor: %s: %w", command, err)
	}

	entry := schema.PythonLogEvent{
		Ident:   r.nextLogIdent,
		Command: command,
		Message: orNilString(p.Message),
		MarkID:  p.MarkID,
	}
	if p.Frame != nil {
		entry.Funcname = &p.Frame.Funcname
		entry.Filename = &p.Frame.Filename
		entry.Lineno = &p.Frame.Line
	}
	return r.persist(ts, tid, entry)
}

func (r *Reactor) frameLog(ts schema.TimeOfDay, tid uint64, raw json.RawMessage) error {
	var p frameLogPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("pyreactor: frame-log: %w", err)
	}

	for i := range p.Frames {
		resolved := make(map[string]uint64, len(p.Frames[i].Memory))
		for name, addr := range p.Frames[i].Memory {
			buf, err := r.buffers.GetBufferByAddr(ts, addr)
			if err != nil {
				return fmt.Errorf("pyreactor: frame-log: resolving %q: %w", name, err)
			}
			resolved[name] = buf.Ident
		}
		p.Frames[i].Memory = resolved
	}

	content, err := json.Marshal(p.Frames)
	if err != nil {
		return fmt.Errorf("pyreactor: frame-log: encoding snapshot: %w", err)
	}
	contentStr := string(content)

	entry := schema.PythonLogEvent{
		Ident:   r.nextLogIdent,
		Command: "frame-log",
		Message: orNilString(p.Message),
		Content: &contentStr,
	}
	if p.Frame != nil {
		entry.Funcname = &p.Frame.Funcname
		entry.Filename = &p.Frame.Filename
		entry.Lineno = &p.Frame.Line
	}
	return r.persist(ts, tid, entry)
}

func (r *Reactor) persist(ts schema.TimeOfDay, tid uint64, entry schema.PythonLogEvent) error {
	r.nextLogIdent++
	if err := r.store.InsertPythonLogEvent(entry); err != nil {
		return fmt.Errorf("pyreactor: %w", err)
	}
	if _, err := r.writer.Write(schema.PythonLog, entry.Ident, ts, tid); err != nil {
		return fmt.Errorf("pyreactor: %w", err)
	}
	return nil
}

func orNilString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
