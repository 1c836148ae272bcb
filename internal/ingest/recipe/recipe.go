// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package recipe implements the Recipe Collector (C6) and Recipe
// Manager (C7): assembling a launch head event plus its per-buffer
// sub-events into one record, and pairing that record with its
// eventual finish event through a FIFO handle queue.
package recipe

import (
	"fmt"

	"github.com/hpwieczorek/towldb/pkg/log"
	"github.com/hpwieczorek/towldb/pkg/schema"
)

// Store is the subset of the repository Store the manager writes
// through.
type Store interface {
	InsertLaunch(schema.DataRecipeLaunch) error
	InsertLaunchBuffer(launchIdent uint64, lb schema.LaunchBuffer) error
	SetLaunchEventLaunch(ident, eventIdent uint64) error
	SetLaunchEventFinished(ident, eventIdent uint64) error
}

// EventWriter is the subset of eventwriter.Writer the manager needs.
type EventWriter interface {
	Write(kind schema.EventKind, reference uint64, ts schema.TimeOfDay, tid uint64) (schema.Event, error)
}

// BufferResolver resolves a buffer's ident from a device address,
// synthesizing an unknown buffer on miss, and marks an ident dirty for
// devmem.Manager's deferred flush.
type BufferResolver interface {
	GetBufferByAddr(ts schema.TimeOfDay, addr uint64) (*schema.DataBuffer, error)
	Get(ident uint64) (*schema.DataBuffer, bool)
	MarkDirty(ident uint64)
}

// LaunchBuf is one recipe.launch.buf line, as handed from the Collector
// to the Manager once a launch's full buffer set has arrived. The
// buffer is resolved and offset computed from HandleAddr, not
// DeviceAddr: the handle address is the one the recipe graph actually
// indexes into.
type LaunchBuf struct {
	Index       uint32
	DeviceAddr  uint64
	HandleAddr  uint64
	SynapseName string
}

// Manager owns launch identity and the FIFO of in-flight launches.
type Manager struct {
	store   Store
	writer  EventWriter
	buffers BufferResolver

	nextLaunchIdent uint64
	pending         []*schema.DataRecipeLaunch
}

// NewManager returns an empty Manager.
func NewManager(store Store, writer EventWriter, buffers BufferResolver) *Manager {
	return &Manager{store: store, writer: writer, buffers: buffers}
}

// PublishLaunch persists a fully assembled launch and its buffer views,
// then links each referenced buffer's first/last-launch back-references.
func (m *Manager) PublishLaunch(ts schema.TimeOfDay, tid, handle, workspace uint64, recipeName string, bufs []LaunchBuf) error {
	ident := m.nextLaunchIdent
	m.nextLaunchIdent++

	launch := &schema.DataRecipeLaunch{
		Ident:      ident,
		Handle:     handle,
		Workspace:  workspace,
		RecipeName: recipeName,
	}

	if err := m.store.InsertLaunch(*launch); err != nil {
		return fmt.Errorf("recipe: publish_launch: %w", err)
	}

	launch.Buffers = make([]schema.LaunchBuffer, 0, len(bufs))
	for _, b := range bufs {
		buf, err := m.buffers.GetBufferByAddr(ts, b.HandleAddr)
		if err != nil {
			return fmt.Errorf("recipe: publish_launch: resolving buffer at %#x: %w", b.HandleAddr, err)
		}
		lb := schema.LaunchBuffer{
			Buffer:      buf.Ident,
			Index:       b.Index,
			Offset:      b.HandleAddr - buf.Addr,
			SynapseName: b.SynapseName,
		}
		if err := m.store.InsertLaunchBuffer(ident, lb); err != nil {
			return fmt.Errorf("recipe: publish_launch: %w", err)
		}
		launch.Buffers = append(launch.Buffers, lb)
	}

	ev, err := m.writer.Write(schema.RecipeLaunch, ident, ts, tid)
	if err != nil {
		return fmt.Errorf("recipe: publish_launch: %w", err)
	}
	launch.EventLaunch = ev.Ident
	if err := m.store.SetLaunchEventLaunch(ident, ev.Ident); err != nil {
		return fmt.Errorf("recipe: publish_launch: %w", err)
	}

	for _, lb := range launch.Buffers {
		if buf, ok := m.buffers.Get(lb.Buffer); ok {
			eventIdent := ev.Ident
			buf.EventLastLaunch = &eventIdent
			if buf.EventFirstLaunch == nil {
				buf.EventFirstLaunch = &eventIdent
			}
			m.buffers.MarkDirty(buf.Ident)
		}
	}

	m.pending = append(m.pending, launch)
	return nil
}

// FinishLaunch pairs a recipe.finished line with the oldest pending
// launch. Per the FIFO invariant this must be the queue head; any other
// pairing is an ordering violation and is logged and dropped rather than
// searched for.
func (m *Manager) FinishLaunch(ts schema.TimeOfDay, tid, handle uint64) error {
	if len(m.pending) == 0 {
		log.Errorf("recipe: finish_launch: no pending launch for handle %#x", handle)
		return nil
	}
	head := m.pending[0]
	if head.Handle != handle {
		log.Errorf("recipe: finish_launch: handle %#x does not match pending head %#x (FIFO order violated), dropping", handle, head.Handle)
		return nil
	}
	m.pending = m.pending[1:]

	ev, err := m.writer.Write(schema.RecipeFinished, head.Ident, ts, tid)
	if err != nil {
		return fmt.Errorf("recipe: finish_launch: %w", err)
	}
	eventIdent := ev.Ident
	head.EventFinished = &eventIdent
	if err := m.store.SetLaunchEventFinished(head.Ident, ev.Ident); err != nil {
		return fmt.Errorf("recipe: finish_launch: %w", err)
	}
	return nil
}

// collectorState is the Collector's two-state machine (C6).
type collectorState int

const (
	stateIdle collectorState = iota
	stateCollecting
)

// pendingLaunch is the Collector's in-flight assembly.
type pendingLaunch struct {
	ts        schema.TimeOfDay
	tid       uint64
	handle    uint64
	workspace uint64
	name      string
	nbufs     uint64
	bufs      []LaunchBuf
}

// Collector assembles one RecipeLaunch head event plus its trailing
// RecipeLaunchBuf events into a single call to Manager.PublishLaunch.
type Collector struct {
	manager  *Manager
	state    collectorState
	inFlight *pendingLaunch
}

// NewCollector returns an idle Collector publishing through manager.
func NewCollector(manager *Manager) *Collector {
	return &Collector{manager: manager, state: stateIdle}
}

// Launch starts (or, with a warning, replaces) an in-flight assembly. A
// zero buffer count publishes immediately with an empty buffer list.
func (c *Collector) Launch(ts schema.TimeOfDay, tid, workspace, handle, nbufs uint64, name string) error {
	if c.state == stateCollecting {
		log.Warnf("recipe: new recipe.launch for handle %#x before previous launch (handle %#x) finished collecting, discarding partial", handle, c.inFlight.handle)
	}
	c.inFlight = &pendingLaunch{
		ts: ts, tid: tid, handle: handle, workspace: workspace, name: name, nbufs: nbufs,
	}
	c.state = stateCollecting
	if nbufs == 0 {
		return c.publish()
	}
	return nil
}

// Buf appends one tensor argument to the in-flight assembly, publishing
// once the declared buffer count is reached.
func (c *Collector) Buf(index uint32, deviceAddr, handleAddr uint64, synapseName string) error {
	if c.state == stateIdle {
		log.Warnf("recipe: recipe.launch.buf with no in-flight launch, dropping")
		return nil
	}
	c.inFlight.bufs = append(c.inFlight.bufs, LaunchBuf{Index: index, DeviceAddr: deviceAddr, HandleAddr: handleAddr, SynapseName: synapseName})
	if uint64(len(c.inFlight.bufs)) >= c.inFlight.nbufs {
		return c.publish()
	}
	return nil
}

func (c *Collector) publish() error {
	p := c.inFlight
	c.inFlight = nil
	c.state = stateIdle
	return c.manager.PublishLaunch(p.ts, p.tid, p.handle, p.workspace, p.name, p.bufs)
}
