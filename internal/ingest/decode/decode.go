// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package decode dispatches a prefix-stripped log payload by its
// leading token to a typed event record. Each parser is a pure
// function: payload text in, a typed event or "skip" out.
package decode

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which typed event a payload decoded to. Unlike
// schema.EventKind, this tells devmem.malloc from devmem.free (both
// persisted as DEVMEM_BUF events) and also covers recipe.launch.buf,
// which has no persisted Event of its own but still needs a dispatch
// tag on the way out of the decoder.
type Kind int

const (
	DevMemMalloc Kind = iota
	DevMemFree
	DevMemSummary
	RecipeLaunch
	RecipeLaunchBuf
	RecipeFinished
	PythonTowlCmd
)

// DevMemMallocEvent is a newly observed device-memory allocation.
type DevMemMallocEvent struct {
	Addr   uint64
	Size   uint64
	Stream uint64
}

// DevMemFreeEvent is a device-memory release.
type DevMemFreeEvent struct {
	Addr uint64
}

// DevMemSummaryEvent is a point-in-time device memory accounting
// snapshot.
type DevMemSummaryEvent struct {
	Used       uint64
	Workspace  uint64
	Persistent uint64
	Tag        string
}

// RecipeLaunchEvent is the head event of a recipe launch, to be followed
// by NBufs RecipeLaunchBufEvent lines.
type RecipeLaunchEvent struct {
	Workspace uint64
	Handle    uint64
	NBufs     uint64
	Name      string
}

// RecipeLaunchBufEvent is one tensor argument of an in-flight launch.
type RecipeLaunchBufEvent struct {
	Index       uint32
	TID         uint64
	Type        string
	DeviceAddr  uint64
	HandleAddr  uint64
	SynapseName string
}

// RecipeFinishedEvent closes out the oldest pending launch.
type RecipeFinishedEvent struct {
	Handle uint64
}

// PythonTowlCmdEvent is an embedded structured command sent from the
// python side, still JSON-encoded at this stage: the reactor decodes
// Payload according to Command.
type PythonTowlCmdEvent struct {
	Command string
	Payload json.RawMessage
}

// towlCmdEnvelope is the wire shape of `python TOWL-CMD: <json>`.
type towlCmdEnvelope struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

const towlCmdPrefix = "TOWL-CMD: "

// Decode splits payload on the first space into a kind token and the
// remainder, then dispatches. ok is false for unrecognized kind tokens,
// or for "python" payloads that are not TOWL-CMD envelopes: both are
// silent skips, not errors, per the wire format.
func Decode(payload string) (event any, kind Kind, ok bool) {
	kindToken, rest, _ := cut(payload)

	switch kindToken {
	case "devmem.malloc":
		return decodeDevMemMalloc(rest)
	case "devmem.free":
		return decodeDevMemFree(rest)
	case "devmem.summary":
		return decodeDevMemSummary(rest)
	case "recipe.launch":
		return decodeRecipeLaunch(rest)
	case "recipe.launch.buf":
		return decodeRecipeLaunchBuf(rest)
	case "recipe.finished":
		return decodeRecipeFinished(rest)
	case "python":
		return decodePython(rest)
	default:
		return nil, 0, false
	}
}

func decodeDevMemMalloc(rest string) (any, Kind, bool) {
	addrTok, rest, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	addr, ok := parseHex(addrTok)
	if !ok {
		return nil, 0, false
	}
	_, rest, _ = cut(rest) // "size" keyword
	sizeTok, rest, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	size, ok := parseUint(sizeTok)
	if !ok {
		return nil, 0, false
	}
	_, rest, _ = cut(rest) // "stream" keyword
	streamTok, _, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	stream, ok := parseUint(streamTok)
	if !ok {
		return nil, 0, false
	}
	return DevMemMallocEvent{Addr: addr, Size: size, Stream: stream}, DevMemMalloc, true
}

func decodeDevMemFree(rest string) (any, Kind, bool) {
	addrTok, _, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	addr, ok := parseHex(addrTok)
	if !ok {
		return nil, 0, false
	}
	return DevMemFreeEvent{Addr: addr}, DevMemFree, true
}

func decodeDevMemSummary(rest string) (any, Kind, bool) {
	_, rest, _ = cut(rest) // "used"
	usedTok, rest, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	used, ok := parseUint(usedTok)
	if !ok {
		return nil, 0, false
	}
	_, rest, _ = cut(rest) // "workspace"
	wsTok, rest, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	ws, ok := parseUint(wsTok)
	if !ok {
		return nil, 0, false
	}
	_, rest, _ = cut(rest) // "persistent"
	persTok, rest, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	pers, ok := parseUint(persTok)
	if !ok {
		return nil, 0, false
	}
	_, rest, _ = cut(rest) // "tag"
	tag := strings.TrimSpace(rest)
	return DevMemSummaryEvent{Used: used, Workspace: ws, Persistent: pers, Tag: tag}, DevMemSummary, true
}

func decodeRecipeLaunch(rest string) (any, Kind, bool) {
	_, rest, _ = cut(rest) // "ws"
	wsTok, rest, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	ws, ok := parseUint(wsTok)
	if !ok {
		return nil, 0, false
	}
	_, rest, _ = cut(rest) // "handle"
	handleTok, rest, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	handle, ok := parseHex(handleTok)
	if !ok {
		return nil, 0, false
	}
	_, rest, _ = cut(rest) // "nbufs"
	nbufsTok, rest, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	nbufs, ok := parseUint(nbufsTok)
	if !ok {
		return nil, 0, false
	}
	_, rest, _ = cut(rest) // "name"
	name := strings.TrimSpace(rest)
	return RecipeLaunchEvent{Workspace: ws, Handle: handle, NBufs: nbufs, Name: name}, RecipeLaunch, true
}

func decodeRecipeLaunchBuf(rest string) (any, Kind, bool) {
	indexTok, rest, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	index, ok := parseUint(indexTok)
	if !ok {
		return nil, 0, false
	}
	_, rest, _ = cut(rest) // "tid"
	tidTok, rest, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	tid, ok := parseHex(tidTok)
	if !ok {
		return nil, 0, false
	}
	_, rest, _ = cut(rest) // "type"
	typeTok, rest, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	_, rest, _ = cut(rest) // "device_addr"
	devAddrTok, rest, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	devAddr, ok := parseHex(devAddrTok)
	if !ok {
		return nil, 0, false
	}
	_, rest, _ = cut(rest) // "handle_addr"
	handleAddrTok, rest, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	handleAddr, ok := parseHex(handleAddrTok)
	if !ok {
		return nil, 0, false
	}
	_, rest, _ = cut(rest) // "synapse_name"
	synapseName := strings.TrimSpace(rest)
	return RecipeLaunchBufEvent{
		Index:       uint32(index),
		TID:         tid,
		Type:        typeTok,
		DeviceAddr:  devAddr,
		HandleAddr:  handleAddr,
		SynapseName: synapseName,
	}, RecipeLaunchBuf, true
}

func decodeRecipeFinished(rest string) (any, Kind, bool) {
	handleTok, _, ok := cut(rest)
	if !ok {
		return nil, 0, false
	}
	handle, ok := parseHex(handleTok)
	if !ok {
		return nil, 0, false
	}
	return RecipeFinishedEvent{Handle: handle}, RecipeFinished, true
}

func decodePython(rest string) (any, Kind, bool) {
	if !strings.HasPrefix(rest, towlCmdPrefix) {
		return nil, 0, false
	}
	body := strings.TrimPrefix(rest, towlCmdPrefix)
	var env towlCmdEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, 0, false
	}
	return PythonTowlCmdEvent{Command: env.Command, Payload: env.Payload}, PythonTowlCmd, true
}

// cut splits s on its first run of whitespace, trimming the remainder's
// leading space. ok is false if s is empty.
func cut(s string) (token, rest string, ok bool) {
	s = strings.TrimLeft(s, " \t")
	if s == "" {
		return "", "", false
	}
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, "", true
	}
	return s[:i], strings.TrimLeft(s[i+1:], " \t"), true
}

func parseHex(s string) (uint64, bool) {
	v, err := strconv.ParseUint(s, 16, 64)
	return v, err == nil
}

func parseUint(s string) (uint64, bool) {
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}

// String renders the kind for logging.
func (k Kind) String() string {
	switch k {
	case DevMemMalloc:
		return "devmem.malloc"
	case DevMemFree:
		return "devmem.free"
	case DevMemSummary:
		return "devmem.summary"
	case RecipeLaunch:
		return "recipe.launch"
	case RecipeLaunchBuf:
		return "recipe.launch.buf"
	case RecipeFinished:
		return "recipe.finished"
	case PythonTowlCmd:
		return "python"
	default:
		return fmt.Sprintf("decode.Kind(%d)", int(k))
	}
}
