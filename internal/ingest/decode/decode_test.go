// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package decode

import (
	"fmt"
	"testing"
)

func TestDecodeDevMemMalloc(t *testing.T) {
	ev, kind, ok := Decode("devmem.malloc ff00 size 1024 stream 0")
	if !ok || kind != DevMemMalloc {
		t.Fatalf("expected DevMemMalloc, got kind=%v ok=%v", kind, ok)
	}
	m := ev.(DevMemMallocEvent)
	if m.Addr != 0xff00 || m.Size != 1024 || m.Stream != 0 {
		t.Errorf("unexpected fields: %+v", m)
	}
}

func TestDecodeDevMemMallocRoundTrip(t *testing.T) {
	want := "devmem.malloc ff00 size 1024 stream 3"
	ev, _, ok := Decode(want)
	if !ok {
		t.Fatalf("expected ok")
	}
	m := ev.(DevMemMallocEvent)
	got := fmt.Sprintf("devmem.malloc %x size %d stream %d", m.Addr, m.Size, m.Stream)
	if got != want {
		t.Errorf("round-trip mismatch: want %q got %q", want, got)
	}
}

func TestDecodeDevMemFree(t *testing.T) {
	ev, kind, ok := Decode("devmem.free dead")
	if !ok || kind != DevMemFree {
		t.Fatalf("expected DevMemFree, got kind=%v ok=%v", kind, ok)
	}
	if ev.(DevMemFreeEvent).Addr != 0xdead {
		t.Errorf("unexpected addr: %+v", ev)
	}
}

func TestDecodeDevMemSummary(t *testing.T) {
	ev, kind, ok := Decode("devmem.summary used 100 workspace 50 persistent 20 tag some tag with spaces")
	if !ok || kind != DevMemSummary {
		t.Fatalf("expected DevMemSummary, got kind=%v ok=%v", kind, ok)
	}
	s := ev.(DevMemSummaryEvent)
	if s.Used != 100 || s.Workspace != 50 || s.Persistent != 20 || s.Tag != "some tag with spaces" {
		t.Errorf("unexpected fields: %+v", s)
	}
}

func TestDecodeRecipeLaunch(t *testing.T) {
	ev, kind, ok := Decode("recipe.launch ws 16 handle aa nbufs 2 name R")
	if !ok || kind != RecipeLaunch {
		t.Fatalf("expected RecipeLaunch, got kind=%v ok=%v", kind, ok)
	}
	l := ev.(RecipeLaunchEvent)
	if l.Workspace != 16 || l.Handle != 0xaa || l.NBufs != 2 || l.Name != "R" {
		t.Errorf("unexpected fields: %+v", l)
	}
}

func TestDecodeRecipeLaunchZeroBufs(t *testing.T) {
	ev, _, ok := Decode("recipe.launch ws 0 handle 1 nbufs 0 name empty")
	if !ok {
		t.Fatalf("expected ok")
	}
	if ev.(RecipeLaunchEvent).NBufs != 0 {
		t.Errorf("expected nbufs=0")
	}
}

func TestDecodeRecipeLaunchBuf(t *testing.T) {
	ev, kind, ok := Decode("recipe.launch.buf 0 tid 1 type input device_addr 1000 handle_addr 2000 synapse_name input_0")
	if !ok || kind != RecipeLaunchBuf {
		t.Fatalf("expected RecipeLaunchBuf, got kind=%v ok=%v", kind, ok)
	}
	b := ev.(RecipeLaunchBufEvent)
	if b.Index != 0 || b.TID != 1 || b.Type != "input" || b.DeviceAddr != 0x1000 || b.HandleAddr != 0x2000 || b.SynapseName != "input_0" {
		t.Errorf("unexpected fields: %+v", b)
	}
}

func TestDecodeRecipeFinished(t *testing.T) {
	ev, kind, ok := Decode("recipe.finished aa")
	if !ok || kind != RecipeFinished {
		t.Fatalf("expected RecipeFinished, got kind=%v ok=%v", kind, ok)
	}
	if ev.(RecipeFinishedEvent).Handle != 0xaa {
		t.Errorf("unexpected handle: %+v", ev)
	}
}

func TestDecodePythonTowlCmd(t *testing.T) {
	ev, kind, ok := Decode(`python TOWL-CMD: {"command":"script-log","payload":{"message":"hi"}}`)
	if !ok || kind != PythonTowlCmd {
		t.Fatalf("expected PythonTowlCmd, got kind=%v ok=%v", kind, ok)
	}
	p := ev.(PythonTowlCmdEvent)
	if p.Command != "script-log" {
		t.Errorf("unexpected command: %q", p.Command)
	}
}

func TestDecodePythonNonCmdDiscarded(t *testing.T) {
	if _, _, ok := Decode("python some free-form debug text"); ok {
		t.Errorf("expected ok=false for non-TOWL-CMD python payload")
	}
}

func TestDecodeUnknownKindSkipped(t *testing.T) {
	if _, _, ok := Decode("totally.unknown.kind foo bar"); ok {
		t.Errorf("expected ok=false for unknown kind token")
	}
}
