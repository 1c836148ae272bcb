// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package prefix

import "testing"

func TestParseBasic(t *testing.T) {
	line, ok := Parse("[00:00:00.000100][tid:1a] devmem.malloc ff00 size 1024 stream 0")
	if !ok {
		t.Fatalf("expected ok")
	}
	if line.TID != 0x1a {
		t.Errorf("expected tid 0x1a, got %x", line.TID)
	}
	if line.Payload != "devmem.malloc ff00 size 1024 stream 0" {
		t.Errorf("unexpected payload: %q", line.Payload)
	}
	if got := line.Timestamp.String(); got != "00:00:00.000100" {
		t.Errorf("unexpected timestamp: %q", got)
	}
}

func TestParseIgnoresExtraTokens(t *testing.T) {
	line, ok := Parse("[00:00:00.000000][pid:99][tid:2][extra] devmem.free ff00")
	if !ok {
		t.Fatalf("expected ok")
	}
	if line.TID != 2 {
		t.Errorf("expected tid 2, got %d", line.TID)
	}
}

func TestParseNoLeadingTime(t *testing.T) {
	if _, ok := Parse("not a log line at all"); ok {
		t.Errorf("expected ok=false for line without a time prefix")
	}
}

func TestParseInvalidTime(t *testing.T) {
	if _, ok := Parse("[not-a-time][tid:1] foo"); ok {
		t.Errorf("expected ok=false for malformed time token")
	}
}

func TestParseMissingTID(t *testing.T) {
	line, ok := Parse("[00:00:00.000000] devmem.free ff00")
	if !ok {
		t.Fatalf("expected ok")
	}
	if line.TID != 0 {
		t.Errorf("expected tid to default to 0, got %d", line.TID)
	}
}
