// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package prefix splits a TOWL log line into its bracketed
// timestamp/thread prefix and the payload that follows it.
package prefix

import (
	"strconv"
	"strings"

	"github.com/hpwieczorek/towldb/pkg/schema"
)

// Line is a parsed log line: the extracted timestamp and thread id, and
// the remaining payload (everything after the single space that ends
// the bracket-token prefix).
type Line struct {
	Timestamp schema.TimeOfDay
	TID       uint64
	Payload   string
}

// Parse splits text of the form "[HH:MM:SS.ffffff][tid:HEX][...] PAYLOAD"
// into its timestamp, thread id, and payload. ok is false if the leading
// token is not a valid time-of-day; per the wire format, such lines are
// skipped rather than treated as an error.
func Parse(text string) (line Line, ok bool) {
	tokens, rest, found := splitBracketTokens(text)
	if !found || len(tokens) == 0 {
		return Line{}, false
	}

	ts, err := schema.ParseTimeOfDay(tokens[0])
	if err != nil {
		return Line{}, false
	}

	var tid uint64
	for _, tok := range tokens[1:] {
		if after, ok := strings.CutPrefix(tok, "tid:"); ok {
			v, err := strconv.ParseUint(after, 16, 64)
			if err == nil {
				tid = v
			}
			break
		}
	}

	return Line{Timestamp: ts, TID: tid, Payload: rest}, true
}

// splitBracketTokens extracts the contents of each leading "[...]" token
// up to the single space that terminates the prefix, returning the
// remaining text as rest. found is false if the line does not begin with
// "[" at all.
func splitBracketTokens(text string) (tokens []string, rest string, found bool) {
	i := 0
	for i < len(text) && text[i] == '[' {
		close := strings.IndexByte(text[i:], ']')
		if close < 0 {
			return nil, "", false
		}
		tokens = append(tokens, text[i+1:i+close])
		i += close + 1
	}
	if len(tokens) == 0 {
		return nil, "", false
	}
	// A single space separates the prefix from the payload.
	if i < len(text) && text[i] == ' ' {
		i++
	}
	return tokens, text[i:], true
}
