// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package intervalmap is a set of non-overlapping half-open intervals
// keyed by a uint64 address range, each carrying an associated value.
// The pack has no interval-tree library; at the batch scale this ingest
// runs at (one run, one pass, no concurrent mutation) a sorted slice
// with binary search is the simpler structure and avoids reaching for a
// balanced-tree implementation the corpus doesn't otherwise need.
package intervalmap

import (
	"fmt"
	"sort"
)

type interval[T any] struct {
	begin, end uint64
	value      T
}

// Map holds non-overlapping [begin, end) intervals sorted by begin.
type Map[T any] struct {
	intervals []interval[T]
}

// New returns an empty interval map.
func New[T any]() *Map[T] {
	return &Map[T]{}
}

// Map inserts [begin, end) with value, first removing (splitting, if
// necessary) any portion of existing intervals that overlaps it. After
// this call, no two stored intervals overlap.
func (m *Map[T]) Map(begin, end uint64, value T) {
	m.Unmap(begin, end)

	i := sort.Search(len(m.intervals), func(i int) bool {
		return m.intervals[i].begin >= begin
	})
	m.intervals = append(m.intervals, interval[T]{})
	copy(m.intervals[i+1:], m.intervals[i:])
	m.intervals[i] = interval[T]{begin: begin, end: end, value: value}
}

// Unmap excises [begin, end) from the covered region, splitting any
// interval that only partially overlaps it.
func (m *Map[T]) Unmap(begin, end uint64) {
	if begin >= end {
		return
	}

	var kept []interval[T]
	for _, iv := range m.intervals {
		switch {
		case iv.end <= begin || iv.begin >= end:
			// No overlap at all.
			kept = append(kept, iv)
		case iv.begin >= begin && iv.end <= end:
			// Fully covered by the excised range: drop it.
		case iv.begin < begin && iv.end > end:
			// Excised range is a strict sub-range: split into two.
			kept = append(kept, interval[T]{begin: iv.begin, end: begin, value: iv.value})
			kept = append(kept, interval[T]{begin: end, end: iv.end, value: iv.value})
		case iv.begin < begin:
			// Overlaps the tail of iv.
			kept = append(kept, interval[T]{begin: iv.begin, end: begin, value: iv.value})
		default:
			// Overlaps the head of iv.
			kept = append(kept, interval[T]{begin: end, end: iv.end, value: iv.value})
		}
	}
	m.intervals = kept
}

// Lookup returns the value whose interval contains addr. If more than
// one stored interval contains addr, that is a corruption of the
// non-overlap invariant and Lookup panics rather than silently picking
// one: callers should treat this as a fatal internal error.
func (m *Map[T]) Lookup(addr uint64) (value T, ok bool) {
	var found int
	var result T
	for _, iv := range m.intervals {
		if addr >= iv.begin && addr < iv.end {
			found++
			result = iv.value
		}
	}
	switch found {
	case 0:
		return result, false
	case 1:
		return result, true
	default:
		panic(fmt.Sprintf("intervalmap: address %#x is covered by %d overlapping intervals", addr, found))
	}
}
