// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package linesource opens a TOWL log file — plain, gzip, or xz — and
// yields one text line at a time with byte-offset progress.
package linesource

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ulikunitz/xz"
)

// Line is one decoded log line. LineNumber is 1-based and counts every
// line the underlying reader produced, including ones later skipped by
// the prefix parser.
type Line struct {
	LineNumber uint64
	Text       string
}

// Source is a lazy, finite, non-restartable sequence of lines. It is not
// safe for concurrent use; it has exactly one reader.
type Source struct {
	f          *os.File
	counting   *countingReader
	scanner    *bufio.Scanner
	lineNumber uint64
	closer     io.Closer
}

// countingReader tracks bytes read from the underlying compressed (or
// plain) container, which is what "progress" means here: the scanner
// itself operates on decompressed bytes, so progress must be sampled
// below the decompression layer.
type countingReader struct {
	r     io.Reader
	count uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.count += uint64(n)
	return n, err
}

// Open opens path, selecting a decompressor by file extension: ".gz" for
// gzip, ".xz" for xz, anything else is read as plain text.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("linesource: opening %q: %w", path, err)
	}

	counting := &countingReader{r: f}

	var decompressed io.Reader
	var closer io.Closer = f
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(counting)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("linesource: gzip header in %q: %w", path, err)
		}
		decompressed = gz
		closer = closerFunc(func() error {
			gz.Close()
			return f.Close()
		})
	case strings.HasSuffix(path, ".xz"):
		xr, err := xz.NewReader(counting)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("linesource: xz header in %q: %w", path, err)
		}
		decompressed = xr
	default:
		decompressed = counting
	}

	scanner := bufio.NewScanner(decompressed)
	// Log lines carrying large frame-log payloads can exceed the default
	// 64KiB token size; give the scanner plenty of headroom.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	return &Source{
		f:        f,
		counting: counting,
		scanner:  scanner,
		closer:   closer,
	}, nil
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

// Next advances to and returns the next line. ok is false once the
// stream is exhausted; callers should check err afterwards to
// distinguish clean EOF from an I/O failure.
func (s *Source) Next() (line Line, ok bool) {
	if !s.scanner.Scan() {
		return Line{}, false
	}
	s.lineNumber++
	text := s.scanner.Text()
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	return Line{LineNumber: s.lineNumber, Text: text}, true
}

// Err returns the first non-EOF error encountered, if any.
func (s *Source) Err() error {
	return s.scanner.Err()
}

// BytesRead reports the number of bytes consumed from the underlying
// (possibly compressed) file so far, for progress reporting.
func (s *Source) BytesRead() uint64 {
	return s.counting.count
}

// Close releases the underlying file and any decompressor resources.
func (s *Source) Close() error {
	return s.closer.Close()
}
