// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package copylog implements the `--copy` side of `create from-log-file`:
// preserving the input log next to the output store so `maintain
// recreate` has something to re-ingest later.
package copylog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Into copies the file at srcPath into destDir, keeping its base name,
// and returns the copy's path. destDir must already exist.
func Into(srcPath, destDir string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("copylog: opening %q: %w", srcPath, err)
	}
	defer src.Close()

	dstPath := filepath.Join(destDir, filepath.Base(srcPath))
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("copylog: creating %q: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("copylog: copying %q to %q: %w", srcPath, dstPath, err)
	}
	return dstPath, dst.Close()
}

// Find locates the single preserved log copy inside dir, for `maintain
// recreate` — anything that isn't the store's own towl.db file.
func Find(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("copylog: reading %q: %w", dir, err)
	}

	var found string
	for _, e := range entries {
		if e.IsDir() || e.Name() == "towl.db" {
			continue
		}
		if found != "" {
			return "", fmt.Errorf("copylog: multiple candidate log files in %q (%s, %s), ambiguous", dir, found, e.Name())
		}
		found = e.Name()
	}
	if found == "" {
		return "", fmt.Errorf("copylog: no preserved log copy found in %q (was --copy given at create time?)", dir)
	}
	return filepath.Join(dir, found), nil
}
