// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Document is a single-object JSON store (config.json). Like Collection, it
// self-heals on corruption: an unparseable document is archived and reset to
// the zero value rather than failing the caller.
type Document[T any] struct {
	mu   sync.Mutex
	path string
}

// NewDocument creates a document store backed by the given file path.
func NewDocument[T any](path string) *Document[T] {
	return &Document[T]{path: path}
}

// Load reads the document. Missing or corrupt files yield the zero value.
func (d *Document[T]) Load() T {
	d.mu.Lock()
	defer d.mu.Unlock()

	var doc T
	data, err := os.ReadFile(d.path)
	if err != nil {
		return doc
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		base := d.path
		if ext := filepath.Ext(base); ext == ".json" {
			base = base[:len(base)-len(ext)]
		}
		backup := fmt.Sprintf("%s.corrupted.%s.json", base, time.Now().Format("20060102_150405"))
		if werr := os.WriteFile(backup, data, 0644); werr != nil {
			log.Printf("Store: archive corrupted %s: %v", filepath.Base(d.path), werr)
		}
		log.Printf("Store: reset corrupted %s (original archived as %s)",
			filepath.Base(d.path), filepath.Base(backup))
		var zero T
		return zero
	}
	return doc
}

// Save writes the document atomically (write tmp + rename).
func (d *Document[T]) Save(doc T) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(d.path), err)
	}

	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmpPath := d.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, d.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
