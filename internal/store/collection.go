// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotFound is returned when a record id does not exist in a collection.
var ErrNotFound = errors.New("record not found")

// Collection is a JSON-array document store for one record type. A single
// process-wide instance serializes all readers and writers; every mutation
// is a whole-document read-modify-write.
type Collection[T any] struct {
	mu   sync.Mutex
	path string

	id       func(T) string
	parent   func(T) string
	getOrder func(T) int
	setOrder func(*T, int)
	patch    func(*T, map[string]interface{})
}

// CollectionSpec describes how a record type exposes its identity, its
// ordering parent scope, and its patchable fields.
type CollectionSpec[T any] struct {
	ID       func(T) string
	Parent   func(T) string
	GetOrder func(T) int
	SetOrder func(*T, int)
	Patch    func(*T, map[string]interface{})
}

// NewCollection creates a collection store backed by the given file path.
func NewCollection[T any](path string, spec CollectionSpec[T]) *Collection[T] {
	return &Collection[T]{
		path:     path,
		id:       spec.ID,
		parent:   spec.Parent,
		getOrder: spec.GetOrder,
		setOrder: spec.SetOrder,
		patch:    spec.Patch,
	}
}

// Load reads all records. A missing file yields an empty slice. An
// unparseable file is repaired or reset; Load never fails on corruption.
func (c *Collection[T]) Load() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

func (c *Collection[T]) loadLocked() []T {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Store: read %s: %v, starting empty", filepath.Base(c.path), err)
		}
		return []T{}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []T{}
	}

	var records []T
	if err := json.Unmarshal(data, &records); err == nil {
		return records
	}

	return c.repairLocked(data)
}

// repairLocked attempts to recover a truncated or partially written JSON
// array by scanning backward for the last ']' that closes a syntactically
// valid array. The original bytes are always archived first.
func (c *Collection[T]) repairLocked(data []byte) []T {
	backup := c.archiveLocked(data)

	for i := len(data) - 1; i >= 0; i-- {
		if data[i] != ']' {
			continue
		}
		prefix := data[:i+1]
		var records []T
		if err := json.Unmarshal(prefix, &records); err != nil {
			continue
		}
		log.Printf("Store: repaired %s from corrupted file (original archived as %s)",
			filepath.Base(c.path), filepath.Base(backup))
		if err := c.saveLocked(records); err != nil {
			log.Printf("Store: persist repaired %s: %v", filepath.Base(c.path), err)
		}
		return records
	}

	log.Printf("Store: could not repair %s, resetting to empty (original archived as %s)",
		filepath.Base(c.path), filepath.Base(backup))
	if err := c.saveLocked([]T{}); err != nil {
		log.Printf("Store: reset %s: %v", filepath.Base(c.path), err)
	}
	return []T{}
}

// archiveLocked writes the corrupted bytes next to the original under a
// timestamped name and returns the backup path.
func (c *Collection[T]) archiveLocked(data []byte) string {
	base := c.path
	if ext := filepath.Ext(base); ext == ".json" {
		base = base[:len(base)-len(ext)]
	}
	backup := fmt.Sprintf("%s.corrupted.%s.json", base, time.Now().Format("20060102_150405"))
	if err := os.WriteFile(backup, data, 0644); err != nil {
		log.Printf("Store: archive corrupted %s: %v", filepath.Base(c.path), err)
	}
	return backup
}

func (c *Collection[T]) saveLocked(records []T) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(c.path), err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Save replaces the whole collection.
func (c *Collection[T]) Save(records []T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked(records)
}

// Get returns the record with the given id.
func (c *Collection[T]) Get(id string) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range c.loadLocked() {
		if c.id(rec) == id {
			return rec, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%s %q: %w", filepath.Base(c.path), id, ErrNotFound)
}

// Add appends a record, assigning the next dense order value scoped to the
// record's parent (max existing + 1, or 0 for an empty parent).
func (c *Collection[T]) Add(record T) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.loadLocked()

	next := 0
	for _, rec := range records {
		if c.parent(rec) != c.parent(record) {
			continue
		}
		if o := c.getOrder(rec); o >= next {
			next = o + 1
		}
	}
	c.setOrder(&record, next)

	records = append(records, record)
	if err := c.saveLocked(records); err != nil {
		var zero T
		return zero, err
	}
	return record, nil
}

// Update applies the recognized keys of patch to the record with the given
// id and rewrites the collection. Unknown keys are ignored.
func (c *Collection[T]) Update(id string, patch map[string]interface{}) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.loadLocked()
	for i := range records {
		if c.id(records[i]) != id {
			continue
		}
		c.patch(&records[i], patch)
		if err := c.saveLocked(records); err != nil {
			var zero T
			return zero, err
		}
		return records[i], nil
	}

	var zero T
	return zero, fmt.Errorf("%s %q: %w", filepath.Base(c.path), id, ErrNotFound)
}

// Delete removes the record with the given id. Deleting a missing id is a
// no-op.
func (c *Collection[T]) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.loadLocked()
	for i := range records {
		if c.id(records[i]) == id {
			records = append(records[:i], records[i+1:]...)
			return c.saveLocked(records)
		}
	}
	return nil
}

// Filter returns all records for which keep returns true.
func (c *Collection[T]) Filter(keep func(T) bool) []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result []T
	for _, rec := range c.loadLocked() {
		if keep(rec) {
			result = append(result, rec)
		}
	}
	return result
}
