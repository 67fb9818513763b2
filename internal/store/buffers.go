// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"
)

// MaxBufferSize caps a session buffer at 500 KB. When exceeded, the buffer
// is truncated from the front at a UTF-8-safe boundary.
const MaxBufferSize = 500 * 1024

// BufferStore persists free-text terminal buffers, one file per session.
type BufferStore struct {
	mu  sync.Mutex
	dir string
}

// NewBufferStore creates a buffer store rooted at dir.
func NewBufferStore(dir string) *BufferStore {
	return &BufferStore{dir: dir}
}

func (b *BufferStore) path(sessionID string) string {
	return filepath.Join(b.dir, sessionID+".txt")
}

// Append adds data to a session's buffer, enforcing the size cap.
func (b *BufferStore) Append(sessionID string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return fmt.Errorf("create buffers dir: %w", err)
	}

	path := b.path(sessionID)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read buffer: %w", err)
	}

	combined := append(existing, data...)
	combined = truncateFront(combined, MaxBufferSize)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, combined, 0644); err != nil {
		return fmt.Errorf("write buffer: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename buffer: %w", err)
	}
	return nil
}

// Read returns a session's buffer. A missing buffer is empty, not an error.
func (b *BufferStore) Read(sessionID string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read buffer: %w", err)
	}
	return data, nil
}

// Delete removes a session's buffer. Deleting a missing buffer is a no-op.
func (b *BufferStore) Delete(sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := os.Remove(b.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete buffer: %w", err)
	}
	return nil
}

// truncateFront drops bytes from the front so len(result) <= max, advancing
// past any UTF-8 continuation bytes so the cut never splits a rune.
func truncateFront(data []byte, max int) []byte {
	if len(data) <= max {
		return data
	}

	start := len(data) - max
	for start < len(data) && !utf8.RuneStart(data[start]) {
		start++
	}
	return data[start:]
}
