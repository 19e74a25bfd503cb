// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// MmapStorage reads units through a read-only memory map and writes them
// like FileStorage. Large log collections are decoded straight from the
// page cache instead of being copied through read(2) first.
type MmapStorage struct {
	*FileStorage
}

// NewMmapStorage creates a new MmapStorage rooted at dir.
func NewMmapStorage(dir, ext string) (*MmapStorage, error) {
	fs, err := NewFileStorage(dir, ext)
	if err != nil {
		return nil, err
	}
	return &MmapStorage{FileStorage: fs}, nil
}

// Read maps the unit, copies it out and unmaps it again. The copy is needed
// because a later Write renames a new file over the mapped one.
func (ms *MmapStorage) Read(ctx context.Context, name string) ([]byte, error) {
	f, err := os.Open(ms.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotExist)
		}
		return nil, fmt.Errorf("failed to open mmap file: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	// Zero-length files cannot be mapped.
	if fi.Size() == 0 {
		return []byte{}, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	data := make([]byte, len(m))
	copy(data, m)

	if err := m.Unmap(); err != nil {
		return nil, fmt.Errorf("failed to unmap: %w", err)
	}
	return data, nil
}
