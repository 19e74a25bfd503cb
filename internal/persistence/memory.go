// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStorage is a non-persistent backend. Data is lost on restart.
type MemoryStorage struct {
	mu    sync.RWMutex
	units map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		units: make(map[string][]byte),
	}
}

func (ms *MemoryStorage) Read(ctx context.Context, name string) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	data, ok := ms.units[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (ms *MemoryStorage) Write(ctx context.Context, name string, data []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.units[name] = append([]byte(nil), data...)
	return nil
}

func (ms *MemoryStorage) List(ctx context.Context) ([]UnitInfo, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	infos := make([]UnitInfo, 0, len(ms.units))
	for name, data := range ms.units {
		infos = append(infos, UnitInfo{Name: name, Size: int64(len(data))})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (ms *MemoryStorage) Close() error {
	return nil
}
