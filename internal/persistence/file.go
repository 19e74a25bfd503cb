// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStorage keeps each unit in its own file under dir, named
// <unit><ext>. Writes go to a temporary file that is synced and renamed
// over the target, so readers never observe a half-written unit.
type FileStorage struct {
	dir string
	ext string
}

// NewFileStorage creates a new FileStorage rooted at dir.
func NewFileStorage(dir, ext string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &FileStorage{dir: dir, ext: ext}, nil
}

// Path returns the file backing the named unit.
func (s *FileStorage) Path(name string) string {
	return filepath.Join(s.dir, name+s.ext)
}

func (s *FileStorage) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotExist)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

func (s *FileStorage) Write(ctx context.Context, name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path(name)); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

func (s *FileStorage) List(ctx context.Context) ([]UnitInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage dir: %w", err)
	}

	var infos []UnitInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, s.ext) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // removed since ReadDir
			}
			return nil, err
		}
		infos = append(infos, UnitInfo{
			Name: strings.TrimSuffix(name, s.ext),
			Size: fi.Size(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Close is a no-op; files are opened per operation.
func (s *FileStorage) Close() error {
	return nil
}
