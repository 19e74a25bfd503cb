// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"context"
	"errors"

	"github.com/ffutop/devicesync/internal/persistence"
)

// brokenStorage fails every read and write.
type brokenStorage struct{}

func (brokenStorage) Read(ctx context.Context, name string) ([]byte, error) {
	return nil, errors.New("input/output error")
}

func (brokenStorage) Write(ctx context.Context, name string, data []byte) error {
	return errors.New("input/output error")
}

func (brokenStorage) List(ctx context.Context) ([]persistence.UnitInfo, error) {
	return nil, errors.New("input/output error")
}

func (brokenStorage) Close() error { return nil }
