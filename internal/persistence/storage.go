// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"context"
	"errors"
)

// ErrNotExist is returned (wrapped) by Backend.Read when the named unit has
// never been written.
var ErrNotExist = errors.New("persisted unit does not exist")

// UnitInfo describes one persisted unit for diagnostics.
type UnitInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Backend defines the interface for persisting whole collections.
// A unit is always read and written as a single blob; there are no partial updates.
type Backend interface {
	// Read returns the stored bytes of the named unit.
	// It returns an error wrapping ErrNotExist if the unit is absent.
	Read(ctx context.Context, name string) ([]byte, error)

	// Write replaces the named unit with data.
	Write(ctx context.Context, name string, data []byte) error

	// List reports every stored unit with its size in bytes.
	List(ctx context.Context) ([]UnitInfo, error)

	// Close releases the backend's resources.
	Close() error
}
