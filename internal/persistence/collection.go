// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Status classifies the outcome of loading a collection.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusCorrupt
	StatusIOFailure
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusCorrupt:
		return "corrupt"
	case StatusIOFailure:
		return "io_failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of Collection.Load. For any status other than
// StatusOK, Value holds the collection's default.
type Result[T any] struct {
	Value  T
	Status Status
	Err    error
}

// Collection binds one named unit to a backend, a codec and a default value.
// Its mutex is the serialization point for read-modify-write cycles, so two
// concurrent Updates never lose each other's changes.
type Collection[T any] struct {
	name       string
	backend    Backend
	codec      Codec
	newDefault func() T

	mu sync.Mutex
}

// NewCollection creates a collection. newDefault must return a fresh value on
// every call; the result is handed to callers who may mutate it.
func NewCollection[T any](name string, backend Backend, codec Codec, newDefault func() T) *Collection[T] {
	return &Collection[T]{
		name:       name,
		backend:    backend,
		codec:      codec,
		newDefault: newDefault,
	}
}

// Name returns the unit name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Load reads and decodes the collection.
func (c *Collection[T]) Load(ctx context.Context) Result[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

// LoadOrDefault substitutes the default for a missing or corrupt unit.
// Only I/O failures are returned as errors.
func (c *Collection[T]) LoadOrDefault(ctx context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadOrDefault(ctx)
}

// Update runs fn on the current value (or the default) and saves what it
// returns. If fn fails nothing is written and its error is returned as-is.
func (c *Collection[T]) Update(ctx context.Context, fn func(T) (T, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.loadOrDefault(ctx)
	if err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	return c.save(ctx, next)
}

func (c *Collection[T]) load(ctx context.Context) Result[T] {
	data, err := c.backend.Read(ctx, c.name)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return Result[T]{Value: c.newDefault(), Status: StatusNotFound}
		}
		return Result[T]{
			Value:  c.newDefault(),
			Status: StatusIOFailure,
			Err:    fmt.Errorf("failed to read %s: %w", c.name, err),
		}
	}

	var v T
	if err := c.codec.Unmarshal(data, &v); err != nil {
		return Result[T]{
			Value:  c.newDefault(),
			Status: StatusCorrupt,
			Err:    fmt.Errorf("failed to decode %s: %w", c.name, err),
		}
	}
	return Result[T]{Value: v, Status: StatusOK}
}

func (c *Collection[T]) loadOrDefault(ctx context.Context) (T, error) {
	res := c.load(ctx)
	switch res.Status {
	case StatusCorrupt:
		slog.Warn("Persisted collection is corrupt, resetting to default", "collection", c.name, "err", res.Err)
	case StatusIOFailure:
		var zero T
		return zero, res.Err
	}
	return res.Value, nil
}

func (c *Collection[T]) save(ctx context.Context, v T) error {
	data, err := c.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", c.name, err)
	}
	if err := c.backend.Write(ctx, c.name, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.name, err)
	}
	return nil
}
