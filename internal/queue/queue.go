// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package queue provides FIFO queues that a producer appends to and a
// consumer drains in one atomic step.
package queue

import (
	"context"
	"sync"
)

// Queue is a FIFO with an atomic drain. Items enqueued after a DrainAll has
// started are left for the next drain, and no item is returned twice.
type Queue interface {
	Enqueue(ctx context.Context, item any) error
	DrainAll(ctx context.Context) ([]any, error)
	Len(ctx context.Context) (int, error)
}

// Memory is an in-process Queue.
type Memory struct {
	mu    sync.Mutex
	items []any
}

func NewMemory() *Memory {
	return &Memory{}
}

func (q *Memory) Enqueue(ctx context.Context, item any) error {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	return nil
}

// DrainAll returns everything queued so far and leaves the queue empty.
func (q *Memory) DrainAll(ctx context.Context) ([]any, error) {
	q.mu.Lock()
	drained := q.items
	q.items = nil
	q.mu.Unlock()

	if drained == nil {
		return []any{}, nil
	}
	return drained, nil
}

func (q *Memory) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}
