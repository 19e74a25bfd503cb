// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package relay passes commands from a dispatcher to workers, and worker
// logs back, through two drainable queues. The two sides never talk
// directly.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ffutop/devicesync/internal/queue"
	"github.com/ffutop/devicesync/internal/store"
)

const (
	RequestIDField = "request_id"
	QueuedAtField  = "queued_at"
)

// Message is one relayed command or log record.
type Message map[string]any

type Service struct {
	commands queue.Queue
	logs     queue.Queue
	now      func() time.Time
	newID    func() string
}

type Option func(*Service)

// WithClock overrides time.Now for queued_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides the random UUID request ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

func New(commands, logs queue.Queue, opts ...Option) *Service {
	s := &Service{
		commands: commands,
		logs:     logs,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit queues a command for the workers and returns its request id. A
// caller-supplied request_id is kept.
func (s *Service) Submit(ctx context.Context, cmd Message) (string, error) {
	if len(cmd) == 0 {
		return "", &store.ValidationError{Field: "command", Reason: "empty"}
	}
	msg := s.stamp(cmd)
	if err := s.commands.Enqueue(ctx, map[string]any(msg)); err != nil {
		return "", fmt.Errorf("failed to queue command: %w", err)
	}
	return msg[RequestIDField].(string), nil
}

// Fetch hands every pending command to the calling worker.
func (s *Service) Fetch(ctx context.Context) ([]any, error) {
	return drain(ctx, s.commands, "commands")
}

// Report queues a worker log record for the dispatcher.
func (s *Service) Report(ctx context.Context, entry Message) error {
	if len(entry) == 0 {
		return &store.ValidationError{Field: "log", Reason: "empty"}
	}
	if err := s.logs.Enqueue(ctx, map[string]any(s.stamp(entry))); err != nil {
		return fmt.Errorf("failed to queue log: %w", err)
	}
	return nil
}

// Collect returns every log record reported since the last Collect.
func (s *Service) Collect(ctx context.Context) ([]any, error) {
	return drain(ctx, s.logs, "logs")
}

// Pending reports how many commands and logs are waiting.
func (s *Service) Pending(ctx context.Context) (commands, logs int, err error) {
	if commands, err = s.commands.Len(ctx); err != nil {
		return 0, 0, err
	}
	if logs, err = s.logs.Len(ctx); err != nil {
		return 0, 0, err
	}
	return commands, logs, nil
}

// drain keeps whatever a partially failed drain recovered; those items
// are already off the queue.
func drain(ctx context.Context, q queue.Queue, what string) ([]any, error) {
	items, err := q.DrainAll(ctx)
	if err != nil {
		if len(items) == 0 {
			return nil, fmt.Errorf("failed to drain %s: %w", what, err)
		}
		slog.Warn("Dropped undecodable relay items", "queue", what, "err", err)
	}
	return items, nil
}

func (s *Service) stamp(in Message) Message {
	out := make(Message, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	if id, ok := out[RequestIDField].(string); !ok || id == "" {
		out[RequestIDField] = s.newID()
	}
	out[QueuedAtField] = s.now().UTC().Format(time.RFC3339Nano)
	return out
}
