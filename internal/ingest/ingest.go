// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package ingest reads device status frames from byte streams, one JSON
// object per line, and upserts them.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/ffutop/devicesync/internal/model"
	"github.com/ffutop/devicesync/internal/persistence"
)

// maxFrameSize bounds a single status line.
const maxFrameSize = 64 * 1024

// Sink receives decoded status records.
type Sink interface {
	Upsert(ctx context.Context, rec model.DeviceRecord) error
}

// Ingester turns status lines into upserts. Malformed lines are logged and
// skipped; they never stop the stream.
type Ingester struct {
	sink   Sink
	source string

	accepted atomic.Int64
	rejected atomic.Int64
}

func NewIngester(sink Sink, source string) *Ingester {
	return &Ingester{sink: sink, source: source}
}

// Consume reads r until EOF, a read error or ctx is done.
func (in *Ingester) Consume(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := in.handle(ctx, line); err != nil {
			in.rejected.Add(1)
			slog.Warn("Dropping status frame", "source", in.source, "err", err)
			continue
		}
		in.accepted.Add(1)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to read from %s: %w", in.source, err)
	}
	return nil
}

func (in *Ingester) handle(ctx context.Context, line []byte) error {
	var doc map[string]any
	if err := persistence.DecodeJSON(bytes.NewReader(line), &doc); err != nil {
		return fmt.Errorf("malformed frame: %w", err)
	}
	if doc == nil {
		return errors.New("frame is not an object")
	}
	rec, err := model.RecordFromMap(doc)
	if err != nil {
		return err
	}
	if err := in.sink.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", rec.ID, err)
	}
	slog.Debug("Status frame ingested", "source", in.source, "device", rec.ID)
	return nil
}

// Stats returns how many frames were upserted and how many were dropped.
func (in *Ingester) Stats() (accepted, rejected int64) {
	return in.accepted.Load(), in.rejected.Load()
}
