// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"context"

	"github.com/ffutop/devicesync/internal/model"
	"github.com/ffutop/devicesync/internal/obfuscate"
	"github.com/ffutop/devicesync/internal/persistence"
)

// LogStore is an append-only log of uploaded entries, grouped per device
// and per bucket. Inbound entries arrive obfuscated and are decoded before
// they are stored.
type LogStore struct {
	coll      *persistence.Collection[map[string]model.LogBook]
	transform *obfuscate.Transform
}

// NewLogStore creates a log store over the named unit.
func NewLogStore(name string, backend persistence.Backend, codec persistence.Codec, transform *obfuscate.Transform) *LogStore {
	if transform == nil {
		transform = obfuscate.Default()
	}
	return &LogStore{
		coll: persistence.NewCollection(name, backend, codec, func() map[string]model.LogBook {
			return make(map[string]model.LogBook)
		}),
		transform: transform,
	}
}

// Append decodes entries and appends them, in order, to the device's bucket.
func (s *LogStore) Append(ctx context.Context, id, bucket string, entries ...model.LogEntry) error {
	if id == "" {
		return missing(model.DeviceIDField)
	}
	if bucket == "" {
		return missing("timestamp")
	}

	decoded := make([]model.LogEntry, 0, len(entries))
	for _, e := range entries {
		decoded = append(decoded, s.transform.DecodeEntry(e))
	}

	err := s.coll.Update(ctx, func(all map[string]model.LogBook) (map[string]model.LogBook, error) {
		if all == nil {
			all = make(map[string]model.LogBook)
		}
		book := all[id]
		if book == nil {
			book = make(model.LogBook)
			all[id] = book
		}
		if book[bucket] == nil {
			book[bucket] = []model.LogEntry{}
		}
		book[bucket] = append(book[bucket], decoded...)
		return all, nil
	})
	return ioError(err)
}

// ReadFor returns the device's log book. A device that never reported, or
// a unit that does not exist yet, yields an empty book.
func (s *LogStore) ReadFor(ctx context.Context, id string) (model.LogBook, error) {
	if id == "" {
		return nil, missing(model.DeviceIDField)
	}

	res := s.coll.Load(ctx)
	if err := resultError(res); err != nil {
		return nil, err
	}

	book := res.Value[id]
	if book == nil {
		return model.LogBook{}, nil
	}
	return book, nil
}
