// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"context"
	"sort"

	"github.com/ffutop/devicesync/internal/model"
	"github.com/ffutop/devicesync/internal/persistence"
)

// Mailbox holds at most one undelivered payload per device. Consume is
// destructive: the entry is deleted and persisted before the payload is
// returned, so at most one caller ever receives it.
type Mailbox struct {
	coll *persistence.Collection[map[string]any]
}

// NewMailbox creates a mailbox over the named unit.
func NewMailbox(name string, backend persistence.Backend, codec persistence.Codec) *Mailbox {
	return &Mailbox{
		coll: persistence.NewCollection(name, backend, codec, func() map[string]any {
			return make(map[string]any)
		}),
	}
}

// Produce stores payload for id, replacing any undelivered one.
func (m *Mailbox) Produce(ctx context.Context, id string, payload any) error {
	if id == "" {
		return missing(model.DeviceIDField)
	}
	if payload == nil {
		return missing("payload")
	}

	err := m.coll.Update(ctx, func(box map[string]any) (map[string]any, error) {
		if box == nil {
			box = make(map[string]any)
		}
		box[id] = payload
		return box, nil
	})
	return ioError(err)
}

// Consume removes and returns the payload for id. It returns ErrNotFound
// when nothing is pending. A corrupt unit is treated as empty.
func (m *Mailbox) Consume(ctx context.Context, id string) (any, error) {
	if id == "" {
		return nil, missing(model.DeviceIDField)
	}

	var payload any
	err := m.coll.Update(ctx, func(box map[string]any) (map[string]any, error) {
		v, ok := box[id]
		if !ok {
			return nil, ErrNotFound
		}
		payload = v
		delete(box, id)
		return box, nil
	})
	if err != nil {
		return nil, ioError(err)
	}
	return payload, nil
}

// Pending lists the devices with an undelivered payload. Like Consume, it
// treats a corrupt unit as empty.
func (m *Mailbox) Pending(ctx context.Context) ([]string, error) {
	box, err := m.coll.LoadOrDefault(ctx)
	if err != nil {
		return nil, ioError(err)
	}

	ids := make([]string, 0, len(box))
	for id := range box {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
