// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ffutop/devicesync/internal/model"
	"github.com/ffutop/devicesync/internal/persistence"
)

// Shape is the container a status collection is persisted as.
type Shape string

const (
	// ShapeList persists records as an ordered sequence, matched by scanning.
	ShapeList Shape = "list"
	// ShapeMap persists records as a mapping from device ID to record.
	ShapeMap Shape = "map"
)

// ParseShape validates a configured shape name. Empty means ShapeList.
func ParseShape(s string) (Shape, error) {
	switch Shape(s) {
	case "", ShapeList:
		return ShapeList, nil
	case ShapeMap:
		return ShapeMap, nil
	default:
		return "", fmt.Errorf("unknown status shape %q", s)
	}
}

// StatusOptions configures a StatusStore.
type StatusOptions struct {
	Shape Shape
	// StampLastSeen adds model.LastSeenField to every upserted record.
	StampLastSeen bool
	Location      *time.Location
	TimeLayout    string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Records is a snapshot of a status collection. It marshals back to the
// shape it was persisted in.
type Records struct {
	Shape Shape
	Items []model.DeviceRecord
}

// Find returns the record with the given ID.
func (r Records) Find(id string) (model.DeviceRecord, bool) {
	for _, rec := range r.Items {
		if rec.Keyed() && rec.ID == id {
			return rec, true
		}
	}
	return model.DeviceRecord{}, false
}

func (r Records) MarshalJSON() ([]byte, error) {
	if r.Shape == ShapeMap {
		doc := make(map[string]map[string]any, len(r.Items))
		for _, rec := range r.Items {
			doc[rec.ID] = rec.ToMap()
		}
		return json.Marshal(doc)
	}
	doc := make([]map[string]any, 0, len(r.Items))
	for _, rec := range r.Items {
		doc = append(doc, rec.ToMap())
	}
	return json.Marshal(doc)
}

// recordSet hides the persisted container shape from StatusStore.
type recordSet interface {
	upsert(ctx context.Context, rec model.DeviceRecord) error
	readAll(ctx context.Context) ([]model.DeviceRecord, error)
}

// StatusStore keeps the latest record per device.
type StatusStore struct {
	opts    StatusOptions
	records recordSet
}

// NewStatusStore creates a status store over the named unit.
func NewStatusStore(name string, backend persistence.Backend, codec persistence.Codec, opts StatusOptions) *StatusStore {
	if opts.Shape == "" {
		opts.Shape = ShapeList
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TimeLayout == "" {
		opts.TimeLayout = time.RFC3339
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &StatusStore{opts: opts}
	switch opts.Shape {
	case ShapeMap:
		s.records = &mapRecords{coll: persistence.NewCollection(name, backend, codec, func() map[string]map[string]any {
			return make(map[string]map[string]any)
		})}
	default:
		s.records = &listRecords{coll: persistence.NewCollection(name, backend, codec, func() []map[string]any {
			return []map[string]any{}
		})}
	}
	return s
}

// Shape returns the persisted container shape.
func (s *StatusStore) Shape() Shape {
	return s.opts.Shape
}

// Upsert merges rec into the stored record with the same ID, or adds it.
func (s *StatusStore) Upsert(ctx context.Context, rec model.DeviceRecord) error {
	if rec.ID == "" {
		return missing(model.DeviceIDField)
	}

	rec = rec.Clone()
	if s.opts.StampLastSeen {
		rec.Fields[model.LastSeenField] = s.opts.Now().In(s.opts.Location).Format(s.opts.TimeLayout)
	}

	if err := s.records.upsert(ctx, rec); err != nil {
		return ioError(err)
	}
	return nil
}

// ReadAll returns every stored record. A missing unit yields an empty
// snapshot; a corrupt or unreadable one is an error. In a list-shaped unit,
// entries without a string device id come back as unkeyed records.
func (s *StatusStore) ReadAll(ctx context.Context) (Records, error) {
	items, err := s.records.readAll(ctx)
	if err != nil {
		return Records{Shape: s.opts.Shape}, err
	}
	return Records{Shape: s.opts.Shape, Items: items}, nil
}

// Get returns one device's record.
func (s *StatusStore) Get(ctx context.Context, id string) (model.DeviceRecord, error) {
	if id == "" {
		return model.DeviceRecord{}, missing(model.DeviceIDField)
	}
	all, err := s.ReadAll(ctx)
	if err != nil {
		return model.DeviceRecord{}, err
	}
	rec, ok := all.Find(id)
	if !ok {
		return model.DeviceRecord{}, ErrNotFound
	}
	return rec, nil
}

type listRecords struct {
	coll *persistence.Collection[[]map[string]any]
}

func (l *listRecords) upsert(ctx context.Context, rec model.DeviceRecord) error {
	return l.coll.Update(ctx, func(doc []map[string]any) ([]map[string]any, error) {
		for i, item := range doc {
			if id, _ := item[model.DeviceIDField].(string); id != rec.ID {
				continue
			}
			existing, err := model.RecordFromMap(item)
			if err != nil {
				return nil, err
			}
			if err := existing.Merge(rec); err != nil {
				return nil, err
			}
			doc[i] = existing.ToMap()
			return doc, nil
		}
		return append(doc, rec.ToMap()), nil
	})
}

func (l *listRecords) readAll(ctx context.Context) ([]model.DeviceRecord, error) {
	res := l.coll.Load(ctx)
	if err := resultError(res); err != nil {
		return nil, err
	}

	// Entries without a usable device id are returned untouched, in place.
	items := make([]model.DeviceRecord, 0, len(res.Value))
	for _, doc := range res.Value {
		rec, err := model.RecordFromMap(doc)
		if err != nil {
			slog.Debug("Stored status has no device id", "collection", l.coll.Name(), "err", err)
			rec = model.DeviceRecord{Fields: doc}
		}
		items = append(items, rec)
	}
	return items, nil
}

type mapRecords struct {
	coll *persistence.Collection[map[string]map[string]any]
}

func (m *mapRecords) upsert(ctx context.Context, rec model.DeviceRecord) error {
	return m.coll.Update(ctx, func(doc map[string]map[string]any) (map[string]map[string]any, error) {
		if doc == nil {
			doc = make(map[string]map[string]any)
		}
		merged := model.NewDeviceRecord(rec.ID)
		for k, v := range doc[rec.ID] {
			if k != model.DeviceIDField {
				merged.Fields[k] = v
			}
		}
		if err := merged.Merge(rec); err != nil {
			return nil, err
		}
		doc[rec.ID] = merged.ToMap()
		return doc, nil
	})
}

func (m *mapRecords) readAll(ctx context.Context) ([]model.DeviceRecord, error) {
	res := m.coll.Load(ctx)
	if err := resultError(res); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(res.Value))
	for id := range res.Value {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]model.DeviceRecord, 0, len(ids))
	for _, id := range ids {
		rec := model.NewDeviceRecord(id)
		for k, v := range res.Value[id] {
			if k != model.DeviceIDField {
				rec.Fields[k] = v
			}
		}
		items = append(items, rec)
	}
	return items, nil
}
