// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/devicesync/internal/model"
	"github.com/ffutop/devicesync/internal/persistence"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newStatusStore(t *testing.T, backend persistence.Backend, shape Shape) *StatusStore {
	t.Helper()
	return NewStatusStore("device_status", backend, persistence.JSONCodec{}, StatusOptions{
		Shape:         shape,
		StampLastSeen: true,
		Location:      time.FixedZone("IDT", 3*60*60),
		TimeLayout:    time.RFC3339,
		Now:           func() time.Time { return fixedNow },
	})
}

func record(t *testing.T, doc map[string]any) model.DeviceRecord {
	t.Helper()
	rec, err := model.RecordFromMap(doc)
	require.NoError(t, err)
	return rec
}

func TestStatusStore_UpsertMergesFields(t *testing.T) {
	ctx := context.Background()
	for _, shape := range []Shape{ShapeList, ShapeMap} {
		t.Run(string(shape), func(t *testing.T) {
			s := newStatusStore(t, persistence.NewMemoryStorage(), shape)

			require.NoError(t, s.Upsert(ctx, record(t, map[string]any{"mac_address": "AA:BB", "temp": 10})))
			require.NoError(t, s.Upsert(ctx, record(t, map[string]any{"mac_address": "AA:BB", "status": "on"})))

			all, err := s.ReadAll(ctx)
			require.NoError(t, err)
			require.Len(t, all.Items, 1)

			rec := all.Items[0]
			assert.Equal(t, "AA:BB", rec.ID)
			assert.Equal(t, json.Number("10"), rec.Fields["temp"])
			assert.Equal(t, "on", rec.Fields["status"])
			assert.Equal(t, "2026-10-16T15:00:00+03:00", rec.Fields[model.LastSeenField])
		})
	}
}

func TestStatusStore_LastWriterWinsPerField(t *testing.T) {
	ctx := context.Background()
	s := newStatusStore(t, persistence.NewMemoryStorage(), ShapeList)

	require.NoError(t, s.Upsert(ctx, record(t, map[string]any{"mac_address": "AA:BB", "status": "off", "user": "dana"})))
	require.NoError(t, s.Upsert(ctx, record(t, map[string]any{"mac_address": "AA:BB", "status": "on"})))
	require.NoError(t, s.Upsert(ctx, record(t, map[string]any{"mac_address": "CC:DD", "status": "off"})))

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all.Items, 2)
	assert.Equal(t, "AA:BB", all.Items[0].ID, "list shape keeps insertion order")
	assert.Equal(t, "on", all.Items[0].Fields["status"])
	assert.Equal(t, "dana", all.Items[0].Fields["user"])
	assert.Equal(t, "CC:DD", all.Items[1].ID)
}

func TestStatusStore_WithoutStamp(t *testing.T) {
	ctx := context.Background()
	s := NewStatusStore("device_status", persistence.NewMemoryStorage(), persistence.JSONCodec{}, StatusOptions{})

	require.NoError(t, s.Upsert(ctx, record(t, map[string]any{"mac_address": "AA:BB"})))

	rec, err := s.Get(ctx, "AA:BB")
	require.NoError(t, err)
	assert.NotContains(t, rec.Fields, model.LastSeenField)
}

func TestStatusStore_UpsertDoesNotMutateInput(t *testing.T) {
	s := newStatusStore(t, persistence.NewMemoryStorage(), ShapeList)
	rec := record(t, map[string]any{"mac_address": "AA:BB", "temp": 1})

	require.NoError(t, s.Upsert(context.Background(), rec))
	assert.NotContains(t, rec.Fields, model.LastSeenField)
}

func TestStatusStore_Validation(t *testing.T) {
	s := newStatusStore(t, persistence.NewMemoryStorage(), ShapeList)

	err := s.Upsert(context.Background(), model.NewDeviceRecord(""))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, model.DeviceIDField, verr.Field)
}

func TestStatusStore_ReadAllMissingIsEmpty(t *testing.T) {
	s := newStatusStore(t, persistence.NewMemoryStorage(), ShapeList)

	all, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all.Items)

	data, err := json.Marshal(all)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestStatusStore_CorruptUnit(t *testing.T) {
	ctx := context.Background()
	mem := persistence.NewMemoryStorage()
	require.NoError(t, mem.Write(ctx, "device_status", []byte(`{"oops": true`)))
	s := newStatusStore(t, mem, ShapeList)

	_, err := s.ReadAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptState)
	assert.NotErrorIs(t, err, ErrIO)

	// The write path resets the unit instead of refusing.
	require.NoError(t, s.Upsert(ctx, record(t, map[string]any{"mac_address": "AA:BB"})))
	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all.Items, 1)
}

func TestStatusStore_ShapeMismatchIsCorrupt(t *testing.T) {
	ctx := context.Background()
	mem := persistence.NewMemoryStorage()
	require.NoError(t, mem.Write(ctx, "device_status", []byte(`[{"mac_address": "AA:BB"}]`)))

	s := newStatusStore(t, mem, ShapeMap)
	_, err := s.ReadAll(ctx)
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestStatusStore_IOFailure(t *testing.T) {
	s := newStatusStore(t, brokenStorage{}, ShapeList)

	_, err := s.ReadAll(context.Background())
	assert.ErrorIs(t, err, ErrIO)

	err = s.Upsert(context.Background(), record(t, map[string]any{"mac_address": "AA:BB"}))
	assert.ErrorIs(t, err, ErrIO)
}

func TestStatusStore_Get(t *testing.T) {
	ctx := context.Background()
	s := newStatusStore(t, persistence.NewMemoryStorage(), ShapeMap)

	_, err := s.Get(ctx, "AA:BB")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Upsert(ctx, record(t, map[string]any{"mac_address": "AA:BB", "temp": 3})))
	rec, err := s.Get(ctx, "AA:BB")
	require.NoError(t, err)
	assert.Equal(t, json.Number("3"), rec.Fields["temp"])
}

func TestStatusStore_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := persistence.NewFileStorage(dir, ".json")
	require.NoError(t, err)

	for _, shape := range []Shape{ShapeList, ShapeMap} {
		t.Run(string(shape), func(t *testing.T) {
			s := NewStatusStore("status_"+string(shape), fs, persistence.JSONCodec{}, StatusOptions{Shape: shape})

			var wg sync.WaitGroup
			for i := 0; i < 25; i++ {
				wg.Add(2)
				go func(i int) {
					defer wg.Done()
					rec := model.NewDeviceRecord(fmt.Sprintf("dev-%02d", i))
					rec.Fields["n"] = i
					assert.NoError(t, s.Upsert(ctx, rec))
				}(i)
				go func(i int) {
					defer wg.Done()
					rec := model.NewDeviceRecord("shared")
					rec.Fields[fmt.Sprintf("f%02d", i)] = i
					assert.NoError(t, s.Upsert(ctx, rec))
				}(i)
			}
			wg.Wait()

			all, err := s.ReadAll(ctx)
			require.NoError(t, err)
			assert.Len(t, all.Items, 26)

			shared, ok := all.Find("shared")
			require.True(t, ok)
			assert.Len(t, shared.Fields, 25, "no field update may be lost")
		})
	}
}

func TestStatusStore_ReadAllKeepsUnkeyedEntries(t *testing.T) {
	ctx := context.Background()
	mem := persistence.NewMemoryStorage()
	stored := `[{"name":"orphan"},{"mac_address":"AA:BB","temp":1},{"mac_address":42,"temp":2}]`
	require.NoError(t, mem.Write(ctx, "device_status", []byte(stored)))
	s := newStatusStore(t, mem, ShapeList)

	all, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all.Items, 3)
	data, err := json.Marshal(all)
	require.NoError(t, err)
	assert.JSONEq(t, stored, string(data))

	// Upserts leave the unkeyed entries where they are.
	require.NoError(t, s.Upsert(ctx, record(t, map[string]any{"mac_address": "AA:BB", "temp": 3})))
	all, err = s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all.Items, 3)
	assert.Equal(t, map[string]any{"name": "orphan"}, all.Items[0].Fields)
	assert.Equal(t, "AA:BB", all.Items[1].ID)
	assert.Equal(t, json.Number("42"), all.Items[2].Fields["mac_address"])
}

func TestRecords_MarshalJSON(t *testing.T) {
	rec := model.NewDeviceRecord("AA:BB")
	rec.Fields["status"] = "on"

	data, err := json.Marshal(Records{Shape: ShapeList, Items: []model.DeviceRecord{rec}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"mac_address":"AA:BB","status":"on"}]`, string(data))

	data, err = json.Marshal(Records{Shape: ShapeMap, Items: []model.DeviceRecord{rec}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"AA:BB":{"mac_address":"AA:BB","status":"on"}}`, string(data))
}

func TestParseShape(t *testing.T) {
	shape, err := ParseShape("")
	require.NoError(t, err)
	assert.Equal(t, ShapeList, shape)

	shape, err = ParseShape("map")
	require.NoError(t, err)
	assert.Equal(t, ShapeMap, shape)

	_, err = ParseShape("tree")
	assert.Error(t, err)
}
