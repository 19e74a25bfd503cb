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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/devicesync/internal/model"
	"github.com/ffutop/devicesync/internal/obfuscate"
	"github.com/ffutop/devicesync/internal/persistence"
)

func TestLogStore_AppendKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := NewLogStore("device_data", persistence.NewMemoryStorage(), persistence.JSONCodec{}, nil)

	require.NoError(t, s.Append(ctx, "AA:BB", "2026-10-16", model.LogEntry{"dn": "first"}))
	require.NoError(t, s.Append(ctx, "AA:BB", "2026-10-16", model.LogEntry{"dn": "second"}, model.LogEntry{"dn": "third"}))
	require.NoError(t, s.Append(ctx, "AA:BB", "2026-10-17", model.LogEntry{"dn": "next day"}))

	book, err := s.ReadFor(ctx, "AA:BB")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-16", "2026-10-17"}, book.Buckets())
	require.Len(t, book["2026-10-16"], 3)

	// Keys and values are decoded with the default key ("dn" -> "ak").
	obf := obfuscate.Default()
	for i, want := range []string{"first", "second", "third"} {
		assert.Equal(t, obf.Decode(want), book["2026-10-16"][i]["ak"])
	}
}

func TestLogStore_DecodeKeepsNonStrings(t *testing.T) {
	ctx := context.Background()
	obf := obfuscate.Default()
	s := NewLogStore("device_data", persistence.NewMemoryStorage(), persistence.JSONCodec{}, obf)

	entry := obf.EncodeEntry(model.LogEntry{"event": "door open", "count": 3, "ok": true})
	require.NoError(t, s.Append(ctx, "AA:BB", "t1", entry))

	book, err := s.ReadFor(ctx, "AA:BB")
	require.NoError(t, err)
	require.Len(t, book["t1"], 1)
	assert.Equal(t, model.LogEntry{"event": "door open", "count": json.Number("3"), "ok": true}, book["t1"][0])
}

func TestLogStore_UnknownDeviceIsEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewLogStore("device_data", persistence.NewMemoryStorage(), persistence.JSONCodec{}, nil)

	book, err := s.ReadFor(ctx, "AA:BB")
	require.NoError(t, err)
	assert.Empty(t, book)

	require.NoError(t, s.Append(ctx, "CC:DD", "t1", model.LogEntry{"a": "b"}))
	book, err = s.ReadFor(ctx, "AA:BB")
	require.NoError(t, err)
	assert.Empty(t, book)
}

func TestLogStore_AppendWithoutEntriesCreatesBucket(t *testing.T) {
	ctx := context.Background()
	s := NewLogStore("device_data", persistence.NewMemoryStorage(), persistence.JSONCodec{}, nil)

	require.NoError(t, s.Append(ctx, "AA:BB", "t1"))
	book, err := s.ReadFor(ctx, "AA:BB")
	require.NoError(t, err)
	assert.Contains(t, book, "t1")
	assert.Empty(t, book["t1"])
}

func TestLogStore_Validation(t *testing.T) {
	ctx := context.Background()
	s := NewLogStore("device_data", persistence.NewMemoryStorage(), persistence.JSONCodec{}, nil)

	assert.ErrorIs(t, s.Append(ctx, "", "t1"), ErrValidation)

	err := s.Append(ctx, "AA:BB", "")
	require.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "timestamp", verr.Field)

	_, err = s.ReadFor(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLogStore_CorruptUnit(t *testing.T) {
	ctx := context.Background()
	mem := persistence.NewMemoryStorage()
	require.NoError(t, mem.Write(ctx, "device_data", []byte(`["not", "a", "map"]`)))
	s := NewLogStore("device_data", mem, persistence.JSONCodec{}, nil)

	_, err := s.ReadFor(ctx, "AA:BB")
	assert.ErrorIs(t, err, ErrCorruptState)

	require.NoError(t, s.Append(ctx, "AA:BB", "t1", model.LogEntry{"a": "b"}))
	book, err := s.ReadFor(ctx, "AA:BB")
	require.NoError(t, err)
	assert.Len(t, book["t1"], 1)
}

func TestLogStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := NewLogStore("device_data", persistence.NewMemoryStorage(), persistence.MsgpackCodec{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("dev-%d", i%4)
			assert.NoError(t, s.Append(ctx, id, "t1", model.LogEntry{"n": i}))
		}(i)
	}
	wg.Wait()

	total := 0
	for d := 0; d < 4; d++ {
		book, err := s.ReadFor(ctx, fmt.Sprintf("dev-%d", d))
		require.NoError(t, err)
		total += len(book["t1"])
	}
	assert.Equal(t, 40, total)
}
