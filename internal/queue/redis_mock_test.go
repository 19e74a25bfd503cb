// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestRedis_CommandErrors(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	q := NewRedis(db, "relay:test")

	data, err := msgpack.Marshal("reboot")
	require.NoError(t, err)

	mock.ExpectRPush("relay:test", data).SetErr(errors.New("OOM command not allowed"))
	err = q.Enqueue(ctx, "reboot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OOM")

	mock.ExpectLLen("relay:test").SetErr(errors.New("LOADING"))
	_, err = q.Len(ctx)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_CorruptItem(t *testing.T) {
	ctx := context.Background()
	rq := newRedisQueue(t)

	good, err := msgpack.Marshal("ok")
	require.NoError(t, err)
	// 0xc1 is never used by msgpack.
	require.NoError(t, rq.rdb.RPush(ctx, rq.key, good, []byte{0xc1}).Err())

	items, err := rq.DrainAll(ctx)
	assert.Error(t, err)
	assert.Equal(t, []any{"ok"}, items)

	n, err := rq.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "the list is drained even when an item cannot be decoded")
}
