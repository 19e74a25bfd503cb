// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package queue

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/ffutop/devicesync/internal/persistence"
)

// Redis is a Queue backed by a Redis list, shared by every process that
// uses the same key. Items are stored msgpack-encoded.
type Redis struct {
	rdb   *redis.Client
	key   string
	codec persistence.MsgpackCodec
}

func NewRedis(rdb *redis.Client, key string) *Redis {
	return &Redis{rdb: rdb, key: key}
}

func (q *Redis) Enqueue(ctx context.Context, item any) error {
	data, err := q.codec.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode queue item: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", q.key, err)
	}
	return nil
}

// DrainAll reads and deletes the list inside one MULTI/EXEC block.
func (q *Redis) DrainAll(ctx context.Context) ([]any, error) {
	var lrange *redis.StringSliceCmd
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, q.key, 0, -1)
		pipe.Del(ctx, q.key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain %s: %w", q.key, err)
	}

	// The list is already gone; undecodable items are reported but do not
	// hold back the rest of the batch.
	raw := lrange.Val()
	items := make([]any, 0, len(raw))
	var bad int
	var firstErr error
	for _, s := range raw {
		var item any
		if err := q.codec.Unmarshal([]byte(s), &item); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			bad++
			continue
		}
		items = append(items, item)
	}
	if firstErr != nil {
		return items, fmt.Errorf("failed to decode %d item(s) from %s: %w", bad, q.key, firstErr)
	}
	return items, nil
}

func (q *Redis) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get length of %s: %w", q.key, err)
	}
	return int(n), nil
}
