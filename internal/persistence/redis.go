// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
)

// RedisStorage keeps each unit in a Redis string under prefix+name.
type RedisStorage struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStorage wraps an existing client. The storage owns the client and
// closes it on Close.
func NewRedisStorage(rdb *redis.Client, prefix string) *RedisStorage {
	return &RedisStorage{rdb: rdb, prefix: prefix}
}

func (s *RedisStorage) key(name string) string {
	return s.prefix + name
}

func (s *RedisStorage) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from redis: %w", name, err)
	}
	return data, nil
}

func (s *RedisStorage) Write(ctx context.Context, name string, data []byte) error {
	if err := s.rdb.Set(ctx, s.key(name), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", name, err)
	}
	return nil
}

func (s *RedisStorage) List(ctx context.Context) ([]UnitInfo, error) {
	var infos []UnitInfo
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		size, err := s.rdb.StrLen(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", key, err)
		}
		infos = append(infos, UnitInfo{Name: strings.TrimPrefix(key, s.prefix), Size: size})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan redis: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *RedisStorage) Close() error {
	return s.rdb.Close()
}
