// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ffutop/devicesync/internal/api"
	"github.com/ffutop/devicesync/internal/config"
	"github.com/ffutop/devicesync/internal/ingest"
	"github.com/ffutop/devicesync/internal/obfuscate"
	"github.com/ffutop/devicesync/internal/persistence"
	"github.com/ffutop/devicesync/internal/queue"
	"github.com/ffutop/devicesync/internal/relay"
	"github.com/ffutop/devicesync/internal/store"
)

// App owns every long-lived component of the service.
type App struct {
	cfg *config.Config

	rdb     *redis.Client
	backend persistence.Backend

	Status  *store.StatusStore
	Mailbox *store.Mailbox
	Logs    *store.LogStore
	Relay   *relay.Service
	API     *api.Server
	Serial  *ingest.Serial
}

// NewApp wires the configured components without starting them.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	if cfg.NeedsRedis() {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Storage.Redis.Address, err)
		}
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.backend = backend

	if err := a.buildStores(); err != nil {
		a.Close()
		return nil, err
	}

	a.Relay = a.buildRelay()
	opts := []api.Option{
		api.WithRelay(a.Relay),
		api.WithUnitListing(a.backend),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		api.WithStreamInterval(cfg.Relay.StreamInterval),
	}

	if cfg.Serial.Enabled {
		in := ingest.NewIngester(a.Status, cfg.Serial.Device)
		a.Serial = ingest.NewSerial(cfg.Serial, in)
		opts = append(opts, api.WithIngestStats(in))
	}
	a.API = api.NewServer(a.Status, a.Mailbox, a.Logs, opts...)
	return a, nil
}

func (a *App) openBackend(ctx context.Context) (persistence.Backend, error) {
	cfg := a.cfg.Storage
	codec, err := persistence.NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "file":
		slog.Info("Initializing file storage", "path", cfg.Path)
		return persistence.NewFileStorage(cfg.Path, codec.Extension())
	case "mmap":
		slog.Info("Initializing MMAP storage", "path", cfg.Path)
		return persistence.NewMmapStorage(cfg.Path, codec.Extension())
	case "sqlite":
		slog.Info("Initializing SQL storage", "driver", "sqlite", "dsn", cfg.DSN)
		return persistence.NewSQLStorage(ctx, "sqlite", cfg.DSN)
	case "redis":
		slog.Info("Initializing Redis storage", "address", cfg.Redis.Address, "prefix", cfg.Redis.Prefix)
		return persistence.NewRedisStorage(a.rdb, cfg.Redis.Prefix), nil
	case "memory":
		slog.Info("Initializing memory storage (non-persistent)")
		return persistence.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func (a *App) buildStores() error {
	codec, err := persistence.NewCodec(a.cfg.Storage.Codec)
	if err != nil {
		return err
	}
	shape, err := store.ParseShape(a.cfg.Status.Shape)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(a.cfg.Status.TimeZone)
	if err != nil {
		return fmt.Errorf("failed to load time zone: %w", err)
	}
	transform, err := obfuscate.New(a.cfg.Obfuscation.Key)
	if err != nil {
		return err
	}

	names := a.cfg.Storage.Collections
	a.Status = store.NewStatusStore(names.Status, a.backend, codec, store.StatusOptions{
		Shape:         shape,
		StampLastSeen: a.cfg.Status.StampLastSeen,
		Location:      loc,
		TimeLayout:    a.cfg.Status.TimeLayout,
	})
	a.Mailbox = store.NewMailbox(names.Mailbox, a.backend, codec)
	a.Logs = store.NewLogStore(names.Logs, a.backend, codec, transform)
	return nil
}

func (a *App) buildRelay() *relay.Service {
	rc := a.cfg.Relay
	if rc.Backend == "redis" {
		slog.Info("Relay queues in Redis", "commands", rc.CommandsKey, "logs", rc.LogsKey)
		return relay.New(queue.NewRedis(a.rdb, rc.CommandsKey), queue.NewRedis(a.rdb, rc.LogsKey))
	}
	return relay.New(queue.NewMemory(), queue.NewMemory())
}

// Run starts the HTTP server and the serial ingester and blocks until ctx
// is cancelled or the HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var apiErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		apiErr = a.API.Start(ctx, a.cfg.Server)
	}()

	if a.Serial != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Serial.Run(ctx); err != nil {
				slog.Error("Serial ingest stopped with error", "err", err)
			}
		}()
	}

	wg.Wait()
	return apiErr
}

// Close releases the backend and the Redis connection.
func (a *App) Close() error {
	var errs []error
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	// A Redis backend owns the client and has closed it already.
	ownedByBackend := a.cfg.Storage.Type == "redis" && a.backend != nil
	if a.rdb != nil && !ownedByBackend {
		errs = append(errs, a.rdb.Close())
	}
	return errors.Join(errs...)
}
