// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStorage implements persistence using a SQL database.
// Each unit is one row of the `collections` table.
type SQLStorage struct {
	driver string
	dsn    string
	db     *sql.DB
}

// NewSQLStorage opens the database and creates the schema if needed.
// The default driver is the pure-Go "sqlite".
func NewSQLStorage(ctx context.Context, driver, dsn string) (*SQLStorage, error) {
	if driver == "" {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLStorage{driver: driver, dsn: dsn, db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *SQLStorage) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLStorage) Read(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM collections WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	return data, nil
}

func (s *SQLStorage) Write(ctx context.Context, name string, data []byte) error {
	query := "INSERT INTO collections (name, data, updated_at) VALUES (?, ?, ?) ON CONFLICT(name) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at"
	if _, err := s.db.ExecContext(ctx, query, name, data, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to persist collection: %w", err)
	}
	return nil
}

func (s *SQLStorage) List(ctx context.Context) ([]UnitInfo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, length(data) FROM collections ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	var infos []UnitInfo
	for rows.Next() {
		var info UnitInfo
		if err := rows.Scan(&info.Name, &info.Size); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
