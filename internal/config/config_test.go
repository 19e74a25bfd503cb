// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// isolate keeps the search path away from real config files.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:5000", cfg.Server.Address)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "file", cfg.Storage.Type)
	assert.Equal(t, "device_status", cfg.Storage.Collections.Status)
	assert.Equal(t, "change_device_status", cfg.Storage.Collections.Mailbox)
	assert.Equal(t, "device_data", cfg.Storage.Collections.Logs)
	assert.Equal(t, "list", cfg.Status.Shape)
	assert.True(t, cfg.Status.StampLastSeen)
	assert.Equal(t, 5, cfg.Obfuscation.Key)
	assert.Equal(t, "memory", cfg.Relay.Backend)
	assert.Equal(t, time.Second, cfg.Relay.StreamInterval)
	assert.False(t, cfg.Serial.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.ConfigFile)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoadConfig_File(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
server:
  address: "127.0.0.1:8080"
storage:
  type: SQLite
  dsn: "file:test.db"
  codec: msgpack
status:
  shape: map
  time_zone: UTC
relay:
  backend: redis
  stream_interval: 250ms
serial:
  enabled: true
  device: /dev/ttyS1
  parity: e
log:
  level: debug
`)

	cfg, err := LoadConfig([]string{"-c", path})
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Address)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "msgpack", cfg.Storage.Codec)
	assert.Equal(t, "map", cfg.Status.Shape)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.StreamInterval)
	assert.True(t, cfg.NeedsRedis())
	assert.Equal(t, "/dev/ttyS1", cfg.Serial.Device)
	assert.Equal(t, "E", cfg.Serial.Parity)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_Precedence(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
storage:
  type: file
  path: /from/file
log:
  level: warn
`)
	t.Setenv("DEVICESYNC_STORAGE_PATH", "/from/env")
	t.Setenv("DEVICESYNC_LOG_LEVEL", "error")
	t.Setenv("DEVICESYNC_OBFUSCATION_KEY", "7")

	cfg, err := LoadConfig([]string{"--config", path, "-v", "debug"})
	require.NoError(t, err)

	assert.Equal(t, "/from/env", cfg.Storage.Path, "env beats file")
	assert.Equal(t, "debug", cfg.Log.Level, "flag beats env")
	assert.Equal(t, 7, cfg.Obfuscation.Key)
}

func TestLoadConfig_Invalid(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		body string
	}{
		{"storage type", "storage:\n  type: floppy\n"},
		{"codec", "storage:\n  codec: xml\n"},
		{"shape", "status:\n  shape: tree\n"},
		{"time zone", "status:\n  time_zone: Nowhere/Land\n"},
		{"key", "obfuscation:\n  key: 300\n"},
		{"relay backend", "relay:\n  backend: kafka\n"},
		{"serial device", "serial:\n  enabled: true\n  device: \"\"\n"},
		{"shared collection", "storage:\n  collections:\n    mailbox: device_status\n"},
		{"empty collection", "storage:\n  collections:\n    logs: \"\"\n"},
		{"shared relay key", "relay:\n  backend: redis\n  logs_key: relay:commands\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig([]string{"-c", writeConfig(t, tt.body)})
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_BadFile(t *testing.T) {
	isolate(t)

	_, err := LoadConfig([]string{"-c", writeConfig(t, "server: [unclosed")})
	assert.Error(t, err)

	_, err = LoadConfig([]string{"--no-such-flag"})
	assert.Error(t, err)
}
