// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override,
// e.g. DEVICESYNC_STORAGE_TYPE.
const EnvPrefix = "DEVICESYNC"

// Config defines the global configuration structure
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Status      StatusConfig      `mapstructure:"status"`
	Obfuscation ObfuscationConfig `mapstructure:"obfuscation"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Serial      SerialConfig      `mapstructure:"serial"`
	Log         LogConfig         `mapstructure:"log"`

	// ConfigFile is the file that was read, empty if none was found.
	ConfigFile string `mapstructure:"-"`
}

// ServerConfig defines the HTTP listener
type ServerConfig struct {
	Address         string        `mapstructure:"address"` // e.g. "0.0.0.0:5000"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"` // CORS, "*" allows all
}

// StorageConfig defines where the collections are persisted
type StorageConfig struct {
	Type        string            `mapstructure:"type"`  // "memory", "file", "mmap", "sqlite", "redis"
	Path        string            `mapstructure:"path"`  // Directory for "file/mmap"
	DSN         string            `mapstructure:"dsn"`   // Data source for "sqlite"
	Codec       string            `mapstructure:"codec"` // "json", "msgpack"
	Redis       RedisConfig       `mapstructure:"redis"`
	Collections CollectionsConfig `mapstructure:"collections"`
}

// RedisConfig defines the Redis connection shared by storage and relay
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// CollectionsConfig names the persisted unit behind each store
type CollectionsConfig struct {
	Status  string `mapstructure:"status"`
	Mailbox string `mapstructure:"mailbox"`
	Logs    string `mapstructure:"logs"`
}

// StatusConfig defines the device status store
type StatusConfig struct {
	Shape         string `mapstructure:"shape"` // "list", "map"
	StampLastSeen bool   `mapstructure:"stamp_last_seen"`
	TimeZone      string `mapstructure:"time_zone"`
	TimeLayout    string `mapstructure:"time_layout"`
}

// ObfuscationConfig defines the key inbound log entries are decoded with
type ObfuscationConfig struct {
	Key int `mapstructure:"key"`
}

// RelayConfig defines the command/log relay queues
type RelayConfig struct {
	Backend        string        `mapstructure:"backend"` // "memory", "redis"
	CommandsKey    string        `mapstructure:"commands_key"`
	LogsKey        string        `mapstructure:"logs_key"`
	StreamInterval time.Duration `mapstructure:"stream_interval"`
}

// SerialConfig defines an optional serial line agents report status on
type SerialConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// Delay before reopening the port after a read failure
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// SetDefaults registers every default on v. Keys without a default are
// invisible to environment overrides.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0:5000")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.path", "./data")
	v.SetDefault("storage.dsn", "file:devicesync.db")
	v.SetDefault("storage.codec", "json")
	v.SetDefault("storage.redis.address", "127.0.0.1:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "devicesync:")
	v.SetDefault("storage.collections.status", "device_status")
	v.SetDefault("storage.collections.mailbox", "change_device_status")
	v.SetDefault("storage.collections.logs", "device_data")

	v.SetDefault("status.shape", "list")
	v.SetDefault("status.stamp_last_seen", true)
	v.SetDefault("status.time_zone", "UTC")
	v.SetDefault("status.time_layout", time.RFC3339)

	v.SetDefault("obfuscation.key", 5)

	v.SetDefault("relay.backend", "memory")
	v.SetDefault("relay.commands_key", "relay:commands")
	v.SetDefault("relay.logs_key", "relay:logs")
	v.SetDefault("relay.stream_interval", time.Second)

	v.SetDefault("serial.enabled", false)
	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.timeout", 5*time.Second)
	v.SetDefault("serial.reconnect_delay", 2*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// LoadConfig loads configuration from command line arguments, environment
// and the config file, in that order of precedence.
func LoadConfig(args []string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	fs := pflag.NewFlagSet("devicesync", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Configuration file path.")
	fs.StringP("listen", "A", v.GetString("server.address"), "HTTP server address to bind.")
	fs.StringP("storage", "t", v.GetString("storage.type"), "Storage type (memory, file, mmap, sqlite, redis).")
	fs.StringP("data_dir", "d", v.GetString("storage.path"), "Directory for file and mmap storage.")
	fs.StringP("log_level", "v", v.GetString("log.level"), "Log verbosity level (debug, info, warn, error).")
	fs.StringP("log_file", "L", v.GetString("log.file"), "Log file name ('-' for logging to STDOUT only).")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	for key, flag := range map[string]string{
		"server.address": "listen",
		"storage.type":   "storage",
		"storage.path":   "data_dir",
		"log.level":      "log_level",
		"log.file":       "log_file",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile, _ := fs.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/devicesync/")
		v.AddConfigPath("$HOME/.devicesync")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// Configuration can come from flags and environment alone.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.ConfigFile = v.ConfigFileUsed()

	fixupSerial(&config.Serial)
	config.Storage.Type = strings.ToLower(config.Storage.Type)
	config.Relay.Backend = strings.ToLower(config.Relay.Backend)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "memory", "file", "mmap", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if (c.Storage.Type == "file" || c.Storage.Type == "mmap") && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for %s storage", c.Storage.Type)
	}
	if err := c.Storage.Collections.validate(); err != nil {
		return err
	}
	switch c.Storage.Codec {
	case "", "json", "msgpack":
	default:
		return fmt.Errorf("unknown storage codec %q", c.Storage.Codec)
	}
	switch c.Status.Shape {
	case "", "list", "map":
	default:
		return fmt.Errorf("unknown status shape %q", c.Status.Shape)
	}
	if _, err := time.LoadLocation(c.Status.TimeZone); err != nil {
		return fmt.Errorf("invalid status.time_zone: %w", err)
	}
	if c.Obfuscation.Key < 1 || c.Obfuscation.Key > 255 {
		return fmt.Errorf("obfuscation.key must be in 1..255, got %d", c.Obfuscation.Key)
	}
	switch c.Relay.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown relay backend %q", c.Relay.Backend)
	}
	if c.Relay.Backend == "redis" && c.Relay.CommandsKey == c.Relay.LogsKey {
		return fmt.Errorf("relay.commands_key and relay.logs_key must differ, both are %q", c.Relay.CommandsKey)
	}
	if c.Relay.StreamInterval <= 0 {
		return errors.New("relay.stream_interval must be positive")
	}
	if c.Serial.Enabled && c.Serial.Device == "" {
		return errors.New("serial.device is required when serial is enabled")
	}
	return nil
}

// validate rejects empty or shared unit names. Each store serializes its
// own unit; two stores on one unit would overwrite each other.
func (c CollectionsConfig) validate() error {
	seen := make(map[string]string, 3)
	for _, unit := range []struct{ key, name string }{
		{"status", c.Status},
		{"mailbox", c.Mailbox},
		{"logs", c.Logs},
	} {
		if unit.name == "" {
			return fmt.Errorf("storage.collections.%s must not be empty", unit.key)
		}
		if other, ok := seen[unit.name]; ok {
			return fmt.Errorf("storage.collections.%s and storage.collections.%s both use %q", other, unit.key, unit.name)
		}
		seen[unit.name] = unit.key
	}
	return nil
}

// NeedsRedis reports whether any component connects to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Storage.Type == "redis" || c.Relay.Backend == "redis"
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 5 * time.Second
	}
	if s.ReconnectDelay == 0 {
		s.ReconnectDelay = 2 * time.Second
	}
}
