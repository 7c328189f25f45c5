// Package config loads roomsync settings. Values are layered, later sources winning:
//
//   - built in defaults
//   - the YAML file named by --config or ROOMSYNC_CONFIG
//   - ROOMSYNC_* environment variables, including those from a .env file in the working directory
//   - command line flags
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/astromechza/roomsync/internal/store"
)

const envPrefix = "ROOMSYNC_"

type Config struct {
	Addr         string         `yaml:"addr"`
	ServerName   string         `yaml:"server_name"`
	MaxBodyBytes int64          `yaml:"max_body_bytes"`
	Store        StoreConfig    `yaml:"store"`
	Log          LogConfig      `yaml:"log"`
	Realtime     RealtimeConfig `yaml:"realtime"`
}

type StoreConfig struct {
	// Backend is one of file, sqlite or memory.
	Backend    string `yaml:"backend"`
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RealtimeConfig struct {
	SendBuffer   int           `yaml:"send_buffer"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

func Default() Config {
	return Config{
		Addr:         "localhost:3000",
		ServerName:   "blast-furnace-sync",
		MaxBodyBytes: 5 << 20,
		Store: StoreConfig{
			Backend:    store.BackendFile,
			DataDir:    "data",
			SQLitePath: "roomsync.sqlite3",
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Realtime: RealtimeConfig{
			SendBuffer:   64,
			PingInterval: 25 * time.Second,
		},
	}
}

// Load resolves the configuration for a command invoked with args (without the program name).
func Load(name string, args []string) (Config, error) {
	cfg := Default()

	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := flags.String("config", os.Getenv(envPrefix+"CONFIG"), "path to a YAML config file")
	addr := flags.String("addr", "", "the address to listen on")
	backend := flags.String("store", "", "room store backend: file, sqlite or memory")
	dataDir := flags.String("data-dir", "", "directory holding one JSON file per room (file backend)")
	sqlitePath := flags.String("sqlite-path", "", "database file (sqlite backend)")
	logLevel := flags.String("log-level", "", "debug, info, warn or error")
	logFormat := flags.String("log-format", "", "text or json")
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		if err := cfg.mergeFile(*configPath); err != nil {
			return cfg, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("failed to read .env: %w", err)
	}
	if err := cfg.mergeEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	override(&cfg.Addr, *addr)
	override(&cfg.Store.Backend, *backend)
	override(&cfg.Store.DataDir, *dataDir)
	override(&cfg.Store.SQLitePath, *sqlitePath)
	override(&cfg.Log.Level, *logLevel)
	override(&cfg.Log.Format, *logFormat)

	return cfg, cfg.Validate()
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ADDR":        &c.Addr,
		"SERVER_NAME": &c.ServerName,
		"STORE":       &c.Store.Backend,
		"DATA_DIR":    &c.Store.DataDir,
		"SQLITE_PATH": &c.Store.SQLitePath,
		"LOG_LEVEL":   &c.Log.Level,
		"LOG_FORMAT":  &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	// PORT is honoured for platforms that only hand out a port
	if v, ok := lookup("PORT"); ok && v != "" {
		if _, ok := lookup(envPrefix + "ADDR"); !ok {
			c.Addr = ":" + v
		}
	}
	if v, ok := lookup(envPrefix + "MAX_BODY_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_BODY_BYTES: %w", envPrefix, err)
		}
		c.MaxBodyBytes = n
	}
	if v, ok := lookup(envPrefix + "SEND_BUFFER"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sSEND_BUFFER: %w", envPrefix, err)
		}
		c.Realtime.SendBuffer = n
	}
	if v, ok := lookup(envPrefix + "PING_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sPING_INTERVAL: %w", envPrefix, err)
		}
		c.Realtime.PingInterval = d
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case store.BackendFile, store.BackendSQLite, store.BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	if c.Realtime.SendBuffer <= 0 || c.Realtime.PingInterval <= 0 {
		return fmt.Errorf("realtime send_buffer and ping_interval must be positive")
	}
	return nil
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return level, fmt.Errorf("unknown log level %q", l.Level)
	}
	return level, nil
}

// NewLogger builds the slog logger described by the config.
func (l LogConfig) NewLogger() *slog.Logger {
	level, _ := l.level()
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
