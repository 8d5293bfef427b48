// Package runtimeconfig carries theater's process-level configuration:
// the knobs that belong to the host process rather than to any one
// actor (actor-level configuration is the manifest's job, C5). Values
// come from an optional TOML or YAML file overlaid by environment
// variables, explicit struct fields rather than a generic configuration
// framework.
package runtimeconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Chain store backend names accepted by Config.ChainStore.
const (
	StoreInMem = "inmem"
	StoreRedis = "redis"
	StoreMongo = "mongo"
)

// Config is the process-level runtime configuration.
type Config struct {
	// ChainStore selects the chain.Store backend: inmem, redis, or mongo.
	ChainStore string `toml:"chain_store" yaml:"chain_store"`
	// ChainsDir is where save_chain manifests persist their chain files.
	ChainsDir string `toml:"chains_dir" yaml:"chains_dir"`
	// RedisAddr is the redis backend's address, when ChainStore is redis.
	RedisAddr string `toml:"redis_addr" yaml:"redis_addr"`
	// MongoURI is the mongo backend's connection string, when ChainStore
	// is mongo.
	MongoURI string `toml:"mongo_uri" yaml:"mongo_uri"`
	// LogLevel is the minimum level emitted: debug, info, warn, or error.
	LogLevel string `toml:"log_level" yaml:"log_level"`
	// OperationTimeout bounds a single guest export call.
	OperationTimeout time.Duration `toml:"operation_timeout" yaml:"operation_timeout"`
	// ShutdownGrace bounds how long teardown waits for handler tasks
	// before aborting them.
	ShutdownGrace time.Duration `toml:"shutdown_grace" yaml:"shutdown_grace"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		ChainStore:       StoreInMem,
		ChainsDir:        "chains",
		LogLevel:         "info",
		OperationTimeout: 10 * time.Second,
		ShutdownGrace:    5 * time.Second,
	}
}

// Load builds the effective configuration: defaults, overlaid by the
// file at path (if path is non-empty), overlaid by THEATER_* environment
// variables. The file format follows the extension: .toml, or .yaml/.yml.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("runtimeconfig: read %s: %w", path, err)
	}
	switch filepath.Ext(path) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("runtimeconfig: parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("runtimeconfig: parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("runtimeconfig: unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// applyEnv overlays THEATER_* environment variables, each mirroring one
// Config field.
func applyEnv(cfg *Config) {
	if v := os.Getenv("THEATER_CHAIN_STORE"); v != "" {
		cfg.ChainStore = v
	}
	if v := os.Getenv("THEATER_CHAINS_DIR"); v != "" {
		cfg.ChainsDir = v
	}
	if v := os.Getenv("THEATER_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("THEATER_MONGO_URI"); v != "" {
		cfg.MongoURI = v
	}
	if v := os.Getenv("THEATER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("THEATER_OPERATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OperationTimeout = d
		}
	}
	if v := os.Getenv("THEATER_SHUTDOWN_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownGrace = d
		}
	}
}

func (c Config) validate() error {
	switch c.ChainStore {
	case StoreInMem:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("runtimeconfig: chain_store %q requires redis_addr", c.ChainStore)
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("runtimeconfig: chain_store %q requires mongo_uri", c.ChainStore)
		}
	default:
		return fmt.Errorf("runtimeconfig: unknown chain_store %q", c.ChainStore)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("runtimeconfig: unknown log_level %q", c.LogLevel)
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("runtimeconfig: operation_timeout must be positive")
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("runtimeconfig: shutdown_grace must be positive")
	}
	return nil
}
