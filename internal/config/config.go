// Package config loads and validates the directory processing core's
// configuration, generalized from NoiseFS's pkg/infrastructure/config:
// a nested JSON-tagged struct, defaults applied before any file is read,
// environment variable overrides, and a Validate pass before use.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// WatchConfig governs the Directory Scanner (SPEC_FULL.md §6
// watch.*).
type WatchConfig struct {
	Directories      []string `json:"directories"`
	SupportedFormats []string `json:"supported_formats"`
	Recursive        bool     `json:"recursive"`
	MaxFileSize      int64    `json:"max_file_size"`
	ScanInterval     int      `json:"scan_interval_seconds"`
}

// FleetConfig governs the Master's admission and shutdown policy
// (§6 fleet.*, §12 drain sequencing).
type FleetConfig struct {
	MaxProcesses      int `json:"max_processes"`
	DrainGraceSeconds int `json:"drain_grace_seconds"`
}

// LockConfig governs the Lock Manager's advisory staleness threshold
// (§6 lock.timeout — advisory only; liveness is the real authority).
type LockConfig struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// ChunkingConfig governs the Chunking Manager (§6 chunking.*).
type ChunkingConfig struct {
	MaxBlockSize      int `json:"max_block_size"`
	MaxBlocksPerBatch int `json:"max_blocks_per_batch"`
}

// UpstreamServiceConfig is one entry of the upstream.<service> map.
type UpstreamServiceConfig struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Retries        int    `json:"retries"`
}

// RetryConfig governs the Error Handler's backoff shape (§6 retry.*).
type RetryConfig struct {
	BaseDelayMillis int `json:"base_delay_ms"`
	MaxDelayMillis  int `json:"max_delay_ms"`
	MaxAttempts     int `json:"max_attempts"`
}

func (r RetryConfig) BaseDelay() time.Duration { return time.Duration(r.BaseDelayMillis) * time.Millisecond }
func (r RetryConfig) MaxDelay() time.Duration  { return time.Duration(r.MaxDelayMillis) * time.Millisecond }

// HeartbeatConfig governs Worker liveness (§6 heartbeat.*).
type HeartbeatConfig struct {
	IntervalSeconds int `json:"interval_seconds"`
	TimeoutSeconds  int `json:"timeout_seconds"`
}

func (h HeartbeatConfig) Interval() time.Duration { return time.Duration(h.IntervalSeconds) * time.Second }
func (h HeartbeatConfig) Timeout() time.Duration  { return time.Duration(h.TimeoutSeconds) * time.Second }

// DatabaseConfig configures the Database View's local Postgres mirror
// (SPEC_FULL.md §11.3); not part of spec.md's configuration surface,
// but ambient infrastructure the core needs to boot.
type DatabaseConfig struct {
	DSN            string `json:"dsn"`
	MigrationsPath string `json:"migrations_path"`
}

// LoggingConfig governs internal/telemetry/logging (ambient, §10.1).
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// CommandSurfaceConfig configures the outward JSON-RPC command surface
// (§6, §10.7).
type CommandSurfaceConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// IPCConfig configures the Master↔Worker WebSocket transport (§11.5).
type IPCConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// Config is the root configuration object, JSON-serializable and
// round-trippable via Save/Load, matching the teacher's pattern.
type Config struct {
	Watch          WatchConfig                      `json:"watch"`
	Fleet          FleetConfig                      `json:"fleet"`
	Lock           LockConfig                       `json:"lock"`
	Chunking       ChunkingConfig                   `json:"chunking"`
	Upstream       map[string]UpstreamServiceConfig `json:"upstream"`
	Retry          RetryConfig                      `json:"retry"`
	Heartbeat      HeartbeatConfig                  `json:"heartbeat"`
	Database       DatabaseConfig                   `json:"database"`
	Logging        LoggingConfig                    `json:"logging"`
	CommandSurface CommandSurfaceConfig             `json:"command_surface"`
	IPC            IPCConfig                        `json:"ipc"`
}

// Default service names for the three upstream collaborators named in
// SPEC_FULL.md §6, with their documented default ports.
const (
	ServiceVectorStore  = "vector_store"
	ServiceSegmentation = "segmentation"
	ServiceEmbedding    = "embedding"
)

// DefaultConfig returns a Config with every default value SPEC_FULL.md
// §6 and §10 specify, mirroring the teacher's DefaultConfig().
func DefaultConfig() *Config {
	return &Config{
		Watch: WatchConfig{
			Directories:      nil,
			SupportedFormats: []string{".txt", ".md"},
			Recursive:        true,
			MaxFileSize:      10 * 1024 * 1024,
			ScanInterval:     60,
		},
		Fleet: FleetConfig{
			MaxProcesses:      4,
			DrainGraceSeconds: 30,
		},
		Lock: LockConfig{TimeoutSeconds: 300},
		Chunking: ChunkingConfig{
			MaxBlockSize:      4096,
			MaxBlocksPerBatch: 64,
		},
		Upstream: map[string]UpstreamServiceConfig{
			ServiceVectorStore:  {URL: "http://127.0.0.1:8007", TimeoutSeconds: 10, Retries: 3},
			ServiceSegmentation: {URL: "http://127.0.0.1:8009", TimeoutSeconds: 10, Retries: 3},
			ServiceEmbedding:    {URL: "http://127.0.0.1:8001", TimeoutSeconds: 10, Retries: 3},
		},
		Retry: RetryConfig{
			BaseDelayMillis: 100,
			MaxDelayMillis:  5000,
			MaxAttempts:     3,
		},
		Heartbeat: HeartbeatConfig{
			IntervalSeconds: 5,
			TimeoutSeconds:  30,
		},
		Database: DatabaseConfig{
			DSN:            "",
			MigrationsPath: "file://internal/dbview/migrations",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		CommandSurface: CommandSurfaceConfig{ListenAddr: "127.0.0.1:8500"},
		IPC:            IPCConfig{ListenAddr: "127.0.0.1:8501"},
	}
}

// Load reads configPath (if non-empty and present) over the defaults,
// applies environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides mirrors the teacher's environment override
// pass, scoped to the handful of settings an operator most often needs
// to flip without editing the config file.
func (c *Config) applyEnvironmentOverrides() {
	if v := os.Getenv("DOCANALYZER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOCANALYZER_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("DOCANALYZER_MAX_PROCESSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Fleet.MaxProcesses = n
		}
	}
	if v := os.Getenv("DOCANALYZER_RECURSIVE"); v != "" {
		c.Watch.Recursive = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("DOCANALYZER_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("DOCANALYZER_COMMAND_SURFACE_ADDR"); v != "" {
		c.CommandSurface.ListenAddr = v
	}
}

// Validate checks the configuration for the ConfigInvalid faults
// SPEC_FULL.md §7 classifies as fatal at Master startup.
func (c *Config) Validate() error {
	if c.Fleet.MaxProcesses <= 0 {
		return fmt.Errorf("fleet.max_processes must be positive, got %d", c.Fleet.MaxProcesses)
	}
	if c.Chunking.MaxBlockSize <= 0 {
		return fmt.Errorf("chunking.max_block_size must be positive")
	}
	if c.Chunking.MaxBlocksPerBatch <= 0 {
		return fmt.Errorf("chunking.max_blocks_per_batch must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	for name := range map[string]struct{}{ServiceVectorStore: {}, ServiceSegmentation: {}, ServiceEmbedding: {}} {
		svc, ok := c.Upstream[name]
		if !ok || svc.URL == "" {
			return fmt.Errorf("upstream.%s.url is required", name)
		}
	}
	for _, dir := range c.Watch.Directories {
		if dir == "" {
			return fmt.Errorf("watch.directories entries must be non-empty")
		}
	}
	return nil
}

// Save writes the configuration to path as indented JSON, for round-trip
// testing and for `docanalyzer init` style bootstrapping.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
