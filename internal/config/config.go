// Package config loads server configuration from YAML with sensible
// defaults, so the binary runs with no config file at all.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML carries Go syntax ("5s", "100ms").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full server configuration. Durations use Go syntax in
// YAML ("5s", "100ms").
type Config struct {
	SSHAddr     string `yaml:"ssh_addr"`
	WSAddr      string `yaml:"ws_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	HostKeyPath string `yaml:"host_key_path"`

	WorldSeed      int64 `yaml:"world_seed"`
	TickRate       int   `yaml:"tick_rate"`
	ChunkCacheSize int   `yaml:"chunk_cache_size"`
	NPCCount       int   `yaml:"npc_count"`

	RequestTimeout  Duration `yaml:"request_timeout"`
	SnapshotTimeout Duration `yaml:"snapshot_timeout"`
	StartupTimeout  Duration `yaml:"startup_timeout"`
	RestartBackoff  Duration `yaml:"restart_backoff"`
	SettleDelay     Duration `yaml:"settle_delay"`

	// MaxQueuedBytes caps buffered output per connection; HighWaterBytes
	// is the queue depth above which whole frames are skipped.
	MaxQueuedBytes int `yaml:"max_queued_bytes"`
	HighWaterBytes int `yaml:"high_water_bytes"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		SSHAddr:         ":2222",
		WSAddr:          ":8080",
		MetricsAddr:     ":9090",
		HostKeyPath:     "host_key",
		WorldSeed:       1,
		TickRate:        10,
		ChunkCacheSize:  256,
		RequestTimeout:  Duration(5 * time.Second),
		SnapshotTimeout: Duration(30 * time.Second),
		StartupTimeout:  Duration(10 * time.Second),
		RestartBackoff:  Duration(time.Second),
		SettleDelay:     Duration(100 * time.Millisecond),
		MaxQueuedBytes:  256 << 10,
		HighWaterBytes:  128 << 10,
		LogLevel:        "info",
	}
}

// Load reads path over the defaults. An empty path or a missing file
// yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TickRate <= 0 {
		return fmt.Errorf("config: tick_rate must be positive, got %d", c.TickRate)
	}
	if c.MaxQueuedBytes <= 0 {
		return fmt.Errorf("config: max_queued_bytes must be positive, got %d", c.MaxQueuedBytes)
	}
	if c.HighWaterBytes > c.MaxQueuedBytes {
		return fmt.Errorf("config: high_water_bytes %d exceeds max_queued_bytes %d",
			c.HighWaterBytes, c.MaxQueuedBytes)
	}
	return nil
}
