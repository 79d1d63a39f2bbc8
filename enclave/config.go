package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cloudx-io/escrowauction/core"
)

const (
	ListenerVsock = "vsock"
	ListenerTCP   = "tcp"

	StoreDriverCBOR   = "cbor"
	StoreDriverSQLite = "sqlite"
)

// Config is the enclave configuration. It is read from the TOML file named by
// ENCLAVE_CONFIG and then overridden by individual environment variables.
type Config struct {
	Operator     core.Account `toml:"operator"`
	Application  core.Account `toml:"application"`
	MaxWorkers   int          `toml:"max_workers"`
	RequireOptIn bool         `toml:"require_opt_in"`
	Attest       bool         `toml:"attest"`

	Listener   ListenerConfig   `toml:"listener"`
	Store      StoreConfig      `toml:"store"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Replay     ReplayConfig     `toml:"replay"`
}

type ListenerConfig struct {
	Mode    string `toml:"mode"`    // "vsock" or "tcp"
	Port    uint32 `toml:"port"`    // vsock port
	Address string `toml:"address"` // tcp address
}

type StoreConfig struct {
	Driver string `toml:"driver"` // "cbor" or "sqlite"
	Path   string `toml:"path"`   // snapshot file or sqlite DSN
}

type DispatcherConfig struct {
	Interval  Duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
}

type ReplayConfig struct {
	Window        Duration `toml:"window"`
	SweepInterval Duration `toml:"sweep_interval"`
}

// Duration lets TOML values like "10s" decode into a time.Duration
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		MaxWorkers: 8,
		Attest:     true,
		Listener: ListenerConfig{
			Mode: ListenerVsock,
			Port: 5000,
		},
		Store: StoreConfig{
			Driver: StoreDriverCBOR,
			Path:   "/var/lib/escrowauction/auction.cbor",
		},
		Dispatcher: DispatcherConfig{
			Interval:  Duration{2 * time.Second},
			BatchSize: 32,
		},
		Replay: ReplayConfig{
			Window:        Duration{10 * time.Minute},
			SweepInterval: Duration{time.Minute},
		},
	}
}

// LoadConfig reads the TOML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		log.Printf("INFO: Loaded config from %s", path)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("ENCLAVE_OPERATOR"); v != "" {
		c.Operator = core.Account(v)
	}
	if v := os.Getenv("ENCLAVE_APPLICATION"); v != "" {
		c.Application = core.Account(v)
	}
	if v := os.Getenv("ENCLAVE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}

	maxWorkers, ok, err := getEnvInt("ENCLAVE_MAX_WORKERS")
	if err != nil {
		return err
	}
	if ok {
		c.MaxWorkers = maxWorkers
	}

	port, ok, err := getEnvInt("ENCLAVE_PORT")
	if err != nil {
		return err
	}
	if ok {
		if port <= 0 {
			return fmt.Errorf("invalid value for ENCLAVE_PORT: %d (must be positive)", port)
		}
		c.Listener.Port = uint32(port)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Operator == "" {
		return fmt.Errorf("config: operator is required")
	}
	if c.Application == "" {
		return fmt.Errorf("config: application is required")
	}
	if c.Operator == c.Application {
		return fmt.Errorf("config: operator and application must differ")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("config: max_workers must be positive, got %d", c.MaxWorkers)
	}

	switch c.Listener.Mode {
	case ListenerVsock:
		if c.Listener.Port == 0 {
			return fmt.Errorf("config: listener.port is required for vsock")
		}
	case ListenerTCP:
		if c.Listener.Address == "" {
			return fmt.Errorf("config: listener.address is required for tcp")
		}
	default:
		return fmt.Errorf("config: unknown listener mode %q", c.Listener.Mode)
	}

	switch c.Store.Driver {
	case StoreDriverCBOR, StoreDriverSQLite:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("config: store.path is required")
	}

	if c.Dispatcher.Interval.Duration <= 0 {
		return fmt.Errorf("config: dispatcher.interval must be positive")
	}
	if c.Dispatcher.BatchSize <= 0 {
		return fmt.Errorf("config: dispatcher.batch_size must be positive")
	}
	if c.Replay.Window.Duration <= 0 || c.Replay.SweepInterval.Duration <= 0 {
		return fmt.Errorf("config: replay window and sweep_interval must be positive")
	}
	return nil
}

// getEnvInt parses an optional integer environment variable
func getEnvInt(key string) (int, bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false, nil
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	log.Printf("INFO: Using %s=%d from environment", key, intValue)
	return intValue, true, nil
}
