package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/GPTx-global/near-oracle/oracle/log"
	"github.com/GPTx-global/near-oracle/oracle/types"
)

const (
	FileName = "config.toml"

	QueryStylePath         = "path"
	QueryStyleCallFunction = "call_function"

	DefaultPollInterval = 1019 * time.Millisecond
)

type Config struct {
	Chain  ChainConfig  `toml:"chain"`
	Oracle OracleConfig `toml:"oracle"`
	Health HealthConfig `toml:"health"`
	Log    LogConfig    `toml:"log"`

	home string
}

type ChainConfig struct {
	Endpoint   string   `toml:"endpoint"`
	Contract   string   `toml:"contract"`
	Method     string   `toml:"method"`
	Args       string   `toml:"args"`
	QueryStyle string   `toml:"query_style"`
	Timeout    Duration `toml:"timeout"`
	// StartupAttempts bounds the wait for the node on start; 0 skips it.
	StartupAttempts int `toml:"startup_attempts"`
}

type OracleConfig struct {
	RequestSpec  string   `toml:"request_spec"`
	PollInterval Duration `toml:"poll_interval"`
	ResultBuffer int      `toml:"result_buffer"`
}

type HealthConfig struct {
	Enabled  bool     `toml:"enabled"`
	Listen   string   `toml:"listen"`
	Interval Duration `toml:"interval"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	ToFile bool   `toml:"to_file"`
}

// Duration is a time.Duration written as a string ("1019ms") in TOML.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the configuration written on first start.
func Default(home string) *Config {
	return &Config{
		Chain: ChainConfig{
			Endpoint:   "https://rpc.testnet.near.org",
			Contract:   "v0.oracle.testnet",
			Method:     "get_all_requests",
			Args:       "{}",
			QueryStyle: QueryStylePath,
			Timeout:    Duration(10 * time.Second),

			StartupAttempts: 5,
		},
		Oracle: OracleConfig{
			RequestSpec:  "testingFromCommandLine",
			PollInterval: Duration(DefaultPollInterval),
			ResultBuffer: 64,
		},
		Health: HealthConfig{
			Enabled:  true,
			Listen:   "127.0.0.1:26680",
			Interval: Duration(30 * time.Second),
		},
		Log: LogConfig{
			Level:  log.DefaultLevel,
			ToFile: false,
		},
		home: home,
	}
}

// DefaultHome is ~/.oracled.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".oracled"
	}

	return filepath.Join(home, ".oracled")
}

// Load reads <home>/config.toml, writing the defaults first when the file
// does not exist yet.
func Load(home string) (*Config, error) {
	path := filepath.Join(home, FileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefaultConfig(home, path); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		log.Infof("Created default config at %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default(home)
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errorsmod.Wrapf(types.ErrInvalidConfig, "failed to parse TOML %s: %v", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Infof("Loaded config from %s", path)

	return cfg, nil
}

func createDefaultConfig(home, path string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", home, err)
	}

	data, err := toml.Marshal(Default(home))
	if err != nil {
		return fmt.Errorf("failed to marshal TOML: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Chain.Endpoint == "" {
		return errorsmod.Wrap(types.ErrInvalidConfig, "chain endpoint is required")
	}

	if c.Chain.Contract == "" {
		return errorsmod.Wrap(types.ErrInvalidConfig, "contract is required")
	}

	if c.Chain.Method == "" {
		return errorsmod.Wrap(types.ErrInvalidConfig, "contract method is required")
	}

	if !json.Valid([]byte(c.Chain.Args)) {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "contract args must be JSON: %q", c.Chain.Args)
	}

	switch c.Chain.QueryStyle {
	case QueryStylePath, QueryStyleCallFunction:
	default:
		return errorsmod.Wrapf(types.ErrInvalidConfig, "unknown query style %q", c.Chain.QueryStyle)
	}

	if c.Chain.Timeout <= 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "chain timeout must be positive")
	}

	if c.Chain.StartupAttempts < 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "startup attempts cannot be negative")
	}

	if c.Oracle.RequestSpec == "" {
		return errorsmod.Wrap(types.ErrInvalidConfig, "request spec is required")
	}

	if c.Oracle.PollInterval <= 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "poll interval must be positive")
	}

	if c.Oracle.ResultBuffer < 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "result buffer cannot be negative")
	}

	if c.Health.Enabled {
		if c.Health.Listen == "" {
			return errorsmod.Wrap(types.ErrInvalidConfig, "health listen address is required")
		}
		if c.Health.Interval <= 0 {
			return errorsmod.Wrap(types.ErrInvalidConfig, "health interval must be positive")
		}
	}

	return nil
}

func (c *Config) Home() string {
	return c.home
}

func (c *Config) Print() {
	log.Infof("%-15s: %s", "Home", c.home)
	log.Infof("%-15s: %s", "Endpoint", c.Chain.Endpoint)
	log.Infof("%-15s: %s", "Contract", c.Chain.Contract)
	log.Infof("%-15s: %s", "Method", c.Chain.Method)
	log.Infof("%-15s: %s", "Query Style", c.Chain.QueryStyle)
	log.Infof("%-15s: %s", "Request Spec", c.Oracle.RequestSpec)
	log.Infof("%-15s: %s", "Poll Interval", c.Oracle.PollInterval.Duration())
	if c.Health.Enabled {
		log.Infof("%-15s: %s", "Health Listen", c.Health.Listen)
	}
}
