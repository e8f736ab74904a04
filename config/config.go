package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"golang.org/x/xerrors"
)

const (
	DefaultUpstreamURL      = "https://nile.trongrid.io/jsonrpc"
	DefaultPort             = 8080
	DefaultUpstreamTimeout  = 120 * time.Second
	DefaultBatchConcurrency = 4
	// TronGrid rejects eth_getLogs ranges larger than 5000 blocks.
	DefaultMaxLogBlockRange = 5000

	// APIKeyHeader authenticates requests against TronGrid.
	APIKeyHeader = "TRON-PRO-API-KEY"
)

type (
	Config struct {
		UpstreamURL      string        `koanf:"upstream_rpc_url" validate:"required,url"`
		APIKey           string        `koanf:"tron_grid_api_key"`
		Port             int           `koanf:"port" validate:"min=1,max=65535"`
		UpstreamTimeout  time.Duration `koanf:"upstream_timeout" validate:"required"`
		BatchConcurrency int           `koanf:"batch_concurrency" validate:"min=1"`
		MaxLogBlockRange uint64        `koanf:"max_log_block_range" validate:"min=1"`
		Debug            bool          `koanf:"debug"`
	}

	Option func(cfg *Config)
)

// Variables read from the environment. Anything else is ignored.
var knownKeys = map[string]struct{}{
	"upstream_rpc_url":    {},
	"tron_grid_api_key":   {},
	"port":                {},
	"upstream_timeout":    {},
	"batch_concurrency":   {},
	"max_log_block_range": {},
	"debug":               {},
}

func defaults() map[string]any {
	return map[string]any{
		"upstream_rpc_url":    DefaultUpstreamURL,
		"tron_grid_api_key":   "",
		"port":                DefaultPort,
		"upstream_timeout":    DefaultUpstreamTimeout.String(),
		"batch_concurrency":   DefaultBatchConcurrency,
		"max_log_block_range": DefaultMaxLogBlockRange,
		"debug":               false,
	}
}

// New loads the configuration from defaults and the process environment,
// applies the options and validates the result.
func New(opts ...Option) (*Config, error) {
	ko := koanf.New(".")

	if err := ko.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, xerrors.Errorf("failed to load config defaults: %w", err)
	}

	err := ko.Load(env.ProviderWithValue("", ".", func(s string, v string) (string, interface{}) {
		key := strings.ToLower(s)
		if _, ok := knownKeys[key]; !ok {
			return "", nil
		}

		// Empty variables fall back to the defaults.
		v = strings.TrimSpace(v)
		if v == "" {
			return "", nil
		}

		if key == "debug" {
			// Any non-empty value turns debug on.
			return key, true
		}
		return key, v
	}), nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to load environment: %w", err)
	}

	cfg := new(Config)
	if err := ko.Unmarshal("", cfg); err != nil {
		return nil, xerrors.Errorf("failed to decode config: %w", err)
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return xerrors.Errorf("invalid config: %w", err)
	}
	return nil
}

// ListenAddress is the address the HTTP server binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("0.0.0.0:%d", c.Port)
}

// UpstreamHeaders are sent with every upstream call.
func (c *Config) UpstreamHeaders() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if c.APIKey != "" {
		headers[APIKeyHeader] = c.APIKey
	}
	return headers
}

func WithPort(port int) Option {
	return func(cfg *Config) {
		if port != 0 {
			cfg.Port = port
		}
	}
}

func WithUpstreamURL(url string) Option {
	return func(cfg *Config) {
		if url != "" {
			cfg.UpstreamURL = url
		}
	}
}

// LoadEnvFile exports the KEY=VALUE lines of path into the process
// environment. Variables that already hold a non-empty value keep it. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.Errorf("failed to read %s: %w", path, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if current, ok := os.LookupEnv(key); ok && strings.TrimSpace(current) != "" {
			continue
		}
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if err := os.Setenv(key, value); err != nil {
			return xerrors.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}
