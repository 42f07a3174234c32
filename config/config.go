package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"rwastaking/crypto"
)

// EnvJWTSecret overrides Auth.HMACSecret so the secret can stay out of the file.
const EnvJWTSecret = "STAKINGD_JWT_SECRET"

// EnvReceiptsDSN overrides Receipts.DSN.
const EnvReceiptsDSN = "STAKINGD_RECEIPTS_DSN"

// EnvWebhookSecret overrides Webhooks.Secret.
const EnvWebhookSecret = "STAKINGD_WEBHOOK_SECRET"

type Config struct {
	ListenAddress string   `toml:"ListenAddress"`
	DataDir       string   `toml:"DataDir"`
	Environment   string   `toml:"Environment"`
	Admins        []string `toml:"Admins"`
	// PoolAccount defaults to the staking module account when empty.
	PoolAccount string `toml:"PoolAccount"`
	RewardDenom string `toml:"RewardDenom"`
	Paused      bool   `toml:"Paused"`

	ReadTimeoutSeconds  int `toml:"ReadTimeoutSeconds"`
	WriteTimeoutSeconds int `toml:"WriteTimeoutSeconds"`

	Auth      AuthConfig      `toml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Receipts  ReceiptsConfig  `toml:"receipts"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Webhooks  WebhooksConfig  `toml:"webhooks"`
}

type AuthConfig struct {
	HMACSecret       string `toml:"HMACSecret"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds int    `toml:"ClockSkewSeconds"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

type ReceiptsConfig struct {
	// Driver is sqlite or postgres.
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

type LoggingConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}

// WebhooksConfig enables signed event delivery when Endpoint is set.
type WebhooksConfig struct {
	Endpoint string   `toml:"Endpoint"`
	Secret   string   `toml:"Secret"`
	Topics   []string `toml:"Topics"`
}

type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
	Headers  string `toml:"Headers"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	var cfg *Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if cfg, err = createDefault(path); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		cfg = Default()
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s: unknown field %s", path, undecoded[0])
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh install.
func Default() *Config {
	return &Config{
		ListenAddress:       ":8090",
		DataDir:             "./staking-data",
		Environment:         "local",
		Admins:              []string{},
		RewardDenom:         "OM",
		ReadTimeoutSeconds:  10,
		WriteTimeoutSeconds: 10,
		Auth: AuthConfig{
			Issuer:           "rwa-staking",
			Audience:         "stakingd",
			ClockSkewSeconds: 30,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		Receipts:  ReceiptsConfig{Driver: "sqlite", DSN: "receipts.db"},
		Logging:   LoggingConfig{Level: "info"},
	}
}

func (c *Config) applyEnv() {
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		c.Auth.HMACSecret = secret
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvReceiptsDSN)); dsn != "" {
		c.Receipts.DSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvWebhookSecret)); secret != "" {
		c.Webhooks.Secret = secret
	}
}

// Validate checks the configuration for values the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if _, err := c.AdminAddresses(); err != nil {
		return err
	}
	if _, err := c.PoolAddress(); err != nil {
		return err
	}
	if len(c.Auth.HMACSecret) > 0 && len(c.Auth.HMACSecret) < 32 {
		return fmt.Errorf("config: auth.HMACSecret must be at least 32 bytes")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate_limit values must not be negative")
	}
	if strings.TrimSpace(c.Webhooks.Endpoint) != "" && c.Webhooks.Secret == "" {
		return fmt.Errorf("config: webhooks.Secret required when an endpoint is set")
	}
	switch strings.ToLower(c.Receipts.Driver) {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: receipts.Driver %q unsupported", c.Receipts.Driver)
	}
	return nil
}

// AdminAddresses parses the configured admin accounts.
func (c *Config) AdminAddresses() ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(c.Admins))
	for _, raw := range c.Admins {
		addr, err := crypto.ParseAddress(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("config: admin %q: %w", raw, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// PoolAddress returns the configured pool account, or the zero address when
// the module default should be used.
func (c *Config) PoolAddress() (crypto.Address, error) {
	if strings.TrimSpace(c.PoolAccount) == "" {
		return crypto.ZeroAddress, nil
	}
	addr, err := crypto.ParseAddress(strings.TrimSpace(c.PoolAccount))
	if err != nil {
		return crypto.ZeroAddress, fmt.Errorf("config: PoolAccount: %w", err)
	}
	return addr, nil
}

// ReadTimeout returns the HTTP read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the HTTP write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// ResolvePath anchors relative paths under DataDir.
func (c *Config) ResolvePath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
