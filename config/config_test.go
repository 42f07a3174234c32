package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rwastaking/crypto"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stakingd.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8090" || cfg.Receipts.Driver != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.RateLimit.Burst != cfg.RateLimit.Burst {
		t.Fatalf("reload mismatch")
	}
}

func TestLoadParsesFileAndEnv(t *testing.T) {
	admin := crypto.ModuleAddress("test/admin")
	path := filepath.Join(t.TempDir(), "stakingd.toml")
	contents := `ListenAddress = "127.0.0.1:9100"
DataDir = "/var/lib/stakingd"
Admins = ["` + admin.String() + `"]
Paused = true

[rate_limit]
RequestsPerSecond = 5.5
Burst = 3

[receipts]
Driver = "postgres"
DSN = "postgres://file"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	secret := strings.Repeat("s", 32)
	t.Setenv(EnvJWTSecret, secret)
	t.Setenv(EnvReceiptsDSN, "postgres://env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Paused || cfg.RateLimit.RequestsPerSecond != 5.5 {
		t.Fatalf("unexpected values: %+v", cfg)
	}
	if cfg.Auth.HMACSecret != secret || cfg.Receipts.DSN != "postgres://env" {
		t.Fatalf("env overrides not applied")
	}
	admins, err := cfg.AdminAddresses()
	if err != nil || len(admins) != 1 || admins[0] != admin {
		t.Fatalf("admins: %v %v", admins, err)
	}
	if got := cfg.ResolvePath("ledger"); got != filepath.Join("/var/lib/stakingd", "ledger") {
		t.Fatalf("resolve path: %s", got)
	}
	if got := cfg.ResolvePath("/abs"); got != "/abs" {
		t.Fatalf("absolute path rewritten: %s", got)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stakingd.toml")
	if err := os.WriteFile(path, []byte("ValidatorKey = \"x\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty listen":  func(c *Config) { c.ListenAddress = " " },
		"bad admin":     func(c *Config) { c.Admins = []string{"nope"} },
		"bad pool":      func(c *Config) { c.PoolAccount = "rwa1xyz" },
		"short secret":  func(c *Config) { c.Auth.HMACSecret = "short" },
		"bad driver":    func(c *Config) { c.Receipts.Driver = "mysql" },
		"negative rate": func(c *Config) { c.RateLimit.Burst = -1 },
		"webhook":       func(c *Config) { c.Webhooks.Endpoint = "https://hooks.example" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
