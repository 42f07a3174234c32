package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultEndpoint = "http://127.0.0.1:8090"
	defaultTimeout  = 15 * time.Second
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in Go notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Profile holds per-operator CLI defaults.
type Profile struct {
	Endpoint  string   `yaml:"endpoint"`
	Token     string   `yaml:"token"`
	TokenFile string   `yaml:"token_file"`
	Output    string   `yaml:"output"`
	Timeout   Duration `yaml:"timeout"`
	// Issuer and Audience are stamped into tokens minted by the token command.
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

func defaultProfile() Profile {
	return Profile{
		Endpoint: defaultEndpoint,
		Output:   outputJSON,
		Timeout:  Duration{defaultTimeout},
		Issuer:   "rwa-staking",
		Audience: "stakingd",
	}
}

func defaultProfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".rwastaking", "profile.yaml")
}

// loadProfile reads path over the defaults. A missing file yields the defaults.
func loadProfile(path string) (Profile, error) {
	profile := defaultProfile()
	if strings.TrimSpace(path) == "" {
		return profile, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return profile, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return Profile{}, fmt.Errorf("decode profile %s: %w", path, err)
	}
	if err := profile.validate(); err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return profile, nil
}

func (p Profile) validate() error {
	switch p.Output {
	case outputJSON, outputYAML:
	default:
		return fmt.Errorf("output must be %s or %s", outputJSON, outputYAML)
	}
	if p.Timeout.Duration < 0 {
		return errors.New("timeout must not be negative")
	}
	return nil
}

// bearer returns the inline token or the first line of TokenFile.
func (p Profile) bearer() (string, error) {
	if token := strings.TrimSpace(p.Token); token != "" {
		return token, nil
	}
	if strings.TrimSpace(p.TokenFile) == "" {
		return "", nil
	}
	data, err := os.ReadFile(p.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line), nil
}
