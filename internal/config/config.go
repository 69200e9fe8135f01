// Package config loads evees configuration from ~/.eveesconfig and
// .evees/config, the repository file taking precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/javanhut/evees/internal/cas"
)

// Dir is the per-repository state directory.
const Dir = ".evees"

// Config represents evees configuration
type Config struct {
	User    UserConfig    `json:"user"`
	Core    CoreConfig    `json:"core"`
	Council CouncilConfig `json:"council"`
}

// UserConfig holds user identity information
type UserConfig struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CoreConfig selects the backend and the CID parameters.
type CoreConfig struct {
	Backend    string `json:"backend"`
	Remote     string `json:"remote"`
	RedisURL   string `json:"redis_url,omitempty"`
	CidVersion uint64 `json:"cid_version"`
	CidCodec   string `json:"cid_codec"`
	CidHash    string `json:"cid_hash"`
	CidBase    string `json:"cid_base"`
}

// CouncilConfig holds council governance settings. Manifest, when set, points
// to a YAML file that overrides the inline values.
type CouncilConfig struct {
	Enabled   bool     `json:"enabled"`
	Manifest  string   `json:"manifest,omitempty"`
	Members   []string `json:"members,omitempty"`
	Duration  uint64   `json:"duration"`
	Quorum    float64  `json:"quorum"`
	Threshold float64  `json:"threshold"`
}

// Backends accepted by core.backend.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			Backend:    BackendBolt,
			Remote:     "local",
			CidVersion: 1,
			CidCodec:   "raw",
			CidHash:    "sha2-256",
			CidBase:    "base58btc",
		},
		Council: CouncilConfig{
			Duration:  86400,
			Quorum:    0.5,
			Threshold: 0.66,
		},
	}
}

// CidConfig parses the configured CID parameters.
func (c *Config) CidConfig() (cas.CidConfig, error) {
	return cas.ParseCidConfig(c.Core.CidVersion, c.Core.CidCodec, c.Core.CidHash, c.Core.CidBase)
}

// Validate checks values that cannot be caught by JSON decoding.
func (c *Config) Validate() error {
	switch c.Core.Backend {
	case BackendMemory, BackendBolt:
	case BackendRedis:
		if c.Core.RedisURL == "" {
			return fmt.Errorf("core.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Core.Backend)
	}
	if _, err := c.CidConfig(); err != nil {
		return err
	}
	if c.Council.Quorum < 0 || c.Council.Quorum > 1 || c.Council.Threshold < 0 || c.Council.Threshold > 1 {
		return fmt.Errorf("council quorum and threshold must be within [0, 1]")
	}
	return nil
}

// globalConfigPath returns the path to the global config file
func globalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".eveesconfig"), nil
}

// repoConfigPath returns the path to the repository config file under root
func repoConfigPath(root string) string {
	return filepath.Join(root, Dir, "config")
}

// overlay decodes data on top of cfg so absent keys keep their values.
func overlay(cfg *Config, data []byte) error {
	return json.Unmarshal(data, cfg)
}

// LoadConfig loads configuration from both global and repository config files.
// Repository config takes precedence over global config.
func LoadConfig(root string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath, err := globalConfigPath(); err == nil {
		if data, err := os.ReadFile(globalPath); err == nil {
			if err := overlay(cfg, data); err != nil {
				return nil, fmt.Errorf("parse %s: %w", globalPath, err)
			}
		}
	}

	repoPath := repoConfigPath(root)
	if data, err := os.ReadFile(repoPath); err == nil {
		if err := overlay(cfg, data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", repoPath, err)
		}
	}

	return cfg, nil
}

func save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// SaveGlobalConfig saves configuration to the global config file
func SaveGlobalConfig(cfg *Config) error {
	path, err := globalConfigPath()
	if err != nil {
		return err
	}
	return save(path, cfg)
}

// SaveRepoConfig saves configuration to the repository config file
func SaveRepoConfig(root string, cfg *Config) error {
	return save(repoConfigPath(root), cfg)
}

// field binds a "section.key" name to a config value.
type field struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringField(ptr func(c *Config) *string) field {
	return field{
		get: func(c *Config) string { return *ptr(c) },
		set: func(c *Config, v string) error { *ptr(c) = v; return nil },
	}
}

func floatField(ptr func(c *Config) *float64) field {
	return field{
		get: func(c *Config) string { return strconv.FormatFloat(*ptr(c), 'f', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			*ptr(c) = f
			return nil
		},
	}
}

func uintField(ptr func(c *Config) *uint64) field {
	return field{
		get: func(c *Config) string { return strconv.FormatUint(*ptr(c), 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return err
			}
			*ptr(c) = n
			return nil
		},
	}
}

var fields = map[string]field{
	"user.name":         stringField(func(c *Config) *string { return &c.User.Name }),
	"user.email":        stringField(func(c *Config) *string { return &c.User.Email }),
	"core.backend":      stringField(func(c *Config) *string { return &c.Core.Backend }),
	"core.remote":       stringField(func(c *Config) *string { return &c.Core.Remote }),
	"core.redis_url":    stringField(func(c *Config) *string { return &c.Core.RedisURL }),
	"core.cid_version":  uintField(func(c *Config) *uint64 { return &c.Core.CidVersion }),
	"core.cid_codec":    stringField(func(c *Config) *string { return &c.Core.CidCodec }),
	"core.cid_hash":     stringField(func(c *Config) *string { return &c.Core.CidHash }),
	"core.cid_base":     stringField(func(c *Config) *string { return &c.Core.CidBase }),
	"council.manifest":  stringField(func(c *Config) *string { return &c.Council.Manifest }),
	"council.duration":  uintField(func(c *Config) *uint64 { return &c.Council.Duration }),
	"council.quorum":    floatField(func(c *Config) *float64 { return &c.Council.Quorum }),
	"council.threshold": floatField(func(c *Config) *float64 { return &c.Council.Threshold }),
	"council.enabled": {
		get: func(c *Config) string { return strconv.FormatBool(c.Council.Enabled) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			c.Council.Enabled = b
			return nil
		},
	},
	"council.members": {
		get: func(c *Config) string { return strings.Join(c.Council.Members, ",") },
		set: func(c *Config, v string) error {
			c.Council.Members = nil
			for _, m := range strings.Split(v, ",") {
				if m = strings.TrimSpace(m); m != "" {
					c.Council.Members = append(c.Council.Members, m)
				}
			}
			return nil
		},
	},
}

// Keys lists every settable key.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lookup(key string) (field, error) {
	if strings.Count(key, ".") != 1 {
		return field{}, fmt.Errorf("invalid config key: %s (expected format: section.key)", key)
	}
	f, ok := fields[key]
	if !ok {
		return field{}, fmt.Errorf("unknown config key: %s", key)
	}
	return f, nil
}

// GetValue retrieves a configuration value by key (e.g., "user.name")
func GetValue(root, key string) (string, error) {
	f, err := lookup(key)
	if err != nil {
		return "", err
	}
	cfg, err := LoadConfig(root)
	if err != nil {
		return "", err
	}
	return f.get(cfg), nil
}

// SetValue sets a configuration value by key in the global or repository file.
func SetValue(root, key, value string, global bool) error {
	f, err := lookup(key)
	if err != nil {
		return err
	}

	path := repoConfigPath(root)
	if global {
		if path, err = globalConfigPath(); err != nil {
			return err
		}
	}

	cfg := DefaultConfig()
	if data, err := os.ReadFile(path); err == nil {
		if err := overlay(cfg, data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := f.set(cfg, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return save(path, cfg)
}
