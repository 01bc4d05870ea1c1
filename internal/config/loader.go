package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file. ${VAR} references are expanded from the
// environment; names that were not set are listed in UnsetEnv. Unknown keys
// are rejected so a misspelt section does not silently fall back to defaults.
func Load(path string) (*BotConfig, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("read config file: %s is a directory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded, unset := expandEnv(data)

	var cfg BotConfig
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml %s: %w", path, err)
	}
	cfg.UnsetEnv = unset

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*BotConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*BotConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		if len(cfg.UnsetEnv) > 0 {
			return nil, fmt.Errorf("validate config (unset environment: %v): %w", cfg.UnsetEnv, err)
		}
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// expandEnv substitutes $VAR and ${VAR} and returns the sorted names that
// were not set.
func expandEnv(data []byte) ([]byte, []string) {
	seen := make(map[string]bool)
	var unset []string
	out := os.Expand(string(data), func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok && !seen[key] {
			seen[key] = true
			unset = append(unset, key)
		}
		return v
	})
	sort.Strings(unset)
	return []byte(out), unset
}
