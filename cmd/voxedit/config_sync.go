package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"voxedit/internal/config"
)

// Environment variables an orchestrator can use to hand a configuration to
// the process instead of mounting a file.
const (
	envConfigJSON    = "VOXEDIT_CONFIG_JSON"
	envConfigYAMLB64 = "VOXEDIT_CONFIG_YAML_B64"
)

// configFromEnv decodes a configuration from the environment. ok is false
// when neither variable is set.
func configFromEnv() (cfg *config.Config, ok bool, err error) {
	jsonPayload := os.Getenv(envConfigJSON)
	yamlPayload := os.Getenv(envConfigYAMLB64)
	if jsonPayload == "" && yamlPayload == "" {
		return nil, false, nil
	}

	cfg = config.Default()
	if jsonPayload != "" {
		if err := json.Unmarshal([]byte(jsonPayload), cfg); err != nil {
			return nil, true, fmt.Errorf("decode %s: %w", envConfigJSON, err)
		}
	} else {
		data, err := base64.StdEncoding.DecodeString(yamlPayload)
		if err != nil {
			return nil, true, fmt.Errorf("decode %s: %w", envConfigYAMLB64, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, true, fmt.Errorf("parse %s: %w", envConfigYAMLB64, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, true, fmt.Errorf("validate environment config: %w", err)
	}
	return cfg, true, nil
}

// syncConfigFromEnv writes the environment-provided configuration to path so
// later runs can use --config. It reports whether anything was written.
func syncConfigFromEnv(path string) (bool, error) {
	cfg, ok, err := configFromEnv()
	if err != nil || !ok {
		return false, err
	}
	if path == "" {
		return false, errors.New("configuration found in the environment but no --config path supplied")
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := encodeConfig(cfg, formatForPath(path))
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, fmt.Errorf("write config file: %w", err)
	}
	return true, nil
}

func formatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func encodeConfig(cfg *config.Config, format string) ([]byte, error) {
	switch format {
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshal config yaml: %w", err)
		}
		return data, nil
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal config json: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown format %q (want yaml or json)", format)
	}
}
