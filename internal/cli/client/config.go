package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// GlobalConfig is the client state stored at <user config dir>/logseer/config.json.
type GlobalConfig struct {
	APIURL string `json:"api_url"`
}

// configPath resolves the config file location; tests point it at a temp
// directory.
var configPath = func() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config directory: %w", err)
	}
	return filepath.Join(base, "logseer", "config.json"), nil
}

// GetConfigPath returns the location of the client config file.
func GetConfigPath() (string, error) {
	return configPath()
}

// LoadGlobalConfig reads the stored client config. A missing file is not an
// error; callers fall through to their defaults on a nil config.
func LoadGlobalConfig() (*GlobalConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg GlobalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveGlobalConfig writes cfg with user-only permissions, creating the
// config directory if needed.
func SaveGlobalConfig(cfg GlobalConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
