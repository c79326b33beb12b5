package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the default CLI config directory (~/.seatbroker).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".seatbroker"), nil
}

// DefaultConfigPath returns the default CLI config path (~/.seatbroker/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// CLIConfig holds the operator CLI's connection settings. Environment
// variables override values from the file.
type CLIConfig struct {
	DatabaseURL    string      `yaml:"database_url,omitempty"`
	EncryptionKey  string      `yaml:"encryption_key,omitempty"`
	GatewayBaseURL string      `yaml:"gateway_base_url,omitempty"`
	Proxy          ProxyConfig `yaml:"proxy,omitempty"`
}

// Validate checks that the configuration has the fields every command needs.
func (c *CLIConfig) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	return nil
}

// ApplyEnv overrides file values with non-empty environment variables.
func (c *CLIConfig) ApplyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		c.EncryptionKey = v
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		c.GatewayBaseURL = v
	}
	if env := LoadProxyConfig(); env.HasProxy() {
		c.Proxy = env
	}
}

// LoadCLI reads the configuration from the given path.
// If the file does not exist, an empty config is returned.
func LoadCLI(path string) (*CLIConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &CLIConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg CLIConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *CLIConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// The file holds the encryption key.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
