package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CLIConfig is the persistent CLI configuration. Cookies and the CSRF token
// carry the server session between invocations.
type CLIConfig struct {
	Address   string            `yaml:"address"`
	TLSCACert string            `yaml:"tls_ca_cert"`
	CSRFToken string            `yaml:"csrf_token,omitempty"`
	Cookies   map[string]string `yaml:"cookies,omitempty"`
}

var cfg CLIConfig

// configPath returns the path to the CLI config file.
func configPath() string {
	if v := os.Getenv("NOTARYCTL_CONFIG"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".notaryctl", "config.yaml")
}

// loadConfig loads the CLI config from disk.
func loadConfig() {
	cfg = CLIConfig{
		Address: "http://127.0.0.1:8080",
	}
	data, err := os.ReadFile(configPath())
	if err == nil {
		yaml.Unmarshal(data, &cfg) //nolint:errcheck
	}
	if cfg.Cookies == nil {
		cfg.Cookies = map[string]string{}
	}
}

// saveConfig persists the CLI config to disk.
func saveConfig() error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// clearSession forgets the server session.
func clearSession() {
	cfg.CSRFToken = ""
	cfg.Cookies = map[string]string{}
}
