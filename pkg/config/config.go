package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	envConfigPath = "OPSDESK_CONFIG"
	envListenAddr = "OPSDESK_LISTEN_ADDR"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	ERP       ERPConfig       `json:"erp"`
	Retry     RetryConfig     `json:"retry"`
	Providers ProvidersConfig `json:"providers"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// ServerConfig configures the HTTP boundary bind settings.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// StorageConfig points at the relational stores backing tenant
// configuration and conversation memory.
type StorageConfig struct {
	TenantDB string `json:"tenant_db"`
	MemoryDB string `json:"memory_db"`
}

// ERPConfig bounds outbound calls against tenant ERP endpoints.
type ERPConfig struct {
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
	SessionTTLMinutes     int `json:"session_ttl_minutes"`
}

// RetryConfig shapes the shared retry policy applied to transient
// infrastructure calls.
type RetryConfig struct {
	MaxAttempts      int `json:"max_attempts"`
	InitialBackoffMs int `json:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms"`
}

// ProvidersConfig stores per-provider connection settings for the
// inference collaborators.
type ProvidersConfig struct {
	OpenAI OpenAIProviderConfig `json:"openai"`
}

// OpenAIProviderConfig configures the OpenAI inference client.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	APIKeyEnv             string `json:"api_key_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment
// overrides and defaults.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if addr := strings.TrimSpace(os.Getenv(envListenAddr)); addr != "" {
		if host, port, ok := splitHostPort(addr); ok {
			cfg.Server.Host = host
			cfg.Server.Port = port
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ERP.RequestTimeoutSeconds <= 0 {
		cfg.ERP.RequestTimeoutSeconds = 15
	}
	if cfg.ERP.SessionTTLMinutes <= 0 {
		cfg.ERP.SessionTTLMinutes = 60
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoffMs <= 0 {
		cfg.Retry.InitialBackoffMs = 200
	}
	if cfg.Retry.MaxBackoffMs <= 0 {
		cfg.Retry.MaxBackoffMs = 5000
	}
}

func splitHostPort(addr string) (string, int, bool) {
	idx := strings.LastIndex(addr, ":")
	if idx <= 0 || idx == len(addr)-1 {
		return "", 0, false
	}

	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil || port <= 0 {
		return "", 0, false
	}

	return addr[:idx], port, true
}

// findConfigPath resolves the active config file location.
//
// Precedence is OPSDESK_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
