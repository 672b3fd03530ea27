package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the zencube session server
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Sandbox execution configuration
	Sandbox SandboxConfig `json:"sandbox"`

	// Default resource limits applied when a request omits them
	Limits LimitsConfig `json:"limits"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Run history database configuration
	Database DatabaseConfig `json:"database"`

	// Web dashboard configuration
	Dashboard DashboardConfig `json:"dashboard"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Debug   bool   `json:"debug"`
}

// SandboxConfig holds sandboxed execution configuration
type SandboxConfig struct {
	// BinaryPath, when set, is used as the sandbox binary without searching
	BinaryPath string `json:"binary_path"`
	// SearchPaths are candidate locations tried in order when BinaryPath is empty
	SearchPaths []string `json:"search_paths"`
	// RootDir is the directory session artifacts must stay inside
	RootDir          string        `json:"root_dir"`
	MaxSessions      int           `json:"max_sessions"`
	QuietInterval    time.Duration `json:"quiet_interval"`
	MonitorInterval  time.Duration `json:"monitor_interval"`
	StopGracePeriod  time.Duration `json:"stop_grace_period"`
	SubscriberBuffer int           `json:"subscriber_buffer"`
	MaxOutputSize    int           `json:"max_output_size"`
}

// LimitsConfig holds the default sandbox resource limits.
// Zero means the flag is omitted and the sandbox's own default applies.
type LimitsConfig struct {
	CPUSeconds   int `json:"cpu_seconds"`
	MemoryMB     int `json:"memory_mb"`
	MaxProcesses int `json:"max_processes"`
	FileSizeMB   int `json:"file_size_mb"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "json" or "text"
	Output string `json:"output"` // "stderr", "file", or file path
}

// DatabaseConfig holds run history database configuration
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DashboardConfig holds the HTTP/SSE observer configuration
type DashboardConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "zencube",
			Version: "1.0.0",
			Debug:   false,
		},
		Sandbox: SandboxConfig{
			BinaryPath:       "",
			SearchPaths:      []string{"sandbox", "build/sandbox", "bin/sandbox", "/usr/local/bin/zencube-sandbox"},
			RootDir:          "uploads",
			MaxSessions:      10,
			QuietInterval:    500 * time.Millisecond,
			MonitorInterval:  500 * time.Millisecond,
			StopGracePeriod:  3 * time.Second,
			SubscriberBuffer: 256,
			MaxOutputSize:    4 * 1024 * 1024, // 4MB transcript cap
		},
		Limits: LimitsConfig{
			CPUSeconds:   10,
			MemoryMB:     256,
			MaxProcesses: 16,
			FileSizeMB:   10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Database: DatabaseConfig{
			Enabled: true,
			Path:    "zencube.db",
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Addr:    ":8095",
		},
	}
}

// LoadConfig loads configuration from environment variables and optional config file
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	// Load from config file if provided
	if configFile != "" {
		if err := loadFromFile(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a JSON file
func loadFromFile(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, config)
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *Config) {
	// Server configuration
	if val := os.Getenv("ZENCUBE_DEBUG"); val != "" {
		config.Server.Debug = parseBool(val)
	}

	// Sandbox configuration
	if val := os.Getenv("ZENCUBE_SANDBOX_BINARY"); val != "" {
		config.Sandbox.BinaryPath = val
	}
	if val := os.Getenv("ZENCUBE_SANDBOX_ROOT"); val != "" {
		config.Sandbox.RootDir = val
	}
	if val := os.Getenv("ZENCUBE_MAX_SESSIONS"); val != "" {
		config.Sandbox.MaxSessions = parseInt(val, config.Sandbox.MaxSessions)
	}
	if val := os.Getenv("ZENCUBE_QUIET_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.Sandbox.QuietInterval = duration
		}
	}
	if val := os.Getenv("ZENCUBE_MONITOR_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.Sandbox.MonitorInterval = duration
		}
	}
	if val := os.Getenv("ZENCUBE_STOP_GRACE_PERIOD"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.Sandbox.StopGracePeriod = duration
		}
	}
	if val := os.Getenv("ZENCUBE_MAX_OUTPUT_SIZE"); val != "" {
		config.Sandbox.MaxOutputSize = parseInt(val, config.Sandbox.MaxOutputSize)
	}

	// Default limits
	if val := os.Getenv("ZENCUBE_LIMIT_CPU"); val != "" {
		config.Limits.CPUSeconds = parseInt(val, config.Limits.CPUSeconds)
	}
	if val := os.Getenv("ZENCUBE_LIMIT_MEM"); val != "" {
		config.Limits.MemoryMB = parseInt(val, config.Limits.MemoryMB)
	}
	if val := os.Getenv("ZENCUBE_LIMIT_PROCS"); val != "" {
		config.Limits.MaxProcesses = parseInt(val, config.Limits.MaxProcesses)
	}
	if val := os.Getenv("ZENCUBE_LIMIT_FSIZE"); val != "" {
		config.Limits.FileSizeMB = parseInt(val, config.Limits.FileSizeMB)
	}

	// Logging configuration
	if val := os.Getenv("ZENCUBE_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("ZENCUBE_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("ZENCUBE_LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}

	// Database configuration
	if val := os.Getenv("ZENCUBE_DB_ENABLED"); val != "" {
		config.Database.Enabled = parseBool(val)
	}
	if val := os.Getenv("ZENCUBE_DB_PATH"); val != "" {
		config.Database.Path = val
	}

	// Dashboard configuration
	if val := os.Getenv("ZENCUBE_DASHBOARD_ENABLED"); val != "" {
		config.Dashboard.Enabled = parseBool(val)
	}
	if val := os.Getenv("ZENCUBE_DASHBOARD_ADDR"); val != "" {
		config.Dashboard.Addr = val
	}
}

// validateConfig validates the configuration values
func validateConfig(config *Config) error {
	if config.Sandbox.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be greater than 0")
	}

	if config.Sandbox.QuietInterval <= 0 {
		return fmt.Errorf("quiet_interval must be greater than 0")
	}

	if config.Sandbox.MonitorInterval <= 0 {
		return fmt.Errorf("monitor_interval must be greater than 0")
	}

	if config.Sandbox.StopGracePeriod <= 0 {
		return fmt.Errorf("stop_grace_period must be greater than 0")
	}

	if config.Sandbox.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber_buffer must be greater than 0")
	}

	if config.Sandbox.MaxOutputSize <= 0 {
		return fmt.Errorf("max_output_size must be greater than 0")
	}

	if config.Sandbox.RootDir == "" {
		return fmt.Errorf("sandbox root_dir must not be empty")
	}

	// Limits may be zero (omitted) but never negative
	if config.Limits.CPUSeconds < 0 || config.Limits.MemoryMB < 0 ||
		config.Limits.MaxProcesses < 0 || config.Limits.FileSizeMB < 0 {
		return fmt.Errorf("default limits must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	if config.Database.Enabled && config.Database.Path == "" {
		return fmt.Errorf("database path must not be empty when the database is enabled")
	}

	if config.Dashboard.Enabled && config.Dashboard.Addr == "" {
		return fmt.Errorf("dashboard addr must not be empty when the dashboard is enabled")
	}

	return nil
}

// Helper functions for parsing environment variables
func parseBool(s string) bool {
	val, _ := strconv.ParseBool(s)
	return val
}

func parseInt(s string, defaultVal int) int {
	if val, err := strconv.Atoi(s); err == nil {
		return val
	}
	return defaultVal
}

// SaveToFile saves the current configuration to a file
func (c *Config) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
