package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Name != "zencube" {
		t.Errorf("Expected server name 'zencube', got '%s'", cfg.Server.Name)
	}

	if cfg.Sandbox.MaxSessions != 10 {
		t.Errorf("Expected max sessions 10, got %d", cfg.Sandbox.MaxSessions)
	}

	if cfg.Sandbox.QuietInterval != 500*time.Millisecond {
		t.Errorf("Expected quiet interval 500ms, got %v", cfg.Sandbox.QuietInterval)
	}

	if cfg.Sandbox.MonitorInterval != 500*time.Millisecond {
		t.Errorf("Expected monitor interval 500ms, got %v", cfg.Sandbox.MonitorInterval)
	}

	if !cfg.Database.Enabled {
		t.Errorf("Expected database to be enabled")
	}

	if len(cfg.Sandbox.SearchPaths) == 0 {
		t.Error("Expected default sandbox search paths")
	}
}

func TestLoadConfig(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	testConfig := DefaultConfig()
	testConfig.Server.Debug = true
	testConfig.Sandbox.MaxSessions = 20

	testConfigFile := filepath.Join(tempDir, "test_config.json")
	err = testConfig.SaveToFile(testConfigFile)
	if err != nil {
		t.Fatalf("Failed to save test config: %v", err)
	}

	loadedConfig, err := LoadConfig(testConfigFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if !loadedConfig.Server.Debug {
		t.Error("Expected debug to be true")
	}

	if loadedConfig.Sandbox.MaxSessions != 20 {
		t.Errorf("Expected max sessions 20, got %d", loadedConfig.Sandbox.MaxSessions)
	}
}

func TestEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"ZENCUBE_DEBUG":          "true",
		"ZENCUBE_MAX_SESSIONS":   "15",
		"ZENCUBE_QUIET_INTERVAL": "750ms",
		"ZENCUBE_LOG_LEVEL":      "debug",
	}

	origEnv := make(map[string]string)
	for key, value := range envVars {
		origEnv[key] = os.Getenv(key)
		os.Setenv(key, value)
	}
	defer func() {
		for key, origValue := range origEnv {
			if origValue == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, origValue)
			}
		}
	}()

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if !config.Server.Debug {
		t.Error("Expected debug to be true from environment")
	}

	if config.Sandbox.MaxSessions != 15 {
		t.Errorf("Expected max sessions 15 from environment, got %d", config.Sandbox.MaxSessions)
	}

	if config.Sandbox.QuietInterval != 750*time.Millisecond {
		t.Errorf("Expected quiet interval 750ms from environment, got %v", config.Sandbox.QuietInterval)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max sessions", func(c *Config) { c.Sandbox.MaxSessions = 0 }},
		{"zero quiet interval", func(c *Config) { c.Sandbox.QuietInterval = 0 }},
		{"empty root dir", func(c *Config) { c.Sandbox.RootDir = "" }},
		{"negative default limit", func(c *Config) { c.Limits.MemoryMB = -1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"db enabled without path", func(c *Config) { c.Database.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			if err := validateConfig(config); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}
}

func TestSaveToFile(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config_save_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	config := DefaultConfig()
	configFile := filepath.Join(tempDir, "save_test.json")
	err = config.SaveToFile(configFile)
	if err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}
}

func TestHelperFunctions(t *testing.T) {
	if !parseBool("true") {
		t.Error("Expected parseBool('true') to return true")
	}

	if parseBool("false") {
		t.Error("Expected parseBool('false') to return false")
	}

	if parseInt("123", 0) != 123 {
		t.Error("Expected parseInt('123', 0) to return 123")
	}

	if parseInt("invalid", 50) != 50 {
		t.Error("Expected parseInt('invalid', 50) to return default 50")
	}
}
