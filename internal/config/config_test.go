package config

import (
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable the loader reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TRACEMOE_TOKEN",
		"TRACEMOE_BASE_URL",
		"TRACEMOE_TIMEOUT",
		"TRACEMOE_LOG_LEVEL",
		"TRACEMOE_WATCH_INTERVAL",
		"TRACEMOE_QUOTA_WARN",
	} {
		t.Setenv(key, "")
	}
}

func TestConfig_LoadsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRACEMOE_TOKEN", "tok_test_key_123")
	t.Setenv("TRACEMOE_BASE_URL", "http://localhost:8080/api")
	t.Setenv("TRACEMOE_TIMEOUT", "15")
	t.Setenv("TRACEMOE_WATCH_INTERVAL", "120")
	t.Setenv("TRACEMOE_QUOTA_WARN", "90")
	t.Setenv("TRACEMOE_LOG_LEVEL", "warn")

	cfg, err := loadWithArgs([]string{"me"})
	if err != nil {
		t.Fatalf("loadWithArgs() failed: %v", err)
	}

	if cfg.Token != "tok_test_key_123" {
		t.Errorf("Token = %q, want %q", cfg.Token, "tok_test_key_123")
	}
	if cfg.BaseURL != "http://localhost:8080/api" {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, "http://localhost:8080/api")
	}
	if cfg.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, 15*time.Second)
	}
	if cfg.WatchInterval != 120*time.Second {
		t.Errorf("WatchInterval = %v, want %v", cfg.WatchInterval, 120*time.Second)
	}
	if cfg.QuotaWarn != 90 {
		t.Errorf("QuotaWarn = %v, want 90", cfg.QuotaWarn)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
	if cfg.Command != CommandMe {
		t.Errorf("Command = %q, want %q", cfg.Command, CommandMe)
	}
}

func TestConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWithArgs(nil)
	if err != nil {
		t.Fatalf("loadWithArgs() failed: %v", err)
	}

	if cfg.Token != "" {
		t.Errorf("Token = %q, want empty", cfg.Token)
	}
	if cfg.BaseURL != "https://trace.moe/api" {
		t.Errorf("BaseURL = %q, want default", cfg.BaseURL)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, 30*time.Second)
	}
	if cfg.WatchInterval != 60*time.Second {
		t.Errorf("WatchInterval = %v, want %v", cfg.WatchInterval, 60*time.Second)
	}
	if cfg.QuotaWarn != 80 {
		t.Errorf("QuotaWarn = %v, want 80", cfg.QuotaWarn)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Command != CommandHelp {
		t.Errorf("Command = %q, want %q", cfg.Command, CommandHelp)
	}
}

func TestConfig_FlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRACEMOE_TOKEN", "env_token_value")
	t.Setenv("TRACEMOE_WATCH_INTERVAL", "120")

	cfg, err := loadWithArgs([]string{"--token", "flag_token_value", "--interval=30", "watch"})
	if err != nil {
		t.Fatalf("loadWithArgs() failed: %v", err)
	}

	if cfg.Token != "flag_token_value" {
		t.Errorf("Token = %q, want flag value", cfg.Token)
	}
	if cfg.WatchInterval != 30*time.Second {
		t.Errorf("WatchInterval = %v, want %v", cfg.WatchInterval, 30*time.Second)
	}
	if cfg.Command != CommandWatch {
		t.Errorf("Command = %q, want %q", cfg.Command, CommandWatch)
	}
}

func TestConfig_SearchFlags(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWithArgs([]string{"search", "--filter", "100977", "--open", "--debug", "frame.jpg"})
	if err != nil {
		t.Fatalf("loadWithArgs() failed: %v", err)
	}

	if cfg.Command != CommandSearch {
		t.Errorf("Command = %q, want %q", cfg.Command, CommandSearch)
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "frame.jpg" {
		t.Errorf("Args = %v, want [frame.jpg]", cfg.Args)
	}
	if cfg.Filter != 100977 {
		t.Errorf("Filter = %d, want 100977", cfg.Filter)
	}
	if !cfg.Open {
		t.Error("Open should be true")
	}
	if !cfg.DebugMode {
		t.Error("DebugMode should be true")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug in debug mode", cfg.LogLevel)
	}
}

func TestConfig_VersionAndHelp(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWithArgs([]string{"--version"})
	if err != nil {
		t.Fatalf("loadWithArgs() failed: %v", err)
	}
	if cfg.Command != CommandVersion {
		t.Errorf("Command = %q, want %q", cfg.Command, CommandVersion)
	}

	cfg, err = loadWithArgs([]string{"me", "-h"})
	if err != nil {
		t.Fatalf("loadWithArgs() failed: %v", err)
	}
	if cfg.Command != CommandHelp {
		t.Errorf("Command = %q, want %q", cfg.Command, CommandHelp)
	}
}

func TestConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		args    []string
		wantErr string
	}{
		{"search without image", nil, []string{"search"}, "exactly one image"},
		{"search with two images", nil, []string{"search", "a.jpg", "b.jpg"}, "exactly one image"},
		{"unknown command", nil, []string{"frobnicate"}, "unknown command"},
		{"unknown flag", nil, []string{"--frobnicate"}, "unknown flag"},
		{"missing flag value", nil, []string{"me", "--token"}, "requires a value"},
		{"bad filter", nil, []string{"search", "--filter", "abc", "a.jpg"}, "invalid --filter"},
		{"relative base url", map[string]string{"TRACEMOE_BASE_URL": "trace.moe/api"}, []string{"me"}, "base URL"},
		{"interval too short", nil, []string{"--interval", "5", "watch"}, "at least"},
		{"interval too long", nil, []string{"--interval", "7200", "watch"}, "at most"},
		{"quota warn too high", map[string]string{"TRACEMOE_QUOTA_WARN": "150"}, []string{"me"}, "quota warning"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := loadWithArgs(tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_InvalidEnvWarns(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		check func(*Config) bool
	}{
		{"quota warn not a number", "TRACEMOE_QUOTA_WARN", "abc", func(c *Config) bool { return c.QuotaWarn == 80 }},
		{"quota warn zero", "TRACEMOE_QUOTA_WARN", "0", func(c *Config) bool { return c.QuotaWarn == 80 }},
		{"quota warn negative", "TRACEMOE_QUOTA_WARN", "-5", func(c *Config) bool { return c.QuotaWarn == 80 }},
		{"timeout not a number", "TRACEMOE_TIMEOUT", "30s", func(c *Config) bool { return c.Timeout == 30*time.Second }},
		{"timeout zero", "TRACEMOE_TIMEOUT", "0", func(c *Config) bool { return c.Timeout == 30*time.Second }},
		{"interval not a number", "TRACEMOE_WATCH_INTERVAL", "1m", func(c *Config) bool { return c.WatchInterval == 60*time.Second }},
		{"interval negative", "TRACEMOE_WATCH_INTERVAL", "-60", func(c *Config) bool { return c.WatchInterval == 60*time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := loadWithArgs([]string{"me"})
			if err != nil {
				t.Fatalf("loadWithArgs: %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("%s=%q did not fall back to the default: %s", tt.key, tt.value, cfg)
			}
			if len(cfg.Warnings) != 1 {
				t.Fatalf("Warnings = %v, want 1 entry", cfg.Warnings)
			}
			if !strings.Contains(cfg.Warnings[0], tt.key) {
				t.Errorf("Warnings[0] = %q, want it to name %s", cfg.Warnings[0], tt.key)
			}
		})
	}
}

func TestConfig_ValidEnvNoWarnings(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRACEMOE_QUOTA_WARN", "90")
	t.Setenv("TRACEMOE_TIMEOUT", "15")

	cfg, err := loadWithArgs([]string{"me"})
	if err != nil {
		t.Fatalf("loadWithArgs: %v", err)
	}
	if len(cfg.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", cfg.Warnings)
	}
	if cfg.QuotaWarn != 90 {
		t.Errorf("QuotaWarn = %v, want 90", cfg.QuotaWarn)
	}
}

func TestConfig_String_RedactsToken(t *testing.T) {
	cfg := &Config{Token: "supersecrettoken1234"}
	s := cfg.String()
	if strings.Contains(s, "supersecrettoken1234") {
		t.Error("String() should not contain the raw token")
	}
	if !strings.Contains(s, "supe***1234") {
		t.Errorf("String() should contain redacted token, got %s", s)
	}
}

func TestRedactToken(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"", "(none)"},
		{"short", "***"},
		{"abcdefgh", "***"},
		{"abcdefghijkl", "abcd***ijkl"},
	}

	for _, tt := range tests {
		if got := RedactToken(tt.token); got != tt.expected {
			t.Errorf("RedactToken(%q) = %q, want %q", tt.token, got, tt.expected)
		}
	}
}
