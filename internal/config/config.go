// Package config handles loading and validation of tracemoe configuration.
// It loads from .env files, environment variables, and CLI flags.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Command names accepted on the command line.
const (
	CommandSearch  = "search"
	CommandMe      = "me"
	CommandWatch   = "watch"
	CommandVersion = "version"
	CommandHelp    = "help"
)

// Config holds all application configuration.
type Config struct {
	Token         string        // TRACEMOE_TOKEN
	BaseURL       string        // TRACEMOE_BASE_URL
	Timeout       time.Duration // TRACEMOE_TIMEOUT (seconds → Duration)
	LogLevel      string        // TRACEMOE_LOG_LEVEL
	WatchInterval time.Duration // TRACEMOE_WATCH_INTERVAL (seconds → Duration)
	QuotaWarn     float64       // TRACEMOE_QUOTA_WARN (percent used)
	Filter        uint32        // --filter (AniList ID, 0 = none)
	Open          bool          // --open
	DebugMode     bool          // --debug

	Command string   // first positional argument
	Args    []string // remaining positional arguments

	// Warnings lists environment values that were ignored in favor of defaults.
	Warnings []string
}

// flagValues holds parsed CLI flags.
type flagValues struct {
	token    string
	baseURL  string
	timeout  int
	interval int
	filter   uint64
	open     bool
	debug    bool
	version  bool
	help     bool
	args     []string
}

// Load reads configuration from .env file, environment variables, and CLI flags.
// Flags take precedence over environment variables.
func Load() (*Config, error) {
	return loadWithArgs(os.Args[1:])
}

// loadWithArgs loads config with specific arguments (for testing).
func loadWithArgs(args []string) (*Config, error) {
	flags, err := parseFlags(args)
	if err != nil {
		return nil, err
	}
	return loadFromEnvAndFlags(flags)
}

// parseFlags parses CLI flags manually to avoid flag.ExitOnError in tests.
func parseFlags(args []string) (*flagValues, error) {
	flags := &flagValues{}

	// value returns the flag's argument in either --name=value or --name value form.
	value := func(i *int, arg, name string) (string, bool, error) {
		if v, ok := strings.CutPrefix(arg, name+"="); ok {
			return v, true, nil
		}
		if arg != name {
			return "", false, nil
		}
		if *i+1 >= len(args) {
			return "", true, fmt.Errorf("flag %s requires a value", name)
		}
		*i++
		return args[*i], true, nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "--debug":
			flags.debug = true
			continue
		case "--open":
			flags.open = true
			continue
		case "--version", "-v":
			flags.version = true
			continue
		case "--help", "-h":
			flags.help = true
			continue
		}

		if v, ok, err := value(&i, arg, "--token"); ok {
			if err != nil {
				return nil, err
			}
			flags.token = v
			continue
		}
		if v, ok, err := value(&i, arg, "--base-url"); ok {
			if err != nil {
				return nil, err
			}
			flags.baseURL = v
			continue
		}
		if v, ok, err := value(&i, arg, "--timeout"); ok {
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid --timeout %q: %w", v, err)
			}
			flags.timeout = n
			continue
		}
		if v, ok, err := value(&i, arg, "--interval"); ok {
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid --interval %q: %w", v, err)
			}
			flags.interval = n
			continue
		}
		if v, ok, err := value(&i, arg, "--filter"); ok {
			if err != nil {
				return nil, err
			}
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid --filter %q: %w", v, err)
			}
			flags.filter = n
			continue
		}

		if strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unknown flag %s", arg)
		}
		flags.args = append(flags.args, arg)
	}

	return flags, nil
}

// loadFromEnvAndFlags combines environment variables with CLI flags.
func loadFromEnvAndFlags(flags *flagValues) (*Config, error) {
	// Try to load .env file (ignore errors - file is optional)
	_ = godotenv.Load(".env")

	cfg := &Config{}

	// Token (optional; anonymous access is quota-limited by IP)
	if flags.token != "" {
		cfg.Token = flags.token
	} else {
		cfg.Token = os.Getenv("TRACEMOE_TOKEN")
	}

	if flags.baseURL != "" {
		cfg.BaseURL = flags.baseURL
	} else {
		cfg.BaseURL = os.Getenv("TRACEMOE_BASE_URL")
	}

	// Timeout (seconds)
	if flags.timeout > 0 {
		cfg.Timeout = time.Duration(flags.timeout) * time.Second
	} else if env := os.Getenv("TRACEMOE_TIMEOUT"); env != "" {
		if v, err := strconv.Atoi(env); err == nil && v > 0 {
			cfg.Timeout = time.Duration(v) * time.Second
		} else {
			cfg.warnIgnored("TRACEMOE_TIMEOUT", env, "a positive number of seconds")
		}
	}

	// Watch interval (seconds)
	if flags.interval > 0 {
		cfg.WatchInterval = time.Duration(flags.interval) * time.Second
	} else if env := os.Getenv("TRACEMOE_WATCH_INTERVAL"); env != "" {
		if v, err := strconv.Atoi(env); err == nil && v > 0 {
			cfg.WatchInterval = time.Duration(v) * time.Second
		} else {
			cfg.warnIgnored("TRACEMOE_WATCH_INTERVAL", env, "a positive number of seconds")
		}
	}

	if env := os.Getenv("TRACEMOE_QUOTA_WARN"); env != "" {
		if v, err := strconv.ParseFloat(env, 64); err == nil && v > 0 {
			cfg.QuotaWarn = v
		} else {
			cfg.warnIgnored("TRACEMOE_QUOTA_WARN", env, "a percentage in (0, 100]")
		}
	}

	cfg.LogLevel = os.Getenv("TRACEMOE_LOG_LEVEL")

	cfg.Filter = uint32(flags.filter)
	cfg.Open = flags.open
	cfg.DebugMode = flags.debug

	switch {
	case flags.help:
		cfg.Command = CommandHelp
	case flags.version:
		cfg.Command = CommandVersion
	case len(flags.args) > 0:
		cfg.Command = flags.args[0]
		cfg.Args = flags.args[1:]
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) warnIgnored(key, value, want string) {
	c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring %s=%q: want %s, using default", key, value, want))
}

// applyDefaults sets default values for empty config fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://trace.moe/api"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.WatchInterval == 0 {
		c.WatchInterval = 60 * time.Second
	}
	if c.QuotaWarn == 0 {
		c.QuotaWarn = 80
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DebugMode {
		c.LogLevel = "debug"
	}
	if c.Command == "" {
		c.Command = CommandHelp
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base URL must be an absolute http(s) URL, got %q", c.BaseURL)
	}

	if c.Timeout < time.Second || c.Timeout > 10*time.Minute {
		return fmt.Errorf("timeout must be between 1s and 10m")
	}

	minInterval := 10 * time.Second
	maxInterval := 3600 * time.Second
	if c.WatchInterval < minInterval {
		return fmt.Errorf("watch interval must be at least %v", minInterval)
	}
	if c.WatchInterval > maxInterval {
		return fmt.Errorf("watch interval must be at most %v", maxInterval)
	}

	if c.QuotaWarn <= 0 || c.QuotaWarn > 100 {
		return fmt.Errorf("quota warning threshold must be in (0, 100]")
	}

	switch c.Command {
	case CommandSearch:
		if len(c.Args) != 1 {
			return fmt.Errorf("search takes exactly one image path")
		}
	case CommandMe, CommandWatch, CommandVersion, CommandHelp:
	default:
		return fmt.Errorf("unknown command %q", c.Command)
	}

	return nil
}

// String returns a redacted string representation of the config.
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Config{\n")
	fmt.Fprintf(&sb, "  Token: %s,\n", RedactToken(c.Token))
	fmt.Fprintf(&sb, "  BaseURL: %s,\n", c.BaseURL)
	fmt.Fprintf(&sb, "  Timeout: %v,\n", c.Timeout)
	fmt.Fprintf(&sb, "  WatchInterval: %v,\n", c.WatchInterval)
	fmt.Fprintf(&sb, "  QuotaWarn: %v,\n", c.QuotaWarn)
	fmt.Fprintf(&sb, "  LogLevel: %s,\n", c.LogLevel)
	fmt.Fprintf(&sb, "  Command: %s,\n", c.Command)
	fmt.Fprintf(&sb, "}")

	return sb.String()
}

// RedactToken masks the token for display.
func RedactToken(token string) string {
	if token == "" {
		return "(none)"
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "***" + token[len(token)-4:]
}
