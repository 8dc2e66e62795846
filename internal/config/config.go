package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultBaseURL = "https://quang1709.ddns.net"
	defaultLogFile = "logs/mathchat.log"

	EnvBaseURL    = "MATHCHAT_BASE_URL"
	EnvLogFile    = "MATHCHAT_LOG_FILE"
	EnvTimeout    = "MATHCHAT_TIMEOUT"
	EnvCaptureDir = "MATHCHAT_CAPTURE_DIR"
	EnvTelemetry  = "MATHCHAT_TELEMETRY"
	EnvDebug      = "MATHCHAT_DEBUG"
)

// Config holds application configuration
type Config struct {
	BaseURL    string
	LogFile    string
	Timeout    time.Duration // zero means no timeout
	CaptureDir string        // empty disables stream captures
	Telemetry  bool
	Debug      bool
}

// NewConfig returns the built-in defaults
func NewConfig() *Config {
	return &Config{
		BaseURL: defaultBaseURL,
		LogFile: defaultLogFile,
	}
}

// Load reads an optional .env file and then MATHCHAT_* variables on top of
// the defaults. Variables already set in the environment win over .env.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := NewConfig()
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv(EnvCaptureDir); v != "" {
		cfg.CaptureDir = v
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", EnvTimeout, v, err)
		}
		cfg.Timeout = d
	}

	var err error
	if cfg.Telemetry, err = envBool(EnvTelemetry); err != nil {
		return nil, err
	}
	if cfg.Debug, err = envBool(EnvDebug); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// Validate checks the fields that cannot be defaulted
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL must not be empty")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base URL %q must start with http:// or https://", c.BaseURL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return nil
}

func envBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}
