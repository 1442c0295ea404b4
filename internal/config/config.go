// Package config resolves client settings from defaults, an optional YAML
// file, .env and DOCCHAT_* environment variables. Command-line flags are
// layered on top by the caller through Apply.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "DOCCHAT_"

type Config struct {
	ServerURL         string        `yaml:"server_url" validate:"required,url"`
	RequestTimeout    time.Duration `yaml:"request_timeout" validate:"gt=0"`
	UploadTimeout     time.Duration `yaml:"upload_timeout" validate:"gte=0"`
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout" validate:"gte=0"`
	StreamFailure     string        `yaml:"stream_failure" validate:"oneof=silent annotate"`
	LogFile           string        `yaml:"log_file"`
	LogLevel          string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	DocCacheSize      int           `yaml:"doc_cache_size" validate:"gte=1,lte=1024"`
	AltScreen         bool          `yaml:"alt_screen"`
}

func Default() Config {
	return Config{
		ServerURL:         "http://localhost:8000",
		RequestTimeout:    30 * time.Second,
		UploadTimeout:     5 * time.Minute,
		StreamIdleTimeout: 2 * time.Minute,
		StreamFailure:     "silent",
		LogFile:           "",
		LogLevel:          "info",
		DocCacheSize:      32,
		AltScreen:         true,
	}
}

// Load builds the configuration. An empty path skips the YAML layer; a
// named file that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ServerURL = envOr(envPrefix+"SERVER_URL", c.ServerURL)
	c.RequestTimeout = envOrDuration(envPrefix+"REQUEST_TIMEOUT", c.RequestTimeout)
	c.UploadTimeout = envOrDuration(envPrefix+"UPLOAD_TIMEOUT", c.UploadTimeout)
	c.StreamIdleTimeout = envOrDuration(envPrefix+"STREAM_IDLE_TIMEOUT", c.StreamIdleTimeout)
	c.StreamFailure = envOr(envPrefix+"STREAM_FAILURE", c.StreamFailure)
	c.LogFile = envOr(envPrefix+"LOG_FILE", c.LogFile)
	c.LogLevel = envOr(envPrefix+"LOG_LEVEL", c.LogLevel)
	c.DocCacheSize = envOrInt(envPrefix+"DOC_CACHE_SIZE", c.DocCacheSize)
	c.AltScreen = envOrBool(envPrefix+"ALT_SCREEN", c.AltScreen)
}

// Overrides carries command-line values. Nil fields were not set.
type Overrides struct {
	ServerURL         *string
	StreamIdleTimeout *time.Duration
	StreamFailure     *string
	LogFile           *string
	LogLevel          *string
	AltScreen         *bool
}

// Apply layers o over c. Call Finalize afterwards.
func (c *Config) Apply(o Overrides) {
	if o.ServerURL != nil {
		c.ServerURL = *o.ServerURL
	}
	if o.StreamIdleTimeout != nil {
		c.StreamIdleTimeout = *o.StreamIdleTimeout
	}
	if o.StreamFailure != nil {
		c.StreamFailure = *o.StreamFailure
	}
	if o.LogFile != nil {
		c.LogFile = *o.LogFile
	}
	if o.LogLevel != nil {
		c.LogLevel = *o.LogLevel
	}
	if o.AltScreen != nil {
		c.AltScreen = *o.AltScreen
	}
}

// Finalize normalises c and validates it.
func (c *Config) Finalize() error {
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	c.StreamFailure = strings.ToLower(strings.TrimSpace(c.StreamFailure))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	c.LogFile = strings.TrimSpace(c.LogFile)
	c.DocCacheSize = clampInt(c.DocCacheSize, 1, 1024)
	return validate(c)
}

var validate = func() func(*Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	return func(c *Config) error {
		err := v.Struct(c)
		if err == nil {
			return nil
		}
		var fields validator.ValidationErrors
		if !errors.As(err, &fields) {
			return fmt.Errorf("invalid config: %w", err)
		}
		problems := make([]string, 0, len(fields))
		for _, fe := range fields {
			problems = append(problems, fmt.Sprintf("%s fails %q", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
}()

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrBool(key string, fallback bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
