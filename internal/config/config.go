// Package config loads kbagent configuration from defaults, an optional YAML
// file, environment variables and runtime overrides, in increasing order of
// precedence.
//
// Load returns a Config value. Nothing mutates a Config after Load; callers
// derive per-client settings from it with Platform.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/kbagent/pkg/llm"
	"github.com/3leaps/kbagent/pkg/platform"
)

// Config is the complete application configuration.
type Config struct {
	KBase     KBaseConfig           `mapstructure:"kbase"`
	Services  platform.ServicePaths `mapstructure:"services"`
	Timeouts  TimeoutsConfig        `mapstructure:"timeouts"`
	AuthCache AuthCacheConfig       `mapstructure:"auth_cache"`
	LLM       LLMConfig             `mapstructure:"llm"`
	RateLimit RateLimitConfig       `mapstructure:"rate_limit"`
	Logging   LoggingConfig         `mapstructure:"logging"`
	Server    ServerConfig          `mapstructure:"server"`
	Jobs      JobsConfig            `mapstructure:"jobs"`
}

// KBaseConfig locates the platform.
type KBaseConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

// TimeoutsConfig bounds remote calls.
type TimeoutsConfig struct {
	RPC      time.Duration `mapstructure:"rpc"`
	URLCache time.Duration `mapstructure:"url_cache"`
}

// AuthCacheConfig sizes the token-to-user cache.
type AuthCacheConfig struct {
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// LLMConfig selects and authenticates an LLM provider.
type LLMConfig struct {
	Provider       string `mapstructure:"provider"`
	OpenAIEndpoint string `mapstructure:"openai_endpoint"`
	CBORGEndpoint  string `mapstructure:"cborg_endpoint"`
	OpenAIKey      string `mapstructure:"openai_key"`
	CBORGKey       string `mapstructure:"cborg_key"`
}

// Key returns the API key configured for the selected provider.
func (c LLMConfig) Key() string {
	if strings.EqualFold(c.Provider, llm.KindCBORG.String()) {
		return c.CBORGKey
	}
	return c.OpenAIKey
}

// Endpoint returns the endpoint configured for the selected provider.
func (c LLMConfig) Endpoint() string {
	if strings.EqualFold(c.Provider, llm.KindCBORG.String()) {
		return c.CBORGEndpoint
	}
	return c.OpenAIEndpoint
}

// RateLimitConfig throttles outgoing RPC calls. Zero disables throttling.
type RateLimitConfig struct {
	RPS float64 `mapstructure:"rps"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// JobsConfig locates the local job submission history.
type JobsConfig struct {
	// Dir is the registry root. Empty means <user config dir>/kbagent/jobs.
	Dir string `mapstructure:"dir"`
}

// RegistryDir returns the registry root, resolving the default.
func (j JobsConfig) RegistryDir() (string, error) {
	if j.Dir != "" {
		return j.Dir, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("jobs.dir: %w", err)
	}
	return filepath.Join(dir, AppName, "jobs"), nil
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Platform derives the shared client settings.
func (c Config) Platform(logger *zap.Logger) platform.Settings {
	return platform.Settings{
		BaseURL:           c.KBase.Endpoint,
		Services:          c.Services,
		Token:             c.KBase.Token,
		Timeout:           c.Timeouts.RPC,
		URLCacheTime:      c.Timeouts.URLCache,
		RequestsPerSecond: c.RateLimit.RPS,
		Logger:            logger,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.KBase.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("kbase.endpoint: invalid URL %q", c.KBase.Endpoint)
	}
	if c.Timeouts.RPC <= 0 {
		return fmt.Errorf("timeouts.rpc: must be > 0")
	}
	if c.Timeouts.URLCache < 0 {
		return fmt.Errorf("timeouts.url_cache: must be >= 0")
	}
	if c.AuthCache.MaxSize < 0 || c.AuthCache.TTL < 0 {
		return fmt.Errorf("auth_cache: max_size and ttl must be >= 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps: must be >= 0")
	}
	if _, err := llm.ParseKind(c.LLM.Provider); err != nil {
		return fmt.Errorf("llm.provider: %w", err)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	return nil
}
