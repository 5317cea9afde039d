package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/kbagent/pkg/auth"
	"github.com/3leaps/kbagent/pkg/llm"
	"github.com/3leaps/kbagent/pkg/platform"
)

const (
	// AppName names the config directory and file.
	AppName = "kbagent"

	// EnvPrefix prefixes every application environment variable.
	EnvPrefix = "KBAGENT_"

	// ConfigFileEnv names an explicit config file.
	ConfigFileEnv = EnvPrefix + "CONFIG"
)

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// EnvSpec maps an environment variable onto a config path.
type EnvSpec struct {
	Name string
	Path string
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("kbase.endpoint", platform.DefaultBaseURL)
	v.SetDefault("kbase.token", "")

	v.SetDefault("services.ee2", platform.DefaultEE2Path)
	v.SetDefault("services.nms", platform.DefaultNMSPath)
	v.SetDefault("services.workspace", platform.DefaultWorkspacePath)
	v.SetDefault("services.search", platform.DefaultSearchPath)
	v.SetDefault("services.auth", platform.DefaultAuthPath)
	v.SetDefault("services.service_wizard", platform.DefaultServiceWizardPath)

	v.SetDefault("timeouts.rpc", "1800s")
	v.SetDefault("timeouts.url_cache", "3600s")

	v.SetDefault("auth_cache.max_size", auth.DefaultCacheMaxSize)
	v.SetDefault("auth_cache.ttl", "5m")

	v.SetDefault("llm.provider", llm.KindOpenAI.String())
	v.SetDefault("llm.openai_endpoint", llm.DefaultOpenAIEndpoint)
	v.SetDefault("llm.cborg_endpoint", llm.DefaultCBORGEndpoint)
	v.SetDefault("llm.openai_key", "")
	v.SetDefault("llm.cborg_key", "")

	v.SetDefault("rate_limit.rps", 0.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("jobs.dir", "")
}

// getEnvSpecs lists the prefixed environment variables.
func getEnvSpecs() []EnvSpec {
	return []EnvSpec{
		{Name: EnvPrefix + "ENDPOINT", Path: "kbase.endpoint"},
		{Name: EnvPrefix + "TOKEN", Path: "kbase.token"},
		{Name: EnvPrefix + "RPC_TIMEOUT", Path: "timeouts.rpc"},
		{Name: EnvPrefix + "URL_CACHE_TIME", Path: "timeouts.url_cache"},
		{Name: EnvPrefix + "AUTH_CACHE_SIZE", Path: "auth_cache.max_size"},
		{Name: EnvPrefix + "AUTH_CACHE_TTL", Path: "auth_cache.ttl"},
		{Name: EnvPrefix + "LLM_PROVIDER", Path: "llm.provider"},
		{Name: EnvPrefix + "OPENAI_ENDPOINT", Path: "llm.openai_endpoint"},
		{Name: EnvPrefix + "CBORG_ENDPOINT", Path: "llm.cborg_endpoint"},
		{Name: EnvPrefix + "OPENAI_KEY", Path: "llm.openai_key"},
		{Name: EnvPrefix + "CBORG_KEY", Path: "llm.cborg_key"},
		{Name: EnvPrefix + "RATE_LIMIT", Path: "rate_limit.rps"},
		{Name: EnvPrefix + "LOG_LEVEL", Path: "logging.level"},
		{Name: EnvPrefix + "LOG_FORMAT", Path: "logging.format"},
		{Name: EnvPrefix + "HOST", Path: "server.host"},
		{Name: EnvPrefix + "PORT", Path: "server.port"},
		{Name: EnvPrefix + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: EnvPrefix + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: EnvPrefix + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: EnvPrefix + "JOBS_DIR", Path: "jobs.dir"},
	}
}

// getEnvAliases lists the conventional unprefixed variables. A prefixed
// variable wins over its alias.
func getEnvAliases() []EnvSpec {
	return []EnvSpec{
		{Name: "KB_AUTH_TOKEN", Path: "kbase.token"},
		{Name: "OPENAI_API_KEY", Path: "llm.openai_key"},
		{Name: "CBORG_API_KEY", Path: "llm.cborg_key"},
	}
}

func bindEnv(v *viper.Viper) error {
	names := map[string][]string{}
	for _, spec := range getEnvSpecs() {
		names[spec.Path] = append(names[spec.Path], spec.Name)
	}
	for _, spec := range getEnvAliases() {
		names[spec.Path] = append(names[spec.Path], spec.Name)
	}

	paths := make([]string, 0, len(names))
	for p := range names {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if err := v.BindEnv(append([]string{p}, names[p]...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", p, err)
		}
	}
	return nil
}

// getUserConfigPaths returns candidate config files, most specific first.
func getUserConfigPaths() []string {
	var paths []string
	if explicit := os.Getenv(ConfigFileEnv); explicit != "" {
		paths = append(paths, explicit)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, AppName, "config.yaml"))
	}
	return paths
}

// Load builds a Config from the first config file found plus environment
// and overrides. Overrides are nested maps keyed like the YAML file.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return load(ctx, "", overrides...)
}

// LoadFile is Load with an explicit config file, which must exist.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if path == "" {
		return nil, errors.New("config file path is empty")
	}
	return load(ctx, path, overrides...)
}

func load(ctx context.Context, file string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	SetDefaults(v)

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		for _, candidate := range getUserConfigPaths() {
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			v.SetConfigFile(candidate)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", candidate, err)
			}
			break
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configMu.Lock()
	snapshot := cfg
	appConfig = &snapshot
	configMu.Unlock()

	return &cfg, nil
}

// flatten turns nested override maps into dotted viper keys so each value
// lands in viper's override layer above the environment.
func flatten(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// GetConfig returns a copy of the most recently loaded Config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	if appConfig == nil {
		return nil
	}
	cfg := *appConfig
	return &cfg
}

// Reset forgets the loaded Config. Tests only.
func Reset() {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = nil
}
