// Package platform holds the immutable settings shared by the platform
// service clients: base endpoint, per-service paths, the default auth token,
// and timeouts.
//
// Settings is a plain value. Build it once (usually from internal/config) and
// pass it to each client constructor. Explicit per-client options always win
// over Settings.
package platform

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/kbagent/pkg/service"
)

// Default service locations.
const (
	DefaultBaseURL           = "https://kbase.us/services"
	DefaultEE2Path           = "/ee2"
	DefaultNMSPath           = "/narrative_method_store/rpc"
	DefaultWorkspacePath     = "/ws"
	DefaultSearchPath        = "/searchapi2/rpc"
	DefaultAuthPath          = "/auth"
	DefaultServiceWizardPath = "/service_wizard"
)

// ServicePaths are endpoint suffixes appended to Settings.BaseURL.
// A value starting with http:// or https:// is used as-is.
type ServicePaths struct {
	EE2           string `mapstructure:"ee2"`
	NMS           string `mapstructure:"nms"`
	Workspace     string `mapstructure:"workspace"`
	Search        string `mapstructure:"search"`
	Auth          string `mapstructure:"auth"`
	ServiceWizard string `mapstructure:"service_wizard"`
}

// Settings is the process-wide platform configuration.
type Settings struct {
	BaseURL      string
	Services     ServicePaths
	Token        string
	Timeout      time.Duration
	URLCacheTime time.Duration

	// RequestsPerSecond throttles each client when > 0.
	RequestsPerSecond float64

	Logger *zap.Logger
}

// Default returns Settings populated with the production defaults.
func Default() Settings {
	return Settings{
		BaseURL: DefaultBaseURL,
		Services: ServicePaths{
			EE2:           DefaultEE2Path,
			NMS:           DefaultNMSPath,
			Workspace:     DefaultWorkspacePath,
			Search:        DefaultSearchPath,
			Auth:          DefaultAuthPath,
			ServiceWizard: DefaultServiceWizardPath,
		},
		Timeout:      service.DefaultTimeout,
		URLCacheTime: service.DefaultURLCacheTime,
	}
}

// ServiceURL joins path onto BaseURL.
func (s Settings) ServiceURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base := strings.TrimRight(s.BaseURL, "/")
	if path == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// ClientOptions are explicit per-client overrides.
type ClientOptions struct {
	// Endpoint overrides the URL derived from Settings.
	Endpoint string

	// Token overrides Settings.Token.
	Token string

	// Timeout overrides Settings.Timeout.
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// ServiceConfig builds a service.Config for the named service namespace.
// path locates the service under BaseURL when opts.Endpoint is empty.
func (s Settings) ServiceConfig(name, path string, opts ClientOptions) service.Config {
	cfg := service.Config{
		Endpoint:   opts.Endpoint,
		Service:    name,
		Token:      opts.Token,
		Timeout:    opts.Timeout,
		HTTPClient: opts.HTTPClient,
		Logger:     opts.Logger,
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = s.ServiceURL(path)
	}
	if cfg.Token == "" {
		cfg.Token = s.Token
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = s.Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = s.Logger
	}
	if s.RequestsPerSecond > 0 {
		cfg.Limiter = rate.NewLimiter(rate.Limit(s.RequestsPerSecond), 1)
	}
	return cfg
}

// DynamicServiceConfig builds a service.DynamicConfig for a module resolved
// through the ServiceWizard. opts.Endpoint overrides the registry URL.
func (s Settings) DynamicServiceConfig(module, version string, opts ClientOptions) service.DynamicConfig {
	return service.DynamicConfig{
		Config:         s.ServiceConfig(module, s.Services.ServiceWizard, opts),
		ServiceVersion: version,
		URLCacheTime:   s.URLCacheTime,
	}
}
