package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ServiceStatusMethod is the registry method used to resolve dynamic services.
const ServiceStatusMethod = "ServiceWizard.get_service_status"

// DefaultServiceVersion is the registry version tag used when none is given.
const DefaultServiceVersion = "release"

// DefaultURLCacheTime is how long a resolved endpoint is reused.
const DefaultURLCacheTime = 3600 * time.Second

// DynamicConfig configures a DynamicClient.
type DynamicConfig struct {
	// Config addresses the service registry: Endpoint is the ServiceWizard URL
	// and Service is the logical module name to resolve.
	Config

	// ServiceVersion is the version tag requested from the registry.
	ServiceVersion string

	// URLCacheTime bounds reuse of a resolved endpoint. Zero uses DefaultURLCacheTime.
	URLCacheTime time.Duration

	// Clock supplies the current time. Nil uses SystemClock.
	Clock Clock
}

// DynamicClient resolves its service endpoint through the registry and
// caches the result for URLCacheTime.
//
// DynamicClient is safe for concurrent use.
type DynamicClient struct {
	*Client

	version   string
	cacheTime time.Duration
	clock     Clock

	mu         sync.Mutex
	resolved   string
	lastUpdate time.Time
}

// NewDynamic creates a DynamicClient.
func NewDynamic(cfg DynamicConfig) (*DynamicClient, error) {
	if cfg.Service == "" {
		return nil, &ConfigError{Field: "Service", Message: "service name is required for dynamic resolution"}
	}
	if cfg.URLCacheTime < 0 {
		return nil, &ConfigError{Field: "URLCacheTime", Message: "url cache time must be >= 0"}
	}

	base, err := New(cfg.Config)
	if err != nil {
		return nil, err
	}

	version := cfg.ServiceVersion
	if version == "" {
		version = DefaultServiceVersion
	}
	cacheTime := cfg.URLCacheTime
	if cacheTime == 0 {
		cacheTime = DefaultURLCacheTime
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	return &DynamicClient{
		Client:    base,
		version:   version,
		cacheTime: cacheTime,
		clock:     clock,
	}, nil
}

// ServiceVersion returns the version tag sent to the registry.
func (c *DynamicClient) ServiceVersion() string { return c.version }

type serviceStatusParams struct {
	ModuleName string `json:"module_name"`
	Version    string `json:"version"`
}

type serviceStatus struct {
	URL string `json:"url"`
}

// ResolveEndpoint returns the live service URL, asking the registry only when
// no endpoint is cached or the cached one is at least URLCacheTime old.
func (c *DynamicClient) ResolveEndpoint(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.resolved != "" && now.Sub(c.lastUpdate) < c.cacheTime {
		return c.resolved, nil
	}

	result, err := c.Call(ctx, c.endpoint, ServiceStatusMethod, serviceStatusParams{
		ModuleName: c.service,
		Version:    c.version,
	})
	if err != nil {
		return "", err
	}

	var status serviceStatus
	if err := decodeFirst(result, &status); err != nil {
		return "", err
	}
	if status.URL == "" {
		return "", fmt.Errorf("%s: no url for %s (%s)", ServiceStatusMethod, c.service, c.version)
	}

	c.resolved = status.URL
	c.lastUpdate = now
	c.log.Debug("Resolved service endpoint",
		zap.String("service", c.service),
		zap.String("version", c.version),
		zap.String("url", status.URL))
	return c.resolved, nil
}

// SimpleCall resolves the endpoint, then calls "<service>.<method>" there and
// decodes the first result element into out.
func (c *DynamicClient) SimpleCall(ctx context.Context, method string, params any, out any) error {
	endpoint, err := c.ResolveEndpoint(ctx)
	if err != nil {
		return err
	}
	return c.simpleCallAt(ctx, endpoint, method, params, out)
}
