// Package narrative is a typed client for NarrativeService, a dynamic module
// whose endpoint is resolved through the ServiceWizard.
package narrative

import (
	"context"
	"fmt"

	"github.com/3leaps/kbagent/pkg/platform"
	"github.com/3leaps/kbagent/pkg/service"
	"github.com/3leaps/kbagent/pkg/workspace"
)

// ServiceName is the module name registered with the ServiceWizard.
const ServiceName = "NarrativeService"

// List types accepted by ListNarratives.
const (
	TypeMine   = "mine"
	TypeShared = "shared"
	TypePublic = "public"
)

// Client talks to NarrativeService. The endpoint is resolved on first use and
// reused for the configured URL cache time.
type Client struct {
	rpc *service.DynamicClient
}

// New creates a Client for the given service version tag ("" means release).
// opts.Endpoint, when set, replaces the ServiceWizard URL.
func New(settings platform.Settings, version string, opts platform.ClientOptions) (*Client, error) {
	rpc, err := service.NewDynamic(settings.DynamicServiceConfig(ServiceName, version, opts))
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc}, nil
}

// RegistryEndpoint returns the ServiceWizard URL.
func (c *Client) RegistryEndpoint() string { return c.rpc.Endpoint() }

// ServiceVersion returns the version tag requested from the registry.
func (c *Client) ServiceVersion() string { return c.rpc.ServiceVersion() }

// ResolveEndpoint returns the live NarrativeService URL.
func (c *Client) ResolveEndpoint(ctx context.Context) (string, error) {
	return c.rpc.ResolveEndpoint(ctx)
}

// Status is the module's self-reported status.
type Status struct {
	State         string `json:"state" yaml:"state"`
	Message       string `json:"message" yaml:"message"`
	Version       string `json:"version" yaml:"version"`
	GitURL        string `json:"git_url" yaml:"git_url"`
	GitCommitHash string `json:"git_commit_hash" yaml:"git_commit_hash"`
}

// Status returns the module status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.rpc.SimpleCall(ctx, "status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Narrative pairs a narrative workspace with its narrative object.
type Narrative struct {
	Workspace workspace.WorkspaceInfo `json:"ws"`
	Object    workspace.ObjectInfo    `json:"nar"`
}

type listParams struct {
	Type string `json:"type"`
}

type listResult struct {
	Narratives []Narrative `json:"narratives"`
}

// ListNarratives returns the narratives of the given list type.
func (c *Client) ListNarratives(ctx context.Context, listType string) ([]Narrative, error) {
	switch listType {
	case TypeMine, TypeShared, TypePublic:
	default:
		return nil, fmt.Errorf("list narratives: type must be %q, %q or %q, got %q", TypeMine, TypeShared, TypePublic, listType)
	}
	var res listResult
	if err := c.rpc.SimpleCall(ctx, "list_narratives", listParams{Type: listType}, &res); err != nil {
		return nil, err
	}
	if res.Narratives == nil {
		res.Narratives = []Narrative{}
	}
	return res.Narratives, nil
}
