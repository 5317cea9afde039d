// Package nms is a typed client for the Narrative Method Store, the catalog
// of runnable app methods.
package nms

import (
	"context"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/kbagent/pkg/platform"
	"github.com/3leaps/kbagent/pkg/service"
)

// ServiceName is the JSON-RPC namespace of the method store.
const ServiceName = "NarrativeMethodStore"

// Release tags understood by the method store.
const (
	TagRelease = "release"
	TagBeta    = "beta"
	TagDev     = "dev"
)

// Client talks to the Narrative Method Store.
type Client struct {
	rpc *service.Client
}

// New creates a Client. Endpoint and token come from opts when set, else from settings.
func New(settings platform.Settings, opts platform.ClientOptions) (*Client, error) {
	rpc, err := service.New(settings.ServiceConfig(ServiceName, settings.Services.NMS, opts))
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc}, nil
}

// Endpoint returns the effective service URL.
func (c *Client) Endpoint() string { return c.rpc.Endpoint() }

// Status is the method store's self-reported status.
type Status struct {
	GitSpecURL     string `json:"git_spec_url"`
	GitSpecBranch  string `json:"git_spec_branch"`
	GitSpecCommit  string `json:"git_spec_commit"`
	UpdateInterval string `json:"update_interval"`
}

// Status returns the service status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.rpc.SimpleCall(ctx, "status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// MethodBriefInfo summarizes one catalog method.
type MethodBriefInfo struct {
	ID            string   `json:"id" yaml:"id"`
	ModuleName    string   `json:"module_name" yaml:"module_name"`
	GitCommitHash string   `json:"git_commit_hash" yaml:"git_commit_hash"`
	Name          string   `json:"name" yaml:"name"`
	Ver           string   `json:"ver" yaml:"ver"`
	Subtitle      string   `json:"subtitle" yaml:"subtitle"`
	Tooltip       string   `json:"tooltip" yaml:"tooltip"`
	Categories    []string `json:"categories" yaml:"categories"`
	Authors       []string `json:"authors" yaml:"authors"`
	InputTypes    []string `json:"input_types" yaml:"input_types"`
	OutputTypes   []string `json:"output_types" yaml:"output_types"`
	AppType       string   `json:"app_type" yaml:"app_type"`
}

// ListMethodsParams filters ListMethods.
type ListMethodsParams struct {
	// Tag selects the release channel. Empty uses the server default.
	Tag string

	// Pattern is a glob over method ids (e.g., "kb_uploadmethods/*").
	// Matching happens client side. Empty keeps every method.
	Pattern string
}

type listMethodsRequest struct {
	Tag string `json:"tag,omitempty"`
}

// ListMethods returns catalog methods, optionally filtered by Pattern.
func (c *Client) ListMethods(ctx context.Context, params ListMethodsParams) ([]MethodBriefInfo, error) {
	if params.Pattern != "" && !doublestar.ValidatePattern(params.Pattern) {
		return nil, fmt.Errorf("list_methods: invalid pattern %q", params.Pattern)
	}

	var methods []MethodBriefInfo
	if err := c.rpc.SimpleCall(ctx, "list_methods", listMethodsRequest{Tag: params.Tag}, &methods); err != nil {
		return nil, err
	}
	if params.Pattern == "" {
		return methods, nil
	}

	out := make([]MethodBriefInfo, 0, len(methods))
	for _, m := range methods {
		ok, err := doublestar.Match(params.Pattern, m.ID)
		if err != nil {
			return nil, fmt.Errorf("list_methods: %w", err)
		}
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

type getMethodBriefInfoRequest struct {
	IDs []string `json:"ids"`
	Tag string   `json:"tag,omitempty"`
}

// GetMethodBriefInfo returns brief info for the given method ids.
func (c *Client) GetMethodBriefInfo(ctx context.Context, ids []string, tag string) ([]MethodBriefInfo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var methods []MethodBriefInfo
	if err := c.rpc.SimpleCall(ctx, "get_method_brief_info", getMethodBriefInfoRequest{IDs: ids, Tag: tag}, &methods); err != nil {
		return nil, err
	}
	return methods, nil
}
