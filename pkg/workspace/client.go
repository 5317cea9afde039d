// Package workspace is a typed client for the Workspace storage service.
//
// The workspace API returns workspace and object metadata as positional
// tuples; this package decodes them into named structs.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/3leaps/kbagent/pkg/platform"
	"github.com/3leaps/kbagent/pkg/service"
)

// ServiceName is the JSON-RPC namespace of the workspace service.
const ServiceName = "Workspace"

// Client talks to the Workspace service.
type Client struct {
	rpc *service.Client
}

// New creates a Client. Endpoint and token come from opts when set, else from settings.
func New(settings platform.Settings, opts platform.ClientOptions) (*Client, error) {
	rpc, err := service.New(settings.ServiceConfig(ServiceName, settings.Services.Workspace, opts))
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc}, nil
}

// Endpoint returns the effective service URL.
func (c *Client) Endpoint() string { return c.rpc.Endpoint() }

// Ver returns the service version.
func (c *Client) Ver(ctx context.Context) (string, error) {
	var v string
	if err := c.rpc.SimpleCall(ctx, "ver", nil, &v); err != nil {
		return "", err
	}
	return v, nil
}

// WorkspaceIdentity names a workspace by id or by name. Exactly one must be set.
type WorkspaceIdentity struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"workspace,omitempty"`
}

func (w WorkspaceIdentity) validate() error {
	if (w.ID == 0) == (w.Name == "") {
		return fmt.Errorf("workspace identity: exactly one of id or name is required")
	}
	return nil
}

// WorkspaceInfo is the decoded workspace_info tuple.
type WorkspaceInfo struct {
	ID             int64             `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	Owner          string            `json:"owner" yaml:"owner"`
	ModDate        string            `json:"moddate" yaml:"moddate"`
	MaxObjID       int64             `json:"max_objid" yaml:"max_objid"`
	UserPermission string            `json:"user_permission" yaml:"user_permission"`
	GlobalRead     string            `json:"globalread" yaml:"globalread"`
	LockStatus     string            `json:"lockstat" yaml:"lockstat"`
	Metadata       map[string]string `json:"metadata" yaml:"metadata"`
}

// UnmarshalJSON decodes the 9-element workspace_info tuple.
func (w *WorkspaceInfo) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("workspace_info: %w", err)
	}
	if len(tuple) != 9 {
		return fmt.Errorf("workspace_info: expected 9 elements, got %d", len(tuple))
	}
	return decodeTuple(tuple,
		&w.ID, &w.Name, &w.Owner, &w.ModDate, &w.MaxObjID,
		&w.UserPermission, &w.GlobalRead, &w.LockStatus, &w.Metadata)
}

// GetWorkspaceInfo returns metadata for one workspace.
func (c *Client) GetWorkspaceInfo(ctx context.Context, id WorkspaceIdentity) (*WorkspaceInfo, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}
	var info WorkspaceInfo
	if err := c.rpc.SimpleCall(ctx, "get_workspace_info", id, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ObjectInfo is the decoded object_info tuple.
type ObjectInfo struct {
	ObjID     int64             `json:"objid" yaml:"objid"`
	Name      string            `json:"name" yaml:"name"`
	Type      string            `json:"type" yaml:"type"`
	SaveDate  string            `json:"save_date" yaml:"save_date"`
	Version   int64             `json:"version" yaml:"version"`
	SavedBy   string            `json:"saved_by" yaml:"saved_by"`
	WsID      int64             `json:"wsid" yaml:"wsid"`
	Workspace string            `json:"workspace" yaml:"workspace"`
	Checksum  string            `json:"chsum" yaml:"chsum"`
	Size      int64             `json:"size" yaml:"size"`
	Metadata  map[string]string `json:"meta" yaml:"meta"`
}

// Ref returns the "wsid/objid/version" reference of the object.
func (o ObjectInfo) Ref() string {
	return fmt.Sprintf("%d/%d/%d", o.WsID, o.ObjID, o.Version)
}

// UnmarshalJSON decodes the 11-element object_info tuple.
func (o *ObjectInfo) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("object_info: %w", err)
	}
	if len(tuple) != 11 {
		return fmt.Errorf("object_info: expected 11 elements, got %d", len(tuple))
	}
	return decodeTuple(tuple,
		&o.ObjID, &o.Name, &o.Type, &o.SaveDate, &o.Version, &o.SavedBy,
		&o.WsID, &o.Workspace, &o.Checksum, &o.Size, &o.Metadata)
}

type objectSpec struct {
	Ref string `json:"ref"`
}

type getObjectInfo3Params struct {
	Objects         []objectSpec `json:"objects"`
	IncludeMetadata int          `json:"includeMetadata"`
	IgnoreErrors    int          `json:"ignoreErrors"`
}

type getObjectInfo3Result struct {
	Infos []*ObjectInfo `json:"infos"`
	Paths [][]string    `json:"paths"`
}

// GetObjectInfo returns metadata for objects addressed by reference
// ("wsid/objid[/ver]" or "wsname/objname"). With ignoreErrors a missing
// object yields a nil entry instead of failing the call.
func (c *Client) GetObjectInfo(ctx context.Context, refs []string, ignoreErrors bool) ([]*ObjectInfo, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	params := getObjectInfo3Params{IncludeMetadata: 1}
	if ignoreErrors {
		params.IgnoreErrors = 1
	}
	for _, r := range refs {
		params.Objects = append(params.Objects, objectSpec{Ref: r})
	}

	var res getObjectInfo3Result
	if err := c.rpc.SimpleCall(ctx, "get_object_info3", params, &res); err != nil {
		return nil, err
	}
	return res.Infos, nil
}

// decodeTuple unmarshals each tuple slot into the matching destination.
// JSON null leaves the destination at its zero value.
func decodeTuple(tuple []json.RawMessage, dst ...any) error {
	for i, d := range dst {
		if err := json.Unmarshal(tuple[i], d); err != nil {
			return fmt.Errorf("tuple element %d: %w", i, err)
		}
	}
	return nil
}
