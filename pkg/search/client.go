// Package search is a typed client for the platform search API.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/3leaps/kbagent/pkg/platform"
	"github.com/3leaps/kbagent/pkg/service"
)

// NarrativeType is the object type searched by SearchNarratives.
const NarrativeType = "KBaseNarrative.Narrative"

// DefaultPageLength is the page size of SearchNarratives.
const DefaultPageLength = 20

// Client talks to the search API. The search API has no method namespace.
type Client struct {
	rpc *service.Client
}

// New creates a Client. Endpoint and token come from opts when set, else from settings.
func New(settings platform.Settings, opts platform.ClientOptions) (*Client, error) {
	rpc, err := service.New(settings.ServiceConfig("", settings.Services.Search, opts))
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc}, nil
}

// Endpoint returns the effective service URL.
func (c *Client) Endpoint() string { return c.rpc.Endpoint() }

// FieldFilter matches one document field against a term.
type FieldFilter struct {
	Field string `json:"field"`
	Term  any    `json:"term"`
}

// Filters combines field filters with an operator ("AND" or "OR").
type Filters struct {
	Operator string        `json:"operator"`
	Fields   []FieldFilter `json:"fields"`
}

// Query is the query member of a search request.
type Query struct {
	Filters *Filters `json:"filters,omitempty"`
	Query   string   `json:"query,omitempty"`
}

// Paging selects a result window.
type Paging struct {
	Length int `json:"length"`
	Offset int `json:"offset"`
}

// Sort orders results by Field in Direction ("asc" or "desc").
type Sort struct {
	Field     string
	Direction string
}

// MarshalJSON encodes the sort as a [field, direction] pair.
func (s Sort) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{s.Field, s.Direction})
}

// Request is the search_workspace request document.
type Request struct {
	Types  []string `json:"types"`
	Query  Query    `json:"query"`
	Sorts  []Sort   `json:"sorts"`
	Paging Paging   `json:"paging"`
}

// NarrativeRequest builds the fixed narrative query for owner: owner filter,
// first page of DefaultPageLength, newest first then by relevance, narratives only.
func NarrativeRequest(owner string) Request {
	return Request{
		Types: []string{NarrativeType},
		Query: Query{
			Filters: &Filters{
				Operator: "AND",
				Fields:   []FieldFilter{{Field: "owner", Term: owner}},
			},
		},
		Sorts: []Sort{
			{Field: "timestamp", Direction: "desc"},
			{Field: "_score", Direction: "desc"},
		},
		Paging: Paging{Length: DefaultPageLength, Offset: 0},
	}
}

// NarrativeDoc is the indexed document of one narrative.
type NarrativeDoc struct {
	AccessGroup    int64  `json:"access_group" yaml:"access_group"`
	ObjID          int64  `json:"obj_id" yaml:"obj_id"`
	Version        int64  `json:"version" yaml:"version"`
	NarrativeTitle string `json:"narrative_title" yaml:"narrative_title"`
	Creator        string `json:"creator" yaml:"creator"`
	Owner          string `json:"owner" yaml:"owner"`
	Timestamp      int64  `json:"timestamp" yaml:"timestamp"`
	CreationDate   string `json:"creation_date" yaml:"creation_date"`
	IsPublic       bool   `json:"is_public" yaml:"is_public"`
	IsNarratorial  bool   `json:"is_narratorial" yaml:"is_narratorial"`
	TotalCells     int    `json:"total_cells" yaml:"total_cells"`
}

// NarrativeHit is one search hit.
type NarrativeHit struct {
	ID    string       `json:"id" yaml:"id"`
	Index string       `json:"index" yaml:"index"`
	Doc   NarrativeDoc `json:"doc" yaml:"doc"`
}

// Ref returns the "wsid/objid/version" reference of the narrative object.
func (h NarrativeHit) Ref() string {
	return fmt.Sprintf("%d/%d/%d", h.Doc.AccessGroup, h.Doc.ObjID, h.Doc.Version)
}

// NarrativeResult is a counted list of hits.
type NarrativeResult struct {
	Count int            `json:"count" yaml:"count"`
	Hits  []NarrativeHit `json:"hits" yaml:"hits"`
}

// SearchNarratives returns the narratives owned by owner.
func (c *Client) SearchNarratives(ctx context.Context, owner string) (*NarrativeResult, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("search narratives: owner is required")
	}
	return c.SearchWorkspace(ctx, NarrativeRequest(owner))
}

// SearchWorkspace runs an arbitrary search_workspace request and decodes the
// hits as narrative documents.
func (c *Client) SearchWorkspace(ctx context.Context, req Request) (*NarrativeResult, error) {
	var res NarrativeResult
	if err := c.rpc.SimpleCall(ctx, "search_workspace", req, &res); err != nil {
		return nil, err
	}
	if res.Hits == nil {
		res.Hits = []NarrativeHit{}
	}
	return &res, nil
}
