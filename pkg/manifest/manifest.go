// Package manifest loads and validates job request files for the execution
// engine.
//
// A job request is a YAML or JSON file naming the app method to run and its
// positional parameters. Files are validated against an embedded JSON Schema
// before decoding, so unknown properties are rejected rather than silently
// dropped.
//
// Example request (YAML):
//
//	version: "1.0"
//	method: echo_test.echo
//	app_id: echo_test/echo
//	service_ver: dev
//	wsid: 42
//	params:
//	  - message: hello
//	source_ws_objects:
//	  - 42/7/1
package manifest

import (
	"strings"

	"github.com/3leaps/kbagent/pkg/execengine"
)

// Current request format version.
const Version = "1.0"

// JobRequest is a validated job request.
type JobRequest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the request format version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Method is "<Module>.<method>" of the app to run.
	Method string `json:"method" yaml:"method"`

	AppID       string `json:"app_id,omitempty" yaml:"app_id,omitempty"`
	ServiceVer  string `json:"service_ver,omitempty" yaml:"service_ver,omitempty"`
	WsID        int64  `json:"wsid,omitempty" yaml:"wsid,omitempty"`
	ParentJobID string `json:"parent_job_id,omitempty" yaml:"parent_job_id,omitempty"`

	// Params are the positional method arguments.
	Params []any `json:"params,omitempty" yaml:"params,omitempty"`

	SourceWsObjects []string       `json:"source_ws_objects,omitempty" yaml:"source_ws_objects,omitempty"`
	Meta            map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
	JobRequirements map[string]any `json:"job_requirements,omitempty" yaml:"job_requirements,omitempty"`
}

// ApplyDefaults fills optional fields.
func (r *JobRequest) ApplyDefaults() {
	if r.Params == nil {
		r.Params = []any{}
	}
	if r.AppID == "" {
		// Apps are addressed as "<Module>/<method>" by the catalog.
		if module, method, ok := strings.Cut(r.Method, "."); ok {
			r.AppID = module + "/" + method
		}
	}
}

// RunJobParams converts the request into execution engine parameters.
//
// wsid overrides the file's workspace when non-zero.
func (r *JobRequest) RunJobParams(wsid int64) execengine.RunJobParams {
	p := execengine.RunJobParams{
		Method:          r.Method,
		AppID:           r.AppID,
		Params:          r.Params,
		ServiceVer:      r.ServiceVer,
		WsID:            r.WsID,
		ParentJobID:     r.ParentJobID,
		Meta:            r.Meta,
		SourceWsObjects: r.SourceWsObjects,
		JobRequirements: r.JobRequirements,
	}
	if wsid != 0 {
		p.WsID = wsid
	}
	return p
}
