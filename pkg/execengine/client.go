// Package execengine is a typed client for the execution engine (EE2) job
// service, plus the JobState model it returns.
package execengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/3leaps/kbagent/pkg/platform"
	"github.com/3leaps/kbagent/pkg/service"
)

// ServiceName is the JSON-RPC namespace of the execution engine.
const ServiceName = "execution_engine2"

// Client talks to the execution engine.
type Client struct {
	rpc *service.Client
}

// New creates a Client. Endpoint and token come from opts when set, else from settings.
func New(settings platform.Settings, opts platform.ClientOptions) (*Client, error) {
	rpc, err := service.New(settings.ServiceConfig(ServiceName, settings.Services.EE2, opts))
	if err != nil {
		return nil, err
	}
	return &Client{rpc: rpc}, nil
}

// Endpoint returns the effective service URL.
func (c *Client) Endpoint() string { return c.rpc.Endpoint() }

// Token returns the effective Authorization header value.
func (c *Client) Token() string { return c.rpc.Token() }

type checkJobParams struct {
	JobID string `json:"job_id"`
}

// CheckJob fetches and parses the state of one job.
func (c *Client) CheckJob(ctx context.Context, jobID string) (*JobState, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("check_job: job id is required")
	}
	var raw map[string]any
	if err := c.rpc.SimpleCall(ctx, "check_job", checkJobParams{JobID: jobID}, &raw); err != nil {
		return nil, err
	}
	return ParseJobState(raw)
}

type checkJobsParams struct {
	JobIDs []string `json:"job_ids"`
}

type checkJobsResult struct {
	JobStates []map[string]any `json:"job_states"`
}

// IncompleteError reports a check_jobs reply whose state count differs from
// the number of ids requested. Missing lists requested ids with no state.
type IncompleteError struct {
	Requested int
	Returned  int
	Missing   []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("check_jobs: requested %d jobs, got %d states (missing: %s)",
		e.Requested, e.Returned, strings.Join(e.Missing, ", "))
}

// CheckJobs fetches the states of several jobs in one call. Order follows ids.
// When the reply carries a different number of states, the parsed states are
// returned together with an *IncompleteError.
func (c *Client) CheckJobs(ctx context.Context, ids []string) ([]*JobState, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var res checkJobsResult
	if err := c.rpc.SimpleCall(ctx, "check_jobs", checkJobsParams{JobIDs: ids}, &res); err != nil {
		return nil, err
	}
	states := make([]*JobState, 0, len(res.JobStates))
	for i, raw := range res.JobStates {
		js, err := ParseJobState(raw)
		if err != nil {
			return nil, fmt.Errorf("check_jobs[%d]: %w", i, err)
		}
		states = append(states, js)
	}
	if len(states) != len(ids) {
		seen := make(map[string]bool, len(states))
		for _, s := range states {
			seen[s.jobID] = true
		}
		incomplete := &IncompleteError{Requested: len(ids), Returned: len(states), Missing: []string{}}
		for _, id := range ids {
			if !seen[id] {
				incomplete.Missing = append(incomplete.Missing, id)
			}
		}
		return states, incomplete
	}
	return states, nil
}

// RunJobParams describes a job submission.
type RunJobParams struct {
	// Method is "<Module>.<method>" of the app to run.
	Method          string         `json:"method"`
	AppID           string         `json:"app_id,omitempty"`
	Params          []any          `json:"params"`
	ServiceVer      string         `json:"service_ver,omitempty"`
	WsID            int64          `json:"wsid,omitempty"`
	ParentJobID     string         `json:"parent_job_id,omitempty"`
	Meta            map[string]any `json:"meta,omitempty"`
	SourceWsObjects []string       `json:"source_ws_objects,omitempty"`
	JobRequirements map[string]any `json:"job_requirements,omitempty"`
}

// RunJob submits a job and returns its id.
func (c *Client) RunJob(ctx context.Context, params RunJobParams) (string, error) {
	if strings.TrimSpace(params.Method) == "" {
		return "", fmt.Errorf("run_job: method is required")
	}
	if params.Params == nil {
		params.Params = []any{}
	}
	var jobID string
	if err := c.rpc.SimpleCall(ctx, "run_job", params, &jobID); err != nil {
		return "", err
	}
	return jobID, nil
}

// Terminated codes accepted by cancel_job.
const (
	TerminatedByUser       = 0
	TerminatedByAdmin      = 1
	TerminatedByAutomation = 2
)

type cancelJobParams struct {
	JobID          string `json:"job_id"`
	TerminatedCode int    `json:"terminated_code"`
}

// CancelJob asks the engine to terminate a job.
func (c *Client) CancelJob(ctx context.Context, jobID string, terminatedCode int) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("cancel_job: job id is required")
	}
	// cancel_job returns no value, so the raw call path is used.
	_, err := c.rpc.Call(ctx, c.rpc.Endpoint(), ServiceName+".cancel_job", cancelJobParams{
		JobID:          jobID,
		TerminatedCode: terminatedCode,
	})
	return err
}

// ServiceStatus is the engine's self-reported status.
type ServiceStatus struct {
	Version    string  `json:"version"`
	Service    string  `json:"service"`
	ServerTime float64 `json:"server_time"`
	GitCommit  string  `json:"git_commit"`
}

// Status returns the engine's status record.
func (c *Client) Status(ctx context.Context) (*ServiceStatus, error) {
	var st ServiceStatus
	if err := c.rpc.SimpleCall(ctx, "status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
