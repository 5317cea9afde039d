// Package output renders command results as typed record envelopes.
//
// Records are written either as JSONL (one self-contained JSON object per
// line) or as a stream of YAML documents. The envelope type field determines
// how to interpret the data payload.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record types follow the pattern kbagent.<type>.v<version>.
const (
	// TypeUser identifies resolved-user records.
	TypeUser = "kbagent.user.v1"

	// TypeCredentials identifies credential validation reports.
	TypeCredentials = "kbagent.credentials.v1"

	// TypeJobState identifies execution engine job states.
	TypeJobState = "kbagent.job_state.v1"

	// TypeJobSubmitted identifies run_job acknowledgements.
	TypeJobSubmitted = "kbagent.job_submitted.v1"

	// TypeJobRecord identifies locally recorded job submissions.
	TypeJobRecord = "kbagent.job_record.v1"

	// TypeNarrative identifies narrative search hits.
	TypeNarrative = "kbagent.narrative.v1"

	// TypeNarrativeInfo identifies narrative listings from NarrativeService.
	TypeNarrativeInfo = "kbagent.narrative_info.v1"

	// TypeServiceStatus identifies dynamic service status records.
	TypeServiceStatus = "kbagent.service_status.v1"

	// TypeMethod identifies catalog method summaries.
	TypeMethod = "kbagent.method.v1"

	// TypeWorkspace identifies workspace info records.
	TypeWorkspace = "kbagent.workspace.v1"

	// TypeObject identifies workspace object info records.
	TypeObject = "kbagent.object.v1"

	// TypeConfig identifies effective configuration records.
	TypeConfig = "kbagent.config.v1"

	// TypeVersion identifies build version records.
	TypeVersion = "kbagent.version.v1"

	// TypeError identifies error records.
	TypeError = "kbagent.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "kbagent.summary.v1"
)

// Record is the envelope for all output.
type Record struct {
	// Type identifies the record type (e.g., "kbagent.job_state.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RequestID correlates all records of one command invocation.
	RequestID string `json:"request_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// JobSubmittedRecord is the data payload for a submitted job.
type JobSubmittedRecord struct {
	JobID  string `json:"job_id"`
	Method string `json:"method"`
	WsID   int64  `json:"wsid,omitempty"`
}

// VersionRecord is the data payload for build version output.
type VersionRecord struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Gofulmen  string `json:"gofulmen,omitempty"`
	Crucible  string `json:"crucible,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Errors in multi-item commands are emitted as records rather than failing
// the whole command, allowing partial results.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Item is the input (job id, reference) related to this error, if any.
	Item string `json:"item,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeInvalidToken indicates the platform rejected the auth token.
	ErrCodeInvalidToken = "INVALID_TOKEN"

	// ErrCodeInvalidKey indicates an LLM provider rejected the API key.
	ErrCodeInvalidKey = "INVALID_API_KEY"

	// ErrCodeServer indicates a JSON-RPC server error.
	ErrCodeServer = "SERVER_ERROR"

	// ErrCodeHTTP indicates a transport-level HTTP failure.
	ErrCodeHTTP = "HTTP_ERROR"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	// Count is the number of records emitted.
	Count int `json:"count"`

	// Total is the server-side total, when it differs from Count.
	Total int `json:"total,omitempty"`

	// Errors is the count of error records emitted.
	Errors int `json:"errors"`

	// Duration is the total command duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
