package execengine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Job status values reported by the execution engine.
const (
	StatusCreated    = "created"
	StatusEstimating = "estimating"
	StatusQueued     = "queued"
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusError      = "error"
	StatusTerminated = "terminated"
)

var requiredKeys = []string{"job_id", "status"}

// ValidationError reports a job state payload that is missing required keys
// or carries them with the wrong type. Every offending key is listed.
type ValidationError struct {
	Missing []string
	Invalid []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required keys: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid keys: "+strings.Join(e.Invalid, ", "))
	}
	return "job state: " + strings.Join(parts, "; ")
}

// JobError is the nested error record of a failed job. Any sub-field may be absent.
type JobError struct {
	Error   *string
	Name    *string
	Code    *int
	Message *string
}

func (e *JobError) clone() *JobError {
	if e == nil {
		return nil
	}
	return &JobError{
		Error:   cloneString(e.Error),
		Name:    cloneString(e.Name),
		Code:    cloneInt(e.Code),
		Message: cloneString(e.Message),
	}
}

// JobState is the normalized status record of one execution engine job.
//
// A JobState is immutable. All values are derived once by ParseJobState and
// accessors return copies.
type JobState struct {
	jobID      string
	status     string
	batchJob   bool
	batchID    *string
	queued     int64
	estimating int64
	running    int64
	finished   int64
	updated    int64
	retryCount int64

	jobErr         *JobError
	errorMsg       *string
	errorCode      *int
	terminatedCode *string

	user        string
	wsID        *int64
	childJobs   []string
	retryIDs    []string
	retryParent *string
	scheduler   *string
	jobInput    json.RawMessage
	jobOutput   json.RawMessage
}

// ParseJobStateJSON decodes data and parses it with ParseJobState.
func ParseJobStateJSON(data []byte) (*JobState, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("job state: %w", err)
	}
	return ParseJobState(raw)
}

// ParseJobState validates raw and builds a JobState. It fails with a
// *ValidationError when job_id or status is absent or not a string.
func ParseJobState(raw map[string]any) (*JobState, error) {
	verr := &ValidationError{}
	for _, key := range requiredKeys {
		v, ok := raw[key]
		if !ok || v == nil {
			verr.Missing = append(verr.Missing, key)
			continue
		}
		if _, ok := v.(string); !ok {
			verr.Invalid = append(verr.Invalid, key)
		}
	}
	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		sort.Strings(verr.Missing)
		sort.Strings(verr.Invalid)
		return nil, verr
	}

	js := &JobState{
		jobID:          raw["job_id"].(string),
		status:         raw["status"].(string),
		batchJob:       hasKey(raw, "batch_id"),
		batchID:        optString(raw, "batch_id"),
		queued:         optInt64(raw, "queued"),
		estimating:     optInt64(raw, "estimating"),
		running:        optInt64(raw, "running"),
		finished:       optInt64(raw, "finished"),
		updated:        optInt64(raw, "updated"),
		retryCount:     optInt64(raw, "retry_count"),
		errorMsg:       optString(raw, "errormsg"),
		errorCode:      optInt(raw, "error_code"),
		terminatedCode: optCode(raw, "terminated_code"),
		retryParent:    optString(raw, "retry_parent"),
		scheduler:      optString(raw, "scheduler_id"),
		childJobs:      optStrings(raw, "child_jobs"),
		retryIDs:       optStrings(raw, "retry_ids"),
		jobInput:       optRaw(raw, "job_input"),
		jobOutput:      optRaw(raw, "job_output"),
	}
	if u := optString(raw, "user"); u != nil {
		js.user = *u
	}
	if ws, ok := raw["wsid"]; ok {
		if n, ok := toInt64(ws); ok {
			js.wsID = &n
		}
	}
	if sub, ok := raw["error"].(map[string]any); ok {
		js.jobErr = &JobError{
			Error:   optString(sub, "error"),
			Name:    optString(sub, "name"),
			Code:    optInt(sub, "code"),
			Message: optString(sub, "message"),
		}
	}
	return js, nil
}

// JobID returns the job identifier.
func (j *JobState) JobID() string { return j.jobID }

// Status returns the raw status string.
func (j *JobState) Status() string { return j.status }

// IsTerminal reports whether the job has stopped for good.
func (j *JobState) IsTerminal() bool {
	switch j.status {
	case StatusCompleted, StatusError, StatusTerminated:
		return true
	}
	return false
}

// BatchJob reports whether the payload carried a batch_id key, even a null one.
func (j *JobState) BatchJob() bool { return j.batchJob }

// BatchID returns the parent batch id, if any.
func (j *JobState) BatchID() (string, bool) { return deref(j.batchID) }

func (j *JobState) Queued() int64     { return j.queued }
func (j *JobState) Estimating() int64 { return j.estimating }
func (j *JobState) Running() int64    { return j.running }
func (j *JobState) Finished() int64   { return j.finished }
func (j *JobState) Updated() int64    { return j.updated }
func (j *JobState) RetryCount() int64 { return j.retryCount }

// Error returns a copy of the nested error record, or nil.
func (j *JobState) Error() *JobError { return j.jobErr.clone() }

// ErrorMsg returns the top-level errormsg, if any.
func (j *JobState) ErrorMsg() (string, bool) { return deref(j.errorMsg) }

// ErrorCode returns the top-level error_code, if any.
func (j *JobState) ErrorCode() (int, bool) {
	if j.errorCode == nil {
		return 0, false
	}
	return *j.errorCode, true
}

// TerminatedCode returns terminated_code in its string form, if any.
func (j *JobState) TerminatedCode() (string, bool) { return deref(j.terminatedCode) }

// User returns the job owner, or "" when absent.
func (j *JobState) User() string { return j.user }

// WsID returns the workspace id the job ran in, if any.
func (j *JobState) WsID() (int64, bool) {
	if j.wsID == nil {
		return 0, false
	}
	return *j.wsID, true
}

// ChildJobs returns the child job ids of a batch parent.
func (j *JobState) ChildJobs() []string { return append([]string(nil), j.childJobs...) }

// RetryIDs returns the ids of retries launched from this job.
func (j *JobState) RetryIDs() []string { return append([]string(nil), j.retryIDs...) }

// RetryParent returns the job this one retried, if any.
func (j *JobState) RetryParent() (string, bool) { return deref(j.retryParent) }

// SchedulerID returns the scheduler's id for the job, if any.
func (j *JobState) SchedulerID() (string, bool) { return deref(j.scheduler) }

// JobInput returns the raw job_input document, or nil.
func (j *JobState) JobInput() json.RawMessage { return append(json.RawMessage(nil), j.jobInput...) }

// JobOutput returns the raw job_output document, or nil.
func (j *JobState) JobOutput() json.RawMessage { return append(json.RawMessage(nil), j.jobOutput...) }

type jobErrorRecord struct {
	Error   *string `json:"error,omitempty" yaml:"error,omitempty"`
	Name    *string `json:"name,omitempty" yaml:"name,omitempty"`
	Code    *int    `json:"code,omitempty" yaml:"code,omitempty"`
	Message *string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Record is the flat, serializable view of a JobState.
type Record struct {
	JobID          string          `json:"job_id" yaml:"job_id"`
	Status         string          `json:"status" yaml:"status"`
	BatchJob       bool            `json:"batch_job" yaml:"batch_job"`
	BatchID        *string         `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
	User           string          `json:"user,omitempty" yaml:"user,omitempty"`
	WsID           *int64          `json:"wsid,omitempty" yaml:"wsid,omitempty"`
	Queued         int64           `json:"queued" yaml:"queued"`
	Estimating     int64           `json:"estimating" yaml:"estimating"`
	Running        int64           `json:"running" yaml:"running"`
	Finished       int64           `json:"finished" yaml:"finished"`
	Updated        int64           `json:"updated" yaml:"updated"`
	RetryCount     int64           `json:"retry_count" yaml:"retry_count"`
	Error          *jobErrorRecord `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorMsg       *string         `json:"errormsg,omitempty" yaml:"errormsg,omitempty"`
	ErrorCode      *int            `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	TerminatedCode *string         `json:"terminated_code,omitempty" yaml:"terminated_code,omitempty"`
	ChildJobs      []string        `json:"child_jobs,omitempty" yaml:"child_jobs,omitempty"`
}

// Record returns a detached, serializable copy of the job state.
func (j *JobState) Record() Record {
	r := Record{
		JobID:          j.jobID,
		Status:         j.status,
		BatchJob:       j.BatchJob(),
		BatchID:        cloneString(j.batchID),
		User:           j.user,
		WsID:           cloneInt64(j.wsID),
		Queued:         j.queued,
		Estimating:     j.estimating,
		Running:        j.running,
		Finished:       j.finished,
		Updated:        j.updated,
		RetryCount:     j.retryCount,
		ErrorMsg:       cloneString(j.errorMsg),
		ErrorCode:      cloneInt(j.errorCode),
		TerminatedCode: cloneString(j.terminatedCode),
		ChildJobs:      j.ChildJobs(),
	}
	if e := j.jobErr.clone(); e != nil {
		r.Error = &jobErrorRecord{Error: e.Error, Name: e.Name, Code: e.Code, Message: e.Message}
	}
	return r
}

// MarshalJSON encodes the job state as its Record.
func (j *JobState) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.Record())
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func optString(m map[string]any, key string) *string {
	s, ok := m[key].(string)
	if !ok {
		return nil
	}
	return &s
}

func optStrings(m map[string]any, key string) []string {
	items, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func optInt64(m map[string]any, key string) int64 {
	n, _ := toInt64(m[key])
	return n
}

func optInt(m map[string]any, key string) *int {
	n, ok := toInt64(m[key])
	if !ok {
		return nil
	}
	i := int(n)
	return &i
}

// optCode keeps a code in string form whether it arrived as a string or a number.
func optCode(m map[string]any, key string) *string {
	switch v := m[key].(type) {
	case string:
		return &v
	case float64, json.Number, int, int64:
		n, _ := toInt64(v)
		s := strconv.FormatInt(n, 10)
		return &s
	}
	return nil
}

func optRaw(m map[string]any, key string) json.RawMessage {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func deref(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneInt64(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
