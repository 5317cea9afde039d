// Package jobregistry keeps a local history of jobs submitted to the
// execution engine.
//
// Each job lives in its own directory under the registry root:
//
//	<root>/<job_id>/job.json
//
// Records are written atomically and only ever extended with new fields.
package jobregistry

import "time"

// Record is one submitted job as persisted in job.json.
type Record struct {
	JobID       string    `json:"job_id" yaml:"job_id"`
	Method      string    `json:"method" yaml:"method"`
	AppID       string    `json:"app_id,omitempty" yaml:"app_id,omitempty"`
	WsID        int64     `json:"wsid,omitempty" yaml:"wsid,omitempty"`
	Endpoint    string    `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	RequestFile string    `json:"request_file,omitempty" yaml:"request_file,omitempty"`
	SubmittedAt time.Time `json:"submitted_at" yaml:"submitted_at"`

	// Status is the last execution engine status seen by a check.
	Status    string     `json:"status,omitempty" yaml:"status,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty" yaml:"checked_at,omitempty"`
}
