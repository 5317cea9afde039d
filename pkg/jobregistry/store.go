package jobregistry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotRecorded is returned for job ids the registry has never seen.
var ErrNotRecorded = errors.New("job not recorded")

// Store persists Records under a root directory.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) JobPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), "job.json")
}

func (s *Store) ensureRoot() error {
	if s.root == "" {
		return fmt.Errorf("job registry root dir is empty")
	}
	return os.MkdirAll(s.root, 0o755)
}

func validJobID(jobID string) (string, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", fmt.Errorf("job_id is required")
	}
	// Execution engine ids are hex; anything path-like would escape the root.
	if strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return "", fmt.Errorf("job_id %q is not a valid id", jobID)
	}
	return jobID, nil
}

// Write stores record, replacing any previous record of the same job.
func (s *Store) Write(record *Record) error {
	if record == nil {
		return fmt.Errorf("job record is nil")
	}
	jobID, err := validJobID(record.JobID)
	if err != nil {
		return err
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	jobDir := s.JobDir(jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(jobDir, "job.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp job file: %w", err)
	}

	if err := os.Rename(tmpName, s.JobPath(jobID)); err != nil {
		return fmt.Errorf("rename job file: %w", err)
	}
	return nil
}

// Get loads the record of jobID. Unknown ids return ErrNotRecorded.
func (s *Store) Get(jobID string) (*Record, error) {
	jobID, err := validJobID(jobID)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.JobPath(jobID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotRecorded, jobID)
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("job.json is empty")
	}

	var record Record
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse job.json: %w", err)
	}
	return &record, nil
}

// UpdateStatus records the last status seen for a recorded job.
func (s *Store) UpdateStatus(jobID, status string, at time.Time) error {
	record, err := s.Get(jobID)
	if err != nil {
		return err
	}
	at = at.UTC()
	record.Status = status
	record.CheckedAt = &at
	return s.Write(record)
}

// List returns every readable record, newest submission first. A missing
// root is an empty registry.
func (s *Store) List() ([]Record, error) {
	if s.root == "" {
		return nil, fmt.Errorf("job registry root dir is empty")
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("read jobs root: %w", err)
	}

	out := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out, nil
}
