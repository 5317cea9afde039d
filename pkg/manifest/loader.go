package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrFileNotFound is returned by Load when the request file does not exist.
var ErrFileNotFound = errors.New("job request file not found")

// Load reads and validates a job request from path.
//
// The format follows the extension: .yaml/.yml for YAML, .json for JSON.
// Unrecognized extensions try YAML first, then JSON.
func Load(path string) (*JobRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading job request: %s", path)
		}
		return nil, fmt.Errorf("failed to read job request file: %w", err)
	}

	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a job request from raw bytes.
//
// path is used for error messages and format detection only. The raw data is
// validated against the schema before it is decoded into JobRequest, so
// unknown fields are reported instead of ignored.
func LoadFromBytes(data []byte, path string) (*JobRequest, error) {
	if len(data) == 0 {
		return nil, errors.New("job request file is empty")
	}

	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	// Decode from the normalized JSON so YAML and JSON inputs produce
	// identical values (e.g. float64 numbers inside params).
	var req JobRequest
	if err := json.Unmarshal(jsonData, &req); err != nil {
		return nil, fmt.Errorf("invalid job request: %w", err)
	}
	req.ApplyDefaults()
	return &req, nil
}

// LoadFromReader reads and validates a job request from r.
func LoadFromReader(r io.Reader, path string) (*JobRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read job request: %w", err)
	}
	return LoadFromBytes(data, path)
}

// toJSON normalizes input to JSON for schema validation.
func toJSON(data []byte, path string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in job request: %w", err)
		}
		return data, nil

	case ".yaml", ".yml":
		return yamlToJSON(data)

	default:
		// YAML is a superset of JSON.
		jsonData, err := yamlToJSON(data)
		if err == nil {
			return jsonData, nil
		}
		var raw any
		if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil {
			return data, nil
		}
		return nil, fmt.Errorf("failed to parse job request (tried YAML and JSON): %w", err)
	}
}

// yamlToJSON converts YAML data to JSON.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in job request: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert job request to JSON: %w", err)
	}

	return jsonData, nil
}
