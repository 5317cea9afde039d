package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validRequestYAML returns a minimal valid request in YAML format.
func validRequestYAML() string {
	return `version: "1.0"
method: echo_test.echo
params:
  - message: hello
`
}

// validRequestJSON returns a minimal valid request in JSON format.
func validRequestJSON() string {
	return `{
  "version": "1.0",
  "method": "echo_test.echo",
  "params": [{"message": "hello"}]
}`
}

// fullRequestYAML returns a request with every optional field.
func fullRequestYAML() string {
	return `$schema: https://schemas.3leaps.dev/kbagent/v1.0.0/job-request.schema.json
version: "1.0"
method: kb_uploadmethods.import_fastq
app_id: kb_uploadmethods/import_fastq_sra_as_reads_from_staging
service_ver: beta
wsid: 42
parent_job_id: 5d64935ab215ad4128de94d6
params:
  - fastq_fwd_staging_file_name: reads.fq
    sequencing_tech: Illumina
  - 3
source_ws_objects:
  - 42/7/1
  - myws/reads
meta:
  cell_id: abc-123
job_requirements:
  request_cpus: 4
`
}

func TestLoadFromBytes(t *testing.T) {
	t.Run("YAML by extension", func(t *testing.T) {
		r, err := LoadFromBytes([]byte(validRequestYAML()), "req.yaml")
		require.NoError(t, err)
		assert.Equal(t, "echo_test.echo", r.Method)
		assert.Equal(t, []any{map[string]any{"message": "hello"}}, r.Params)
	})

	t.Run("JSON by extension", func(t *testing.T) {
		r, err := LoadFromBytes([]byte(validRequestJSON()), "req.json")
		require.NoError(t, err)
		assert.Equal(t, "echo_test.echo", r.Method)
	})

	t.Run("auto-detect", func(t *testing.T) {
		fromYAML, err := LoadFromBytes([]byte(validRequestYAML()), "")
		require.NoError(t, err)
		fromJSON, err := LoadFromBytes([]byte(validRequestJSON()), "req.txt")
		require.NoError(t, err)
		assert.Equal(t, fromJSON, fromYAML)
	})

	t.Run("full request", func(t *testing.T) {
		r, err := LoadFromBytes([]byte(fullRequestYAML()), "full.yml")
		require.NoError(t, err)
		assert.Equal(t, "kb_uploadmethods/import_fastq_sra_as_reads_from_staging", r.AppID)
		assert.Equal(t, "beta", r.ServiceVer)
		assert.Equal(t, int64(42), r.WsID)
		assert.Equal(t, "5d64935ab215ad4128de94d6", r.ParentJobID)
		assert.Equal(t, []string{"42/7/1", "myws/reads"}, r.SourceWsObjects)
		assert.Equal(t, map[string]any{"cell_id": "abc-123"}, r.Meta)
		assert.Equal(t, map[string]any{"request_cpus": float64(4)}, r.JobRequirements)
		require.Len(t, r.Params, 2)
		assert.Equal(t, float64(3), r.Params[1])
	})

	t.Run("empty", func(t *testing.T) {
		_, err := LoadFromBytes(nil, "req.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("malformed JSON", func(t *testing.T) {
		_, err := LoadFromBytes([]byte(`{"version":`), "req.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid JSON")
	})
}

func TestLoadFromBytes_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing method", `version: "1.0"`},
		{"missing version", `method: echo_test.echo`},
		{"wrong version", "version: \"2.0\"\nmethod: echo_test.echo"},
		{"unqualified method", "version: \"1.0\"\nmethod: echo"},
		{"unknown field", "version: \"1.0\"\nmethod: echo_test.echo\nretries: 3"},
		{"params not a list", "version: \"1.0\"\nmethod: echo_test.echo\nparams: {a: 1}"},
		{"bad object ref", "version: \"1.0\"\nmethod: echo_test.echo\nsource_ws_objects: [\"a/b/c/d\"]"},
		{"non-positive wsid", "version: \"1.0\"\nmethod: echo_test.echo\nwsid: 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.body), "req.yaml")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidationFailed), "got %v", err)
		})
	}
}

func TestLoad_FileErrors(t *testing.T) {
	t.Run("file not found", func(t *testing.T) {
		_, err := Load("/nonexistent/path/request.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
		assert.ErrorIs(t, err, ErrFileNotFound)
	})

	t.Run("permission denied", func(t *testing.T) {
		if os.Getuid() == 0 {
			t.Skip("skipping permission test when running as root")
		}

		path := filepath.Join(t.TempDir(), "noperm.yaml")
		require.NoError(t, os.WriteFile(path, []byte(validRequestYAML()), 0o000))
		t.Cleanup(func() {
			_ = os.Chmod(path, 0o644)
		})

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "permission")
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "request.yaml")
		require.NoError(t, os.WriteFile(path, []byte(validRequestYAML()), 0o644))

		r, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "echo_test.echo", r.Method)
	})
}

func TestLoadFromReader(t *testing.T) {
	r, err := LoadFromReader(strings.NewReader(validRequestJSON()), "-")
	require.NoError(t, err)
	assert.Equal(t, "echo_test/echo", r.AppID)
}

func TestApplyDefaults(t *testing.T) {
	t.Run("derives app id and empty params", func(t *testing.T) {
		r := &JobRequest{Version: Version, Method: "echo_test.echo"}
		r.ApplyDefaults()
		assert.Equal(t, "echo_test/echo", r.AppID)
		assert.NotNil(t, r.Params)
		assert.Empty(t, r.Params)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		r := &JobRequest{Version: Version, Method: "echo_test.echo", AppID: "custom/app", Params: []any{1}}
		r.ApplyDefaults()
		assert.Equal(t, "custom/app", r.AppID)
		assert.Equal(t, []any{1}, r.Params)
	})
}

func TestRunJobParams(t *testing.T) {
	r, err := LoadFromBytes([]byte(fullRequestYAML()), "full.yaml")
	require.NoError(t, err)

	p := r.RunJobParams(0)
	assert.Equal(t, "kb_uploadmethods.import_fastq", p.Method)
	assert.Equal(t, int64(42), p.WsID)
	assert.Equal(t, r.SourceWsObjects, p.SourceWsObjects)
	assert.Equal(t, r.JobRequirements, p.JobRequirements)

	assert.Equal(t, int64(99), r.RunJobParams(99).WsID)
}

func TestValidationErrors(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		errs := ValidationErrors{{Field: "method", Message: "required"}}
		assert.Equal(t, "job request: method: required", errs.Error())
	})

	t.Run("multiple", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "method", Message: "required"},
			{Field: "wsid", Message: "must be >= 1"},
		}
		msg := errs.Error()
		assert.Contains(t, msg, "2 problems")
		assert.Contains(t, msg, "  - wsid: must be >= 1")
		assert.Equal(t, []string{"method", "wsid"}, errs.Fields())
	})

	t.Run("unwrap", func(t *testing.T) {
		assert.True(t, errors.Is(ValidationErrors{}, ErrValidationFailed))
	})
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, "params[0].message: invalid", ValidationError{Field: "params[0].message", Message: "invalid"}.Error())
	assert.Equal(t, "something wrong", ValidationError{Message: "something wrong"}.Error())
}

func TestFieldName(t *testing.T) {
	tests := []struct {
		pointer string
		want    string
	}{
		{"", ""},
		{"/", ""},
		{"/method", "method"},
		{"/source_ws_objects/1", "source_ws_objects[1]"},
		{"/params/0/message", "params[0].message"},
		{"/meta/a~1b", "meta.a/b"},
		{"#/wsid", "wsid"},
	}
	for _, tt := range tests {
		t.Run(tt.pointer, func(t *testing.T) {
			assert.Equal(t, tt.want, fieldName(tt.pointer))
		})
	}
}

func TestValidate_CrossFieldRules(t *testing.T) {
	t.Run("app module must match method module", func(t *testing.T) {
		err := Validate(&JobRequest{Version: Version, Method: "echo_test.echo", AppID: "other/echo"})
		var errs ValidationErrors
		require.ErrorAs(t, err, &errs)
		assert.Equal(t, []string{"app_id"}, errs.Fields())
	})

	t.Run("app id needs a slash", func(t *testing.T) {
		err := Validate(&JobRequest{Version: Version, Method: "echo_test.echo", AppID: "echo_test"})
		assert.ErrorIs(t, err, ErrValidationFailed)
	})

	t.Run("duplicate source objects", func(t *testing.T) {
		err := Validate(&JobRequest{
			Version:         Version,
			Method:          "echo_test.echo",
			SourceWsObjects: []string{"1/2/3", "4/5", "1/2/3"},
		})
		var errs ValidationErrors
		require.ErrorAs(t, err, &errs)
		require.Len(t, errs, 1)
		assert.Equal(t, "source_ws_objects[2]", errs[0].Field)
		assert.Contains(t, errs[0].Message, "source_ws_objects[0]")
	})

	t.Run("schema and rule problems are sorted together", func(t *testing.T) {
		err := Validate(&JobRequest{Version: "0.9", Method: "echo_test.echo", AppID: "x/echo"})
		var errs ValidationErrors
		require.ErrorAs(t, err, &errs)
		fields := errs.Fields()
		assert.Contains(t, fields, "app_id")
		assert.Contains(t, fields, "version")
		assert.IsNonDecreasing(t, fields)
	})

	t.Run("nil request", func(t *testing.T) {
		assert.ErrorIs(t, Validate(nil), ErrValidationFailed)
	})
}

func TestLoadFromBytes_ReportsFieldNames(t *testing.T) {
	_, err := LoadFromBytes([]byte("version: \"1.0\"\nmethod: echo_test.echo\nsource_ws_objects: [\"1/2\", \"a/b/c/d\"]"), "req.yaml")
	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.Contains(t, errs.Fields(), "source_ws_objects[1]")
}

func TestValidate_EmbeddedSchema(t *testing.T) {
	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() {
		_ = os.Chdir(originalDir)
	})

	ok := &JobRequest{Version: Version, Method: "echo_test.echo"}
	assert.NoError(t, Validate(ok), "validation should work from any directory using embedded schema")

	bad := &JobRequest{Version: "0.9", Method: "echo_test.echo"}
	err = Validate(bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))
}
