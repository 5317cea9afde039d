package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/kbagent/internal/config"
	"github.com/3leaps/kbagent/internal/testutil/kbasefake"
	"github.com/3leaps/kbagent/pkg/output"
	"github.com/3leaps/kbagent/pkg/service"
)

// resetFlags restores every flag of the command tree to its default so
// consecutive executions of rootCmd do not leak state.
func resetFlags(t *testing.T) {
	t.Helper()
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		c.Flags().VisitAll(reset)
		c.PersistentFlags().VisitAll(reset)
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
	appConfig = nil
	config.Reset()
}

// isolateEnv points config discovery at an empty directory and clears the
// variables the loader reads.
func isolateEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, config.EnvPrefix) {
			t.Setenv(name, "")
		}
	}
	for _, name := range []string{"KB_AUTH_TOKEN", "OPENAI_API_KEY", "CBORG_API_KEY"} {
		t.Setenv(name, "")
	}
}

// newPlatform starts a fake platform and points the loader at it.
func newPlatform(t *testing.T) *kbasefake.Server {
	t.Helper()
	isolateEnv(t)
	fake := kbasefake.New(t)
	t.Setenv("KBAGENT_ENDPOINT", fake.URL)
	t.Setenv("KBAGENT_OPENAI_ENDPOINT", fake.OpenAIURL())
	t.Setenv("KBAGENT_CBORG_ENDPOINT", fake.CBORGURL())
	t.Setenv("KBAGENT_LOG_LEVEL", "error")
	return fake
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(t)
	t.Cleanup(func() { resetFlags(t) })

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func decodeRecords(t *testing.T, out string) []output.Record {
	t.Helper()
	var records []output.Record
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec output.Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		records = append(records, rec)
	}
	require.NoError(t, sc.Err())
	return records
}

func recordData(t *testing.T, rec output.Record) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Data, &m))
	return m
}

func TestWhoami(t *testing.T) {
	fake := newPlatform(t)
	fake.AddUser("good-token", "someuser", "Some User")

	out, err := runCommand(t, "whoami", "--token", "good-token")
	require.NoError(t, err)

	records := decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, output.TypeUser, records[0].Type)
	assert.NotEmpty(t, records[0].RequestID)
	data := recordData(t, records[0])
	assert.Equal(t, "someuser", data["user_name"])
	assert.Equal(t, "Some User", data["display_name"])
}

func TestWhoami_Errors(t *testing.T) {
	newPlatform(t)

	_, err := runCommand(t, "whoami")
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), exitCode(err))

	_, err = runCommand(t, "whoami", "--token", "bad-token")
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), exitCode(err))
}

func TestWhoami_TokenFromAliasEnv(t *testing.T) {
	fake := newPlatform(t)
	fake.AddUser("alias-token", "aliasuser", "")
	t.Setenv("KB_AUTH_TOKEN", "alias-token")

	out, err := runCommand(t, "whoami")
	require.NoError(t, err)
	records := decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, "aliasuser", recordData(t, records[0])["user_name"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantOK  bool
		results int
	}{
		{name: "token and openai key", args: []string{"--token", "good-token", "--api-key", "sk-good"}, wantOK: true, results: 2},
		{name: "token only", args: []string{"--token", "good-token", "--no-key"}, wantOK: true, results: 1},
		{name: "cborg key only", args: []string{"--provider", "cborg", "--api-key", "cb-good"}, wantOK: true, results: 1},
		{name: "bad key", args: []string{"--token", "good-token", "--api-key", "sk-bad"}, wantOK: false, results: 2},
		{name: "bad token and key", args: []string{"--token", "nope", "--api-key", "sk-bad"}, wantOK: false, results: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newPlatform(t)
			fake.AddUser("good-token", "someuser", "")
			fake.AddAPIKey("openai", "sk-good")
			fake.AddAPIKey("cborg", "cb-good")

			out, err := runCommand(t, append([]string{"validate"}, tt.args...)...)
			if tt.wantOK {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, int(foundry.ExitInvalidArgument), exitCode(err))
			}

			records := decodeRecords(t, out)
			require.Len(t, records, 1)
			assert.Equal(t, output.TypeCredentials, records[0].Type)
			data := recordData(t, records[0])
			assert.Equal(t, tt.wantOK, data["ok"])
			assert.Len(t, data["results"], tt.results)
		})
	}
}

func TestValidate_KeyFromConfig(t *testing.T) {
	fake := newPlatform(t)
	fake.AddAPIKey("cborg", "cb-env")
	t.Setenv("KBAGENT_LLM_PROVIDER", "cborg")
	t.Setenv("CBORG_API_KEY", "cb-env")

	out, err := runCommand(t, "validate")
	require.NoError(t, err)
	records := decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, 1, fake.RESTHits("cborg"))
	assert.Equal(t, 0, fake.RESTHits("token"))
}

func TestValidate_NothingToValidate(t *testing.T) {
	newPlatform(t)

	out, err := runCommand(t, "validate", "--no-key")
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), exitCode(err))
	assert.Empty(t, out)

	_, err = runCommand(t, "validate", "--provider", "anthropic", "--api-key", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid --provider value")
}

func TestJobCheck(t *testing.T) {
	fake := newPlatform(t)
	fake.Handle("execution_engine2.check_job", func(params []json.RawMessage) (any, error) {
		var p map[string]any
		if err := json.Unmarshal(params[0], &p); err != nil {
			return nil, err
		}
		return map[string]any{"job_id": p["job_id"], "status": "completed", "user": "someuser", "wsid": 42}, nil
	})

	out, err := runCommand(t, "job", "check", "job-1", "--token", "tok")
	require.NoError(t, err)

	records := decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, output.TypeJobState, records[0].Type)
	data := recordData(t, records[0])
	assert.Equal(t, "job-1", data["job_id"])
	assert.Equal(t, "completed", data["status"])

	calls := fake.Calls("execution_engine2.check_job")
	require.Len(t, calls, 1)
	assert.Equal(t, "tok", calls[0].Auth)
}

func TestJobCheck_ServerError(t *testing.T) {
	fake := newPlatform(t)
	fake.Handle("execution_engine2.check_job", func(params []json.RawMessage) (any, error) {
		return nil, &service.ServerError{Name: "JSONRPCError", Code: -32000, Message: "Job not found"}
	})

	out, err := runCommand(t, "job", "check", "nope", "--token", "tok")
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitExternalServiceUnavailable), exitCode(err))

	records := decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, output.TypeError, records[0].Type)
	data := recordData(t, records[0])
	assert.Equal(t, output.ErrCodeServer, data["code"])
	assert.Equal(t, "Job not found", data["message"])
	assert.Equal(t, "nope", data["item"])
}

func TestJobCheck_Many(t *testing.T) {
	fake := newPlatform(t)
	fake.Handle("execution_engine2.check_jobs", func(params []json.RawMessage) (any, error) {
		return map[string]any{"job_states": []any{
			map[string]any{"job_id": "a", "status": "queued"},
			map[string]any{"job_id": "b", "status": "running"},
		}}, nil
	})

	out, err := runCommand(t, "job", "check", "a", "b", "c", "--token", "tok")
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitExternalServiceUnavailable), exitCode(err))

	records := decodeRecords(t, out)
	require.Len(t, records, 4)
	assert.Equal(t, output.TypeJobState, records[0].Type)
	assert.Equal(t, output.TypeJobState, records[1].Type)
	assert.Equal(t, output.TypeError, records[2].Type)
	assert.Equal(t, "c", recordData(t, records[2])["item"])
	assert.Equal(t, output.TypeSummary, records[3].Type)
	summary := recordData(t, records[3])
	assert.EqualValues(t, 2, summary["count"])
	assert.EqualValues(t, 3, summary["total"])
}

func TestJobRun(t *testing.T) {
	fake := newPlatform(t)
	fake.Handle("execution_engine2.run_job", func(params []json.RawMessage) (any, error) {
		return "new-job-id", nil
	})

	out, err := runCommand(t, "job", "run", "--token", "tok",
		"--method", "MyModule.my_method", "--params", `[{"x": 1}]`, "--wsid", "42")
	require.NoError(t, err)

	records := decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, output.TypeJobSubmitted, records[0].Type)
	data := recordData(t, records[0])
	assert.Equal(t, "new-job-id", data["job_id"])
	assert.Equal(t, "MyModule.my_method", data["method"])
	assert.EqualValues(t, 42, data["wsid"])

	calls := fake.Calls("execution_engine2.run_job")
	require.Len(t, calls, 1)
	var sent map[string]any
	require.NoError(t, json.Unmarshal(calls[0].Params[0], &sent))
	assert.Equal(t, "MyModule.my_method", sent["method"])
	assert.Equal(t, []any{map[string]any{"x": float64(1)}}, sent["params"])
}

func TestJobRun_DryRunFromFile(t *testing.T) {
	fake := newPlatform(t)
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`version: "1.0"
method: kb_uploadmethods.import_fastq
wsid: 7
params:
  - name: reads.fq
`), 0o600))

	out, err := runCommand(t, "job", "run", "--file", path, "--wsid", "9", "--dry-run")
	require.NoError(t, err)

	records := decodeRecords(t, out)
	require.Len(t, records, 1)
	data := recordData(t, records[0])
	assert.Equal(t, "kb_uploadmethods.import_fastq", data["method"])
	assert.EqualValues(t, 9, data["wsid"])
	assert.Empty(t, fake.Calls("execution_engine2.run_job"))
}

func TestJobRun_Errors(t *testing.T) {
	newPlatform(t)

	_, err := runCommand(t, "job", "run")
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), exitCode(err))

	_, err = runCommand(t, "job", "run", "--file", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitFileNotFound), exitCode(err))

	_, err = runCommand(t, "job", "run", "--method", "Mod.m", "--params", `{"not":"array"}`, "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid --params value")

	_, err = runCommand(t, "job", "run", "--method", "Mod.m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Auth token is required")
}

func TestJobCancel(t *testing.T) {
	fake := newPlatform(t)
	fake.Handle("execution_engine2.cancel_job", func(params []json.RawMessage) (any, error) {
		return nil, nil
	})

	_, err := runCommand(t, "job", "cancel", "job-1", "--token", "tok", "--code", "2")
	require.NoError(t, err)
	calls := fake.Calls("execution_engine2.cancel_job")
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"job_id":"job-1","terminated_code":2}`, string(calls[0].Params[0]))

	_, err = runCommand(t, "job", "cancel", "job-1", "--token", "tok", "--code", "5")
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), exitCode(err))
}

func TestSearchNarratives(t *testing.T) {
	fake := newPlatform(t)
	fake.AddUser("tok", "someuser", "")
	fake.Handle("search_workspace", func(params []json.RawMessage) (any, error) {
		return map[string]any{
			"count": 1,
			"hits": []any{
				map[string]any{"id": "WS::1:1", "index": "narrative_2", "doc": map[string]any{
					"access_group": 1, "obj_id": 1, "version": 3, "narrative_title": "First",
					"owner": "someuser", "timestamp": 200, "total_cells": 4,
				}},
			},
		}, nil
	})

	out, err := runCommand(t, "search", "narratives", "--token", "tok")
	require.NoError(t, err)

	records := decodeRecords(t, out)
	require.Len(t, records, 2)
	assert.Equal(t, output.TypeNarrative, records[0].Type)
	hit := recordData(t, records[0])
	assert.Equal(t, "1/1/3", hit["ref"])
	assert.Equal(t, "First", hit["title"])
	assert.EqualValues(t, 4, hit["total_cells"])
	assert.Equal(t, output.TypeSummary, records[1].Type)

	assert.Equal(t, 1, fake.RESTHits("token"))
	assert.Len(t, fake.Calls("search_workspace"), 1)
}

func TestSearchNarratives_ExplicitOwner(t *testing.T) {
	fake := newPlatform(t)
	fake.Handle("search_workspace", func(params []json.RawMessage) (any, error) {
		return map[string]any{"count": 0}, nil
	})

	out, err := runCommand(t, "search", "narratives", "--owner", "other")
	require.NoError(t, err)
	records := decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, output.TypeSummary, records[0].Type)
	assert.Equal(t, 0, fake.RESTHits("token"))
}

func TestMethodsList(t *testing.T) {
	fake := newPlatform(t)
	fake.Handle("NarrativeMethodStore.list_methods", func(params []json.RawMessage) (any, error) {
		return []any{
			map[string]any{"id": "kb_uploadmethods/import_fasta", "module_name": "kb_uploadmethods", "name": "Import FASTA"},
			map[string]any{"id": "kb_SPAdes/run_SPAdes", "module_name": "kb_SPAdes", "name": "Assemble with SPAdes"},
		}, nil
	})

	out, err := runCommand(t, "methods", "list", "--pattern", "kb_uploadmethods/*")
	require.NoError(t, err)

	records := decodeRecords(t, out)
	require.Len(t, records, 2)
	assert.Equal(t, output.TypeMethod, records[0].Type)
	assert.Equal(t, "kb_uploadmethods/import_fasta", recordData(t, records[0])["id"])
	assert.EqualValues(t, 1, recordData(t, records[1])["count"])
}

func TestMethodsList_InvalidFlags(t *testing.T) {
	newPlatform(t)

	_, err := runCommand(t, "methods", "list", "--tag", "nightly")
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), exitCode(err))

	_, err = runCommand(t, "methods", "list", "--pattern", "kb_[")
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), exitCode(err))
}

func TestWorkspaceInfo(t *testing.T) {
	fake := newPlatform(t)
	fake.Handle("Workspace.get_workspace_info", func(params []json.RawMessage) (any, error) {
		return []any{1001, "someuser:narrative_1", "someuser", "2025-01-02T03:04:05+0000", 12, "a", "n", "unlocked",
			map[string]string{"narrative_nice_name": "My Narrative"}}, nil
	})

	out, err := runCommand(t, "ws", "info", "1001")
	require.NoError(t, err)

	records := decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, output.TypeWorkspace, records[0].Type)

	calls := fake.Calls("Workspace.get_workspace_info")
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"id":1001}`, string(calls[0].Params[0]))
}

func TestWorkspaceObjects_Missing(t *testing.T) {
	fake := newPlatform(t)
	fake.Handle("Workspace.get_object_info3", func(params []json.RawMessage) (any, error) {
		return map[string]any{
			"infos": []any{
				[]any{3, "my_genome", "KBaseGenomes.Genome-17.0", "2025-01-02T03:04:05+0000", 2, "someuser", 1001, "ws_name", "abc123", 4096, nil},
				nil,
			},
			"paths": []any{[]any{"1001/3/2"}, nil},
		}, nil
	})

	out, err := runCommand(t, "workspace", "objects", "1001/3", "1001/99")
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), exitCode(err))

	records := decodeRecords(t, out)
	require.Len(t, records, 2)
	assert.Equal(t, output.TypeObject, records[0].Type)
	assert.Equal(t, "my_genome", recordData(t, records[0])["name"])
	assert.Equal(t, output.TypeError, records[1].Type)
	assert.Equal(t, "1001/99", recordData(t, records[1])["item"])
}

func TestVersionCommand(t *testing.T) {
	isolateEnv(t)
	// An unreadable config must not matter to version.
	t.Setenv(config.ConfigFileEnv, filepath.Join(t.TempDir(), "nope.yaml"))

	out, err := runCommand(t, "version")
	require.NoError(t, err)

	records := decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, output.TypeVersion, records[0].Type)
	data := recordData(t, records[0])
	assert.Equal(t, versionInfo.Version, data["version"])
	assert.NotEmpty(t, data["go_version"])
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	newPlatform(t)
	t.Setenv("KBAGENT_TOKEN", "secret-token-1234")

	out, err := runCommand(t, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "secret-token-1234")

	records := decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.Equal(t, output.TypeConfig, records[0].Type)
	data := recordData(t, records[0])
	kbase, ok := data["kbase"].(map[string]any)
	require.True(t, ok, "kbase section: %v", data)
	assert.Equal(t, "****1234", kbase["token"])
	server, ok := data["server"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "30s", server["read_timeout"])
}

func TestConfigShow_YAML(t *testing.T) {
	newPlatform(t)

	out, err := runCommand(t, "config", "show", "--defaults", "--output", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "type: "+output.TypeConfig)
	assert.Contains(t, out, "endpoint: https://kbase.us/services")
}

func TestInvalidOutputFormat(t *testing.T) {
	newPlatform(t)

	_, err := runCommand(t, "config", "show", "--output", "xml")
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), exitCode(err))
}

func TestInvalidConfigFile(t *testing.T) {
	newPlatform(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeouts:\n  rpc: -5s\n"), 0o600))

	_, err := runCommand(t, "--config", path, "config", "show")
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), exitCode(err))
	assert.Contains(t, err.Error(), "timeouts.rpc")
}

func TestJobList_History(t *testing.T) {
	fake := newPlatform(t)
	t.Setenv("KBAGENT_JOBS_DIR", filepath.Join(t.TempDir(), "jobs"))
	fake.Handle("execution_engine2.run_job", func(params []json.RawMessage) (any, error) {
		return "job-77", nil
	})
	fake.Handle("execution_engine2.check_job", func(params []json.RawMessage) (any, error) {
		return map[string]any{"job_id": "job-77", "status": "running"}, nil
	})
	fake.Handle("execution_engine2.check_jobs", func(params []json.RawMessage) (any, error) {
		return map[string]any{"job_states": []any{map[string]any{"job_id": "job-77", "status": "completed"}}}, nil
	})

	out, err := runCommand(t, "job", "list")
	require.NoError(t, err)
	records := decodeRecords(t, out)
	require.Len(t, records, 1)
	assert.EqualValues(t, 0, recordData(t, records[0])["count"])

	_, err = runCommand(t, "job", "run", "--token", "tok", "--method", "Mod.run_it", "--wsid", "3")
	require.NoError(t, err)
	_, err = runCommand(t, "job", "check", "job-77", "--token", "tok")
	require.NoError(t, err)

	out, err = runCommand(t, "job", "list")
	require.NoError(t, err)
	records = decodeRecords(t, out)
	require.Len(t, records, 2)
	assert.Equal(t, output.TypeJobRecord, records[0].Type)
	rec := recordData(t, records[0])
	assert.Equal(t, "job-77", rec["job_id"])
	assert.Equal(t, "Mod.run_it", rec["method"])
	assert.Equal(t, "Mod/run_it", rec["app_id"])
	assert.Equal(t, "running", rec["status"])
	assert.Equal(t, fake.URL, rec["endpoint"])

	out, err = runCommand(t, "job", "list", "--refresh", "--token", "tok")
	require.NoError(t, err)
	records = decodeRecords(t, out)
	require.Len(t, records, 2)
	assert.Equal(t, "completed", recordData(t, records[0])["status"])

	_, err = runCommand(t, "job", "list", "--limit", "-1")
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), exitCode(err))
}
