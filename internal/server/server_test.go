package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/kbagent/internal/errors"
	"github.com/3leaps/kbagent/internal/server/handlers"
	"github.com/3leaps/kbagent/internal/testutil/kbasefake"
	"github.com/3leaps/kbagent/pkg/auth"
	"github.com/3leaps/kbagent/pkg/execengine"
	"github.com/3leaps/kbagent/pkg/platform"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorResponse {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/version", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", decodeEnvelope(t, rec).Error.Code)
}

func TestServer_Port(t *testing.T) {
	for _, port := range []int{8080, 9000, 0} {
		assert.Equal(t, port, New("127.0.0.1", port).Port())
	}
}

func TestServer_RoutesRegistered(t *testing.T) {
	handlers.InitHealthManager("test")

	srv := New("127.0.0.1", 0, WithVersion(handlers.VersionInfo{Version: "1.2.3", Commit: "abc"}))

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup", "/version"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestServer_Version(t *testing.T) {
	srv := New("127.0.0.1", 0, WithVersion(handlers.VersionInfo{Version: "1.2.3", Commit: "abc", BuildDate: "2026-01-01"}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info handlers.VersionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc", info.Commit)
	assert.NotEmpty(t, info.GoVersion)
}

func TestServer_V1RequiresAPI(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func newAPIServer(t *testing.T) (*Server, *kbasefake.Server) {
	t.Helper()
	fake := kbasefake.New(t)
	fake.AddUser("good-token", "someuser", "Some User")

	authClient, err := auth.New(fake.Settings(), auth.Options{})
	require.NoError(t, err)

	api := &handlers.API{
		Auth: authClient,
		Jobs: func(token string) (handlers.JobChecker, error) {
			return execengine.New(fake.Settings(), platform.ClientOptions{Token: token})
		},
	}
	return New("127.0.0.1", 0, WithAPI(api)), fake
}

func TestServer_GetJob(t *testing.T) {
	srv, fake := newAPIServer(t)
	fake.Handle("execution_engine2.check_job", func(_ []json.RawMessage) (any, error) {
		return map[string]any{"job_id": "job-1", "status": "running", "user": "someuser"}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	req.Header.Set("Authorization", "good-token")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got execengine.Record
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, "running", got.Status)

	calls := fake.Calls("execution_engine2.check_job")
	require.Len(t, calls, 1)
	assert.Equal(t, "good-token", calls[0].Auth)
}

func TestServer_ValidateCredentials(t *testing.T) {
	srv, _ := newAPIServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/credentials/validate", strings.NewReader(`{"token":"bad-token"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got handlers.ValidateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.False(t, got.OK)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "token", got.Results[0].Name)
}

func TestServer_PanicRecovered(t *testing.T) {
	srv := New("127.0.0.1", 0, WithAPI(&handlers.API{
		Jobs: func(string) (handlers.JobChecker, error) { panic("factory exploded") },
	}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeEnvelope(t, rec).Error.Code)
}

func TestServer_StartShutdown(t *testing.T) {
	handlers.InitHealthManager("test")
	srv := New("127.0.0.1", 0)

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	require.Eventually(t, func() bool {
		return srv.Addr() != "127.0.0.1:0"
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/health/live")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-done)
}
