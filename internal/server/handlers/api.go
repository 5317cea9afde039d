package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/kbagent/internal/errors"
	"github.com/3leaps/kbagent/pkg/credentials"
	"github.com/3leaps/kbagent/pkg/execengine"
	"github.com/3leaps/kbagent/pkg/llm"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ValidatorFactory builds a key validator for a provider.
type ValidatorFactory func(kind llm.Kind) (llm.Validator, error)

// JobChecker fetches job state on behalf of a token.
type JobChecker interface {
	CheckJob(ctx context.Context, jobID string) (*execengine.JobState, error)
}

// JobCheckerFactory builds a JobChecker authenticated with token.
type JobCheckerFactory func(token string) (JobChecker, error)

// API serves the kbagent endpoints.
type API struct {
	Auth         credentials.TokenResolver
	Validators   ValidatorFactory
	Jobs         JobCheckerFactory
	DefaultToken string
	Logger       *zap.Logger
}

func (a *API) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// token prefers the Authorization header and falls back to the configured
// token. A "Bearer " prefix is accepted and stripped.
func (a *API) token(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return a.DefaultToken
	}
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}

// ValidateRequest is the body of POST /v1/credentials/validate.
type ValidateRequest struct {
	Token    string `json:"token,omitempty"`
	Provider string `json:"provider,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// ValidateResponse reports every check.
type ValidateResponse struct {
	OK      bool                 `json:"ok"`
	User    string               `json:"user,omitempty"`
	Results []credentials.Result `json:"results"`
}

// ValidateCredentials checks a token and an optional provider key. The token
// falls back to the Authorization header, then the configured token. Failed
// checks are reported in the body with status 200; only malformed requests
// are errors.
func (a *API) ValidateCredentials(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			respondWithError(w, r, apperrors.NewBadRequest("invalid request body: "+err.Error()))
			return
		}
	}
	if req.Token == "" {
		req.Token = a.token(r)
	}

	checks := credentials.Checks{Token: req.Token, APIKey: req.APIKey}
	if req.Token != "" {
		checks.Auth = a.Auth
	}
	if req.Provider != "" || req.APIKey != "" {
		if a.Validators == nil {
			respondWithError(w, r, apperrors.NewBadRequest("provider key validation is not configured"))
			return
		}
		kind, err := llm.ParseKind(req.Provider)
		if req.Provider == "" {
			kind, err = llm.KindOpenAI, nil
		}
		if err != nil {
			respondWithError(w, r, apperrors.NewBadRequest(err.Error()))
			return
		}
		v, err := a.Validators(kind)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		checks.Validator = v
	}

	if checks.Auth == nil && checks.Validator == nil {
		respondWithError(w, r, apperrors.NewBadRequest("nothing to validate: supply a token or an api_key"))
		return
	}

	report := credentials.Validate(r.Context(), checks)
	if !report.OK() {
		a.logger().Info("Credential validation failed", zap.Error(report.Err()))
	}
	apperrors.WriteJSON(w, http.StatusOK, ValidateResponse{
		OK:      report.OK(),
		User:    report.User(),
		Results: report.Results,
	})
}

// GetJob returns the state of the job named by the {id} route parameter.
func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondWithError(w, r, apperrors.NewBadRequest("job id is required"))
		return
	}
	if a.Jobs == nil {
		respondWithError(w, r, apperrors.NewExternalServiceError("execution engine is not configured"))
		return
	}

	checker, err := a.Jobs(a.token(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	state, err := checker.CheckJob(r.Context(), id)
	if err != nil {
		a.logger().Warn("Job lookup failed", zap.String("job_id", id), zap.Error(err))
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, state)
}
