package cmd

import (
	"errors"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/3leaps/kbagent/internal/config"
	apperrors "github.com/3leaps/kbagent/internal/errors"
	"github.com/3leaps/kbagent/internal/observability"
	"github.com/3leaps/kbagent/pkg/auth"
	"github.com/3leaps/kbagent/pkg/execengine"
	"github.com/3leaps/kbagent/pkg/jobregistry"
	"github.com/3leaps/kbagent/pkg/llm"
	"github.com/3leaps/kbagent/pkg/narrative"
	"github.com/3leaps/kbagent/pkg/nms"
	"github.com/3leaps/kbagent/pkg/output"
	"github.com/3leaps/kbagent/pkg/platform"
	"github.com/3leaps/kbagent/pkg/search"
	"github.com/3leaps/kbagent/pkg/service"
	"github.com/3leaps/kbagent/pkg/workspace"
)

// newRecordWriter returns the writer selected by --output on cmd's stdout.
func newRecordWriter(cmd *cobra.Command) (output.Writer, error) {
	format, err := output.ParseFormat(flagOutput)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid --output value", err)
	}
	return output.New(cmd.OutOrStdout(), format, uuid.NewString())
}

// closeWriter closes w and reports a failure as a write error.
func closeWriter(w output.Writer, err *error) {
	if cerr := w.Close(); cerr != nil && *err == nil {
		*err = exitError(foundry.ExitFileWriteError, "Failed to flush output", cerr)
	}
}

func settings(cfg *config.Config) platform.Settings {
	return cfg.Platform(observability.CLILogger)
}

func requireToken(cfg *config.Config) (string, error) {
	token := strings.TrimSpace(cfg.KBase.Token)
	if token == "" {
		return "", exitError(foundry.ExitInvalidArgument, "Auth token is required",
			errors.New("pass --token or set KBAGENT_TOKEN"))
	}
	return token, nil
}

func newAuthClient(cfg *config.Config) (*auth.Client, error) {
	return auth.New(settings(cfg), auth.Options{
		CacheMaxSize: cfg.AuthCache.MaxSize,
		CacheTTL:     cfg.AuthCache.TTL,
	})
}

func newValidator(cfg *config.Config, kind llm.Kind) (llm.Validator, error) {
	endpoint := cfg.LLM.OpenAIEndpoint
	if kind == llm.KindCBORG {
		endpoint = cfg.LLM.CBORGEndpoint
	}
	return llm.New(kind, llm.Options{Endpoint: endpoint, Logger: observability.CLILogger})
}

func newExecEngine(cfg *config.Config, token string) (*execengine.Client, error) {
	return execengine.New(settings(cfg), platform.ClientOptions{Token: token})
}

func newNMS(cfg *config.Config) (*nms.Client, error) {
	return nms.New(settings(cfg), platform.ClientOptions{})
}

func newWorkspace(cfg *config.Config) (*workspace.Client, error) {
	return workspace.New(settings(cfg), platform.ClientOptions{})
}

func newSearch(cfg *config.Config) (*search.Client, error) {
	return search.New(settings(cfg), platform.ClientOptions{})
}

func newNarrative(cfg *config.Config, version string) (*narrative.Client, error) {
	return narrative.New(settings(cfg), version, platform.ClientOptions{})
}

func newJobStore(cfg *config.Config) (*jobregistry.Store, error) {
	dir, err := cfg.Jobs.RegistryDir()
	if err != nil {
		return nil, err
	}
	return jobregistry.NewStore(dir), nil
}

// errorRecord renders err as an output error record about item.
func errorRecord(err error, item string) *output.ErrorRecord {
	rec := &output.ErrorRecord{Code: output.ErrCodeInternal, Message: err.Error(), Item: item}

	var authErr *auth.AuthError
	var provErr *llm.ProviderError
	var srvErr *service.ServerError
	var httpErr *service.HTTPError
	switch {
	case errors.As(err, &authErr):
		rec.Code = output.ErrCodeInvalidToken
	case errors.As(err, &provErr):
		rec.Code = output.ErrCodeInvalidKey
		rec.Details = map[string]any{"provider": provErr.Provider.String(), "status_code": provErr.StatusCode}
	case errors.As(err, &srvErr):
		rec.Code = output.ErrCodeServer
		rec.Message = srvErr.Message
		rec.Details = map[string]any{"name": srvErr.Name, "code": srvErr.Code}
	case errors.As(err, &httpErr):
		rec.Code = output.ErrCodeHTTP
		rec.Details = map[string]any{"status_code": httpErr.StatusCode}
	}
	return rec
}

// remoteFailure turns a platform call failure into an exit error. Rejected
// credentials are an argument problem; everything else is the service's.
func remoteFailure(message string, err error) error {
	appErr := apperrors.FromError(err)
	switch appErr.Code {
	case apperrors.CodeInvalidToken, apperrors.CodeInvalidAPIKey, apperrors.CodeValidation:
		return exitError(foundry.ExitInvalidArgument, message, err)
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, message, err)
	}
}

// writeRecords emits one record per item and stops at the first write error.
func writeRecords[T any](cmd *cobra.Command, w output.Writer, recordType string, items []T) error {
	for _, it := range items {
		if err := w.Write(cmd.Context(), recordType, it); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	return nil
}
