package cmd

import (
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/kbagent/internal/observability"
	"github.com/3leaps/kbagent/pkg/credentials"
	"github.com/3leaps/kbagent/pkg/llm"
	"github.com/3leaps/kbagent/pkg/output"
)

var (
	validateProvider string
	validateAPIKey   string
	validateNoKey    bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the auth token and LLM provider key",
	Long: `Check the configured credentials against the platform auth service and
the selected LLM provider. Both checks always run; every failure is reported
in a single credentials record and the command exits non-zero.

Examples:
  kbagent validate
  kbagent validate --provider cborg --api-key $CBORG_API_KEY
  kbagent validate --no-key`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateProvider, "provider", "", "LLM provider (openai|cborg); default from config")
	validateCmd.Flags().StringVar(&validateAPIKey, "api-key", "", "Provider API key; default from config")
	validateCmd.Flags().BoolVar(&validateNoKey, "no-key", false, "Only validate the auth token")
}

type credentialsRecord struct {
	OK      bool                 `json:"ok"`
	User    string               `json:"user,omitempty"`
	Results []credentials.Result `json:"results"`
}

func runValidate(cmd *cobra.Command, args []string) (err error) {
	cfg := currentConfig()

	providerName := cfg.LLM.Provider
	if validateProvider != "" {
		providerName = validateProvider
	}
	kind, err := llm.ParseKind(providerName)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --provider value", err)
	}

	checks := credentials.Checks{Token: cfg.KBase.Token}
	if checks.Token != "" {
		if checks.Auth, err = newAuthClient(cfg); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid auth configuration", err)
		}
	}

	if !validateNoKey {
		checks.APIKey = validateAPIKey
		if checks.APIKey == "" {
			llmCfg := cfg.LLM
			llmCfg.Provider = kind.String()
			checks.APIKey = llmCfg.Key()
		}
		if checks.APIKey != "" {
			if checks.Validator, err = newValidator(cfg, kind); err != nil {
				return exitError(foundry.ExitInvalidArgument, "Invalid provider configuration", err)
			}
		}
	}

	if checks.Auth == nil && checks.Validator == nil {
		return exitError(foundry.ExitInvalidArgument, "Nothing to validate",
			errors.New("set an auth token and/or a provider API key"))
	}

	report := credentials.Validate(cmd.Context(), checks)

	w, err := newRecordWriter(cmd)
	if err != nil {
		return err
	}
	defer closeWriter(w, &err)

	results := report.Results
	if results == nil {
		results = []credentials.Result{}
	}
	if err := w.Write(cmd.Context(), output.TypeCredentials, credentialsRecord{
		OK:      report.OK(),
		User:    report.User(),
		Results: results,
	}); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}

	if !report.OK() {
		observability.CLILogger.Warn("Credential validation failed", zap.Error(report.Err()))
		return exitError(foundry.ExitInvalidArgument, "Credential validation failed", report.Err())
	}
	observability.CLILogger.Info("Credentials valid", zap.String("user", report.User()), zap.String("provider", kind.String()))
	return nil
}
