package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/kbagent/internal/observability"
	"github.com/3leaps/kbagent/pkg/output"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the user that owns the auth token",
	Long: `Resolve the configured auth token to its user name and display name.

Examples:
  kbagent whoami
  kbagent whoami --token $KB_AUTH_TOKEN --output yaml`,
	Args: cobra.NoArgs,
	RunE: runWhoami,
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

func runWhoami(cmd *cobra.Command, args []string) (err error) {
	cfg := currentConfig()
	token, err := requireToken(cfg)
	if err != nil {
		return err
	}

	client, err := newAuthClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid auth configuration", err)
	}

	user, err := client.GetUserDisplayName(cmd.Context(), token)
	if err != nil {
		observability.CLILogger.Error("Failed to resolve token", zap.Error(err))
		return remoteFailure("Failed to resolve token", err)
	}

	w, err := newRecordWriter(cmd)
	if err != nil {
		return err
	}
	defer closeWriter(w, &err)

	return writeRecords(cmd, w, output.TypeUser, []any{user})
}
