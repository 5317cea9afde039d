package cmd

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/kbagent/internal/observability"
	"github.com/3leaps/kbagent/pkg/nms"
	"github.com/3leaps/kbagent/pkg/output"
)

var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "Browse the narrative method catalog",
}

var methodsListCmd = &cobra.Command{
	Use:   "list [method-id]...",
	Short: "List catalog methods",
	Long: `List methods from the narrative method store.

Without arguments every method of the release channel is listed, optionally
filtered by a glob over method ids. With ids, only those methods are fetched.

Examples:
  kbagent methods list --tag beta
  kbagent methods list --pattern 'kb_uploadmethods/*'
  kbagent methods list kb_uploadmethods/import_fastq_sra_as_reads_from_staging`,
	RunE: runMethodsList,
}

var (
	methodsTag     string
	methodsPattern string
)

func init() {
	rootCmd.AddCommand(methodsCmd)
	methodsCmd.AddCommand(methodsListCmd)

	methodsListCmd.Flags().StringVar(&methodsTag, "tag", "", "Release channel (release|beta|dev)")
	methodsListCmd.Flags().StringVar(&methodsPattern, "pattern", "", "Glob over method ids (e.g., 'kb_*/*')")
}

func runMethodsList(cmd *cobra.Command, args []string) (err error) {
	switch methodsTag {
	case "", "release", "beta", "dev":
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --tag value",
			fmt.Errorf("expected release, beta or dev, got %q", methodsTag))
	}
	if methodsPattern != "" && !doublestar.ValidatePattern(methodsPattern) {
		return exitError(foundry.ExitInvalidArgument, "Invalid --pattern value",
			fmt.Errorf("malformed glob %q", methodsPattern))
	}

	client, err := newNMS(currentConfig())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid catalog configuration", err)
	}

	var methods []nms.MethodBriefInfo
	if len(args) > 0 {
		methods, err = client.GetMethodBriefInfo(cmd.Context(), args, methodsTag)
	} else {
		methods, err = client.ListMethods(cmd.Context(), nms.ListMethodsParams{Tag: methodsTag, Pattern: methodsPattern})
	}
	if err != nil {
		observability.CLILogger.Error("Failed to list methods", zap.Error(err))
		return remoteFailure("Failed to list methods", err)
	}

	w, err := newRecordWriter(cmd)
	if err != nil {
		return err
	}
	defer closeWriter(w, &err)

	if err := writeRecords(cmd, w, output.TypeMethod, methods); err != nil {
		return err
	}
	return writeRecords(cmd, w, output.TypeSummary, []output.SummaryRecord{{Count: len(methods)}})
}
