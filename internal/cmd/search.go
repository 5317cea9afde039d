package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/kbagent/internal/observability"
	"github.com/3leaps/kbagent/pkg/output"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Query the platform search index",
}

var searchNarrativesCmd = &cobra.Command{
	Use:   "narratives",
	Short: "List narratives owned by a user",
	Long: `List the narratives owned by a user, newest first.

The owner defaults to the user that owns the auth token.

Examples:
  kbagent search narratives
  kbagent search narratives --owner someuser --output yaml`,
	Args: cobra.NoArgs,
	RunE: runSearchNarratives,
}

var searchOwner string

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.AddCommand(searchNarrativesCmd)

	searchNarrativesCmd.Flags().StringVar(&searchOwner, "owner", "", "Narrative owner (default: token user)")
}

// narrativeRecord is one narrative hit with its object reference.
type narrativeRecord struct {
	Ref   string `json:"ref"`
	ID    string `json:"id"`
	Title string `json:"title"`
	Owner string `json:"owner"`
	// Timestamp is epoch milliseconds of the last save.
	Timestamp int64 `json:"timestamp"`
	IsPublic  bool  `json:"is_public"`
	Cells     int   `json:"total_cells"`
}

func runSearchNarratives(cmd *cobra.Command, args []string) (err error) {
	cfg := currentConfig()
	ctx := cmd.Context()

	owner := searchOwner
	if owner == "" {
		token, terr := requireToken(cfg)
		if terr != nil {
			return terr
		}
		authClient, aerr := newAuthClient(cfg)
		if aerr != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid auth configuration", aerr)
		}
		if owner, err = authClient.GetUser(ctx, token); err != nil {
			return remoteFailure("Failed to resolve token", err)
		}
	}

	client, err := newSearch(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid search configuration", err)
	}
	res, err := client.SearchNarratives(ctx, owner)
	if err != nil {
		observability.CLILogger.Error("Narrative search failed", zap.String("owner", owner), zap.Error(err))
		return remoteFailure("Narrative search failed", err)
	}
	observability.CLILogger.Debug("Narrative search", zap.String("owner", owner), zap.Int("count", res.Count), zap.Int("hits", len(res.Hits)))

	w, err := newRecordWriter(cmd)
	if err != nil {
		return err
	}
	defer closeWriter(w, &err)

	records := make([]narrativeRecord, 0, len(res.Hits))
	for _, h := range res.Hits {
		records = append(records, narrativeRecord{
			Ref:       h.Ref(),
			ID:        h.ID,
			Title:     h.Doc.NarrativeTitle,
			Owner:     h.Doc.Owner,
			Timestamp: h.Doc.Timestamp,
			IsPublic:  h.Doc.IsPublic,
			Cells:     h.Doc.TotalCells,
		})
	}
	if err := writeRecords(cmd, w, output.TypeNarrative, records); err != nil {
		return err
	}
	return writeRecords(cmd, w, output.TypeSummary, []output.SummaryRecord{{Count: len(records), Total: res.Count}})
}
