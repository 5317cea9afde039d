package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/kbagent/internal/observability"
	"github.com/3leaps/kbagent/pkg/narrative"
	"github.com/3leaps/kbagent/pkg/output"
)

var narrativeCmd = &cobra.Command{
	Use:   "narrative",
	Short: "Query NarrativeService",
	Long: `Query NarrativeService, a dynamic module located through the
ServiceWizard. The resolved endpoint is reused for timeouts.url_cache.`,
}

var narrativeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List narratives visible to the token user",
	Long: `List narratives with their workspace and object info.

Examples:
  kbagent narrative list
  kbagent narrative list --type shared --service-version beta`,
	Args: cobra.NoArgs,
	RunE: runNarrativeList,
}

var narrativeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show NarrativeService status and resolved endpoint",
	Args:  cobra.NoArgs,
	RunE:  runNarrativeStatus,
}

var (
	narrativeType    string
	narrativeVersion string
)

func init() {
	rootCmd.AddCommand(narrativeCmd)
	narrativeCmd.AddCommand(narrativeListCmd, narrativeStatusCmd)

	narrativeCmd.PersistentFlags().StringVar(&narrativeVersion, "service-version", "", "Registry version tag (default: release)")
	narrativeListCmd.Flags().StringVar(&narrativeType, "type", narrative.TypeMine, "List type (mine|shared|public)")
}

// narrativeInfoRecord flattens one NarrativeService listing entry.
type narrativeInfoRecord struct {
	Ref       string `json:"ref"`
	Title     string `json:"title"`
	WsID      int64  `json:"wsid"`
	Workspace string `json:"workspace"`
	Owner     string `json:"owner"`
	SaveDate  string `json:"save_date"`
	Public    bool   `json:"is_public"`
}

type serviceStatusRecord struct {
	Module   string `json:"module"`
	Version  string `json:"service_version"`
	Endpoint string `json:"endpoint"`
	State    string `json:"state"`
	Release  string `json:"release"`
	GitURL   string `json:"git_url,omitempty"`
}

func runNarrativeList(cmd *cobra.Command, args []string) (err error) {
	switch narrativeType {
	case narrative.TypeMine, narrative.TypeShared, narrative.TypePublic:
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --type value",
			fmt.Errorf("expected mine, shared or public, got %q", narrativeType))
	}

	cfg := currentConfig()
	if narrativeType != narrative.TypePublic {
		if _, err := requireToken(cfg); err != nil {
			return err
		}
	}
	client, err := newNarrative(cfg, narrativeVersion)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid NarrativeService configuration", err)
	}

	items, err := client.ListNarratives(cmd.Context(), narrativeType)
	if err != nil {
		observability.CLILogger.Error("Failed to list narratives", zap.String("type", narrativeType), zap.Error(err))
		return remoteFailure("Failed to list narratives", err)
	}

	records := make([]narrativeInfoRecord, len(items))
	for i, n := range items {
		records[i] = narrativeInfoRecord{
			Ref:       n.Object.Ref(),
			Title:     n.Workspace.Metadata["narrative_nice_name"],
			WsID:      n.Workspace.ID,
			Workspace: n.Workspace.Name,
			Owner:     n.Workspace.Owner,
			SaveDate:  n.Object.SaveDate,
			Public:    n.Workspace.GlobalRead == "r",
		}
	}

	w, err := newRecordWriter(cmd)
	if err != nil {
		return err
	}
	defer closeWriter(w, &err)

	if err := writeRecords(cmd, w, output.TypeNarrativeInfo, records); err != nil {
		return err
	}
	return writeRecords(cmd, w, output.TypeSummary, []output.SummaryRecord{{Count: len(records)}})
}

func runNarrativeStatus(cmd *cobra.Command, args []string) (err error) {
	client, err := newNarrative(currentConfig(), narrativeVersion)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid NarrativeService configuration", err)
	}

	st, err := client.Status(cmd.Context())
	if err != nil {
		observability.CLILogger.Error("Failed to get NarrativeService status", zap.Error(err))
		return remoteFailure("Failed to get NarrativeService status", err)
	}
	// Cached by the status call above.
	endpoint, err := client.ResolveEndpoint(cmd.Context())
	if err != nil {
		return remoteFailure("Failed to resolve NarrativeService", err)
	}

	w, err := newRecordWriter(cmd)
	if err != nil {
		return err
	}
	defer closeWriter(w, &err)

	return writeRecords(cmd, w, output.TypeServiceStatus, []serviceStatusRecord{{
		Module:   narrative.ServiceName,
		Version:  client.ServiceVersion(),
		Endpoint: endpoint,
		State:    st.State,
		Release:  st.Version,
		GitURL:   st.GitURL,
	}})
}
