package cmd

import (
	"fmt"
	"strconv"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/kbagent/internal/observability"
	"github.com/3leaps/kbagent/pkg/output"
	"github.com/3leaps/kbagent/pkg/workspace"
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Inspect workspaces and objects",
}

var workspaceInfoCmd = &cobra.Command{
	Use:   "info <id-or-name>",
	Short: "Show workspace metadata",
	Long: `Show workspace metadata. A numeric argument is a workspace id, anything
else a workspace name.

Examples:
  kbagent workspace info 12345
  kbagent ws info someuser:narrative_1570000000000`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkspaceInfo,
}

var workspaceObjectsCmd = &cobra.Command{
	Use:   "objects <ref>...",
	Short: "Show object metadata by reference",
	Long: `Show metadata for workspace objects addressed as wsid/objid[/ver] or
wsname/objname. Unresolvable references are reported as error records.

Examples:
  kbagent workspace objects 12345/1/3 12345/2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWorkspaceObjects,
}

func init() {
	rootCmd.AddCommand(workspaceCmd)
	workspaceCmd.AddCommand(workspaceInfoCmd, workspaceObjectsCmd)
}

func parseWorkspaceIdentity(arg string) workspace.WorkspaceIdentity {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil && id > 0 {
		return workspace.WorkspaceIdentity{ID: id}
	}
	return workspace.WorkspaceIdentity{Name: arg}
}

func runWorkspaceInfo(cmd *cobra.Command, args []string) (err error) {
	client, err := newWorkspace(currentConfig())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid workspace configuration", err)
	}

	info, err := client.GetWorkspaceInfo(cmd.Context(), parseWorkspaceIdentity(args[0]))
	if err != nil {
		observability.CLILogger.Error("Failed to get workspace info", zap.String("workspace", args[0]), zap.Error(err))
		return remoteFailure("Failed to get workspace info", err)
	}

	w, err := newRecordWriter(cmd)
	if err != nil {
		return err
	}
	defer closeWriter(w, &err)

	return writeRecords(cmd, w, output.TypeWorkspace, []*workspace.WorkspaceInfo{info})
}

func runWorkspaceObjects(cmd *cobra.Command, args []string) (err error) {
	client, err := newWorkspace(currentConfig())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid workspace configuration", err)
	}

	infos, err := client.GetObjectInfo(cmd.Context(), args, true)
	if err != nil {
		observability.CLILogger.Error("Failed to get object info", zap.Strings("refs", args), zap.Error(err))
		return remoteFailure("Failed to get object info", err)
	}

	w, err := newRecordWriter(cmd)
	if err != nil {
		return err
	}
	defer closeWriter(w, &err)

	ctx := cmd.Context()
	missing := 0
	for i, ref := range args {
		var info *workspace.ObjectInfo
		if i < len(infos) {
			info = infos[i]
		}
		if info == nil {
			missing++
			if werr := w.WriteError(ctx, &output.ErrorRecord{
				Code:    output.ErrCodeServer,
				Message: "object not found or not accessible",
				Item:    ref,
			}); werr != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", werr)
			}
			continue
		}
		if werr := w.Write(ctx, output.TypeObject, info); werr != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", werr)
		}
	}

	if missing > 0 {
		return exitError(foundry.ExitInvalidArgument, "Some objects could not be resolved",
			fmt.Errorf("missing=%d", missing))
	}
	return nil
}
