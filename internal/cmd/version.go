package cmd

import (
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/3leaps/kbagent/pkg/output"
)

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print build version",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfigAnnotation: "true"},
	RunE:        runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func buildVersion() output.VersionRecord {
	deps := crucible.GetVersion()
	return output.VersionRecord{
		Version:   versionInfo.Version,
		Commit:    versionInfo.Commit,
		BuildDate: versionInfo.BuildDate,
		GoVersion: runtime.Version(),
		Gofulmen:  deps.Gofulmen,
		Crucible:  deps.Crucible,
	}
}

func runVersion(cmd *cobra.Command, args []string) (err error) {
	w, err := newRecordWriter(cmd)
	if err != nil {
		return err
	}
	defer closeWriter(w, &err)
	return writeRecords(cmd, w, output.TypeVersion, []output.VersionRecord{buildVersion()})
}
