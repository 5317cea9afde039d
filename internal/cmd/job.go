package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/kbagent/internal/config"
	"github.com/3leaps/kbagent/internal/observability"
	"github.com/3leaps/kbagent/pkg/execengine"
	"github.com/3leaps/kbagent/pkg/jobregistry"
	"github.com/3leaps/kbagent/pkg/manifest"
	"github.com/3leaps/kbagent/pkg/output"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and track execution engine jobs",
}

var jobCheckCmd = &cobra.Command{
	Use:   "check <job-id>...",
	Short: "Show the state of one or more jobs",
	Long: `Fetch job states from the execution engine.

A single id uses check_job; several ids are fetched in one check_jobs call.
An id that cannot be resolved produces an error record and a non-zero exit
without hiding the other results.

Examples:
  kbagent job check 5d8a7d3fe4b0a1b2c3d4e5f6
  kbagent job check id1 id2 id3 --output yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runJobCheck,
}

var jobRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a job",
	Long: `Submit a job to the execution engine, either from a job request file or
from flags.

A job request file is YAML or JSON:

  version: "1.0"
  method: kb_uploadmethods.import_fastq_sra_as_reads_from_staging
  wsid: 12345
  params:
    - fastq_fwd_staging_file_name: reads.fq

Examples:
  kbagent job run --file job.yaml
  kbagent job run --method MyModule.my_method --params '[{"x": 1}]' --wsid 42
  kbagent job run --file job.yaml --dry-run`,
	Args: cobra.NoArgs,
	RunE: runJobRun,
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs submitted from this machine",
	Long: `List the local history of jobs submitted with 'job run', newest first.

The status column is the last status seen by 'job check'; pass --refresh to
fetch current states from the execution engine.

Examples:
  kbagent job list
  kbagent job list --refresh --limit 5`,
	Args: cobra.NoArgs,
	RunE: runJobList,
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobCancel,
}

var (
	jobRunFile       string
	jobRunMethod     string
	jobRunParams     string
	jobRunWsID       int64
	jobRunAppID      string
	jobRunServiceVer string
	jobRunDryRun     bool

	jobListRefresh bool
	jobListLimit   int

	jobCancelCode int
)

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobCheckCmd, jobRunCmd, jobListCmd, jobCancelCmd)

	jobRunCmd.Flags().StringVarP(&jobRunFile, "file", "f", "", "Job request file (YAML or JSON)")
	jobRunCmd.Flags().StringVar(&jobRunMethod, "method", "", "Method to run as Module.method")
	jobRunCmd.Flags().StringVar(&jobRunParams, "params", "", "Method params as a JSON array")
	jobRunCmd.Flags().Int64Var(&jobRunWsID, "wsid", 0, "Workspace id (overrides the job request)")
	jobRunCmd.Flags().StringVar(&jobRunAppID, "app-id", "", "App id (default: Module/method)")
	jobRunCmd.Flags().StringVar(&jobRunServiceVer, "service-ver", "", "Module version or release tag")
	jobRunCmd.Flags().BoolVar(&jobRunDryRun, "dry-run", false, "Validate the request and print it without submitting")

	jobListCmd.Flags().BoolVar(&jobListRefresh, "refresh", false, "Fetch current states before listing")
	jobListCmd.Flags().IntVar(&jobListLimit, "limit", 0, "Show at most N jobs (0 = all)")

	jobCancelCmd.Flags().IntVar(&jobCancelCode, "code", execengine.TerminatedByUser, "Terminated code (0 user, 1 admin, 2 automation)")
}

func runJobCheck(cmd *cobra.Command, args []string) (err error) {
	cfg := currentConfig()
	token, err := requireToken(cfg)
	if err != nil {
		return err
	}
	client, err := newExecEngine(cfg, token)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid execution engine configuration", err)
	}

	w, err := newRecordWriter(cmd)
	if err != nil {
		return err
	}
	defer closeWriter(w, &err)

	start := time.Now()
	ctx := cmd.Context()

	var (
		states     []*execengine.JobState
		incomplete *execengine.IncompleteError
	)
	if len(args) == 1 {
		state, cerr := client.CheckJob(ctx, args[0])
		if cerr != nil {
			observability.CLILogger.Error("Failed to check job", zap.String("job_id", args[0]), zap.Error(cerr))
			if werr := w.WriteError(ctx, errorRecord(cerr, args[0])); werr != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", werr)
			}
			return remoteFailure("Failed to check job", cerr)
		}
		states = []*execengine.JobState{state}
	} else {
		states, err = client.CheckJobs(ctx, args)
		if err != nil && !errors.As(err, &incomplete) {
			observability.CLILogger.Error("Failed to check jobs", zap.Strings("job_ids", args), zap.Error(err))
			return remoteFailure("Failed to check jobs", err)
		}
		if incomplete != nil {
			observability.CLILogger.Warn("Incomplete check_jobs reply", zap.Error(incomplete))
		}
	}

	if err := writeRecords(cmd, w, output.TypeJobState, states); err != nil {
		return err
	}
	recordStatuses(cfg, states)

	var missing []string
	if incomplete != nil {
		missing = incomplete.Missing
	}
	for _, id := range missing {
		if werr := w.WriteError(ctx, &output.ErrorRecord{
			Code:    output.ErrCodeServer,
			Message: "job not returned by the execution engine",
			Item:    id,
		}); werr != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", werr)
		}
	}

	if len(args) > 1 {
		elapsed := time.Since(start)
		if werr := w.Write(ctx, output.TypeSummary, output.SummaryRecord{
			Count:         len(states),
			Total:         len(args),
			Errors:        len(missing),
			Duration:      elapsed,
			DurationHuman: elapsed.Round(time.Millisecond).String(),
		}); werr != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", werr)
		}
	}

	if incomplete != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Some jobs could not be checked", incomplete)
	}
	return nil
}

// buildJobRequest assembles the job request from --file or from flags.
// Flags other than --file override values in the file.
func buildJobRequest() (*manifest.JobRequest, error) {
	if jobRunFile == "" && jobRunMethod == "" {
		return nil, exitError(foundry.ExitInvalidArgument, "Nothing to run",
			errors.New("pass --file or --method"))
	}

	var req *manifest.JobRequest
	if jobRunFile != "" {
		loaded, err := manifest.Load(jobRunFile)
		if err != nil {
			code := foundry.ExitInvalidArgument
			if errors.Is(err, manifest.ErrFileNotFound) {
				code = foundry.ExitFileNotFound
			}
			return nil, exitError(code, "Invalid job request", err)
		}
		req = loaded
	} else {
		req = &manifest.JobRequest{Version: manifest.Version}
	}

	if jobRunMethod != "" {
		req.Method = jobRunMethod
		if jobRunFile != "" {
			req.AppID = ""
		}
	}
	if jobRunParams != "" {
		var params []any
		if err := json.Unmarshal([]byte(jobRunParams), &params); err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid --params value",
				fmt.Errorf("expected a JSON array: %w", err))
		}
		req.Params = params
	}
	if jobRunWsID != 0 {
		req.WsID = jobRunWsID
	}
	if jobRunAppID != "" {
		req.AppID = jobRunAppID
	}
	if jobRunServiceVer != "" {
		req.ServiceVer = jobRunServiceVer
	}

	req.ApplyDefaults()
	if err := manifest.Validate(req); err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid job request", err)
	}
	return req, nil
}

func runJobRun(cmd *cobra.Command, args []string) (err error) {
	req, err := buildJobRequest()
	if err != nil {
		return err
	}

	w, err := newRecordWriter(cmd)
	if err != nil {
		return err
	}
	defer closeWriter(w, &err)

	params := req.RunJobParams(0)
	if jobRunDryRun {
		observability.CLILogger.Info("Dry run: job not submitted", zap.String("method", params.Method))
		return writeRecords(cmd, w, output.TypeJobSubmitted, []any{params})
	}

	cfg := currentConfig()
	token, err := requireToken(cfg)
	if err != nil {
		return err
	}
	client, err := newExecEngine(cfg, token)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid execution engine configuration", err)
	}

	jobID, err := client.RunJob(cmd.Context(), params)
	if err != nil {
		observability.CLILogger.Error("Failed to submit job", zap.String("method", params.Method), zap.Error(err))
		return remoteFailure("Failed to submit job", err)
	}
	observability.CLILogger.Info("Submitted job", zap.String("job_id", jobID), zap.String("method", params.Method))
	recordSubmission(cfg, &jobregistry.Record{
		JobID:       jobID,
		Method:      params.Method,
		AppID:       params.AppID,
		WsID:        params.WsID,
		Endpoint:    cfg.KBase.Endpoint,
		RequestFile: jobRunFile,
		SubmittedAt: time.Now().UTC(),
	})

	return writeRecords(cmd, w, output.TypeJobSubmitted, []output.JobSubmittedRecord{{
		JobID:  jobID,
		Method: params.Method,
		WsID:   params.WsID,
	}})
}

// recordSubmission adds a submitted job to the local history. The job is
// already running, so a registry failure is only logged.
func recordSubmission(cfg *config.Config, rec *jobregistry.Record) {
	store, err := newJobStore(cfg)
	if err == nil {
		err = store.Write(rec)
	}
	if err != nil {
		observability.CLILogger.Warn("Failed to record job submission", zap.String("job_id", rec.JobID), zap.Error(err))
	}
}

// recordStatuses stores the observed status of jobs present in the history.
func recordStatuses(cfg *config.Config, states []*execengine.JobState) {
	store, err := newJobStore(cfg)
	if err != nil {
		observability.CLILogger.Debug("Job registry unavailable", zap.Error(err))
		return
	}
	now := time.Now()
	for _, s := range states {
		if err := store.UpdateStatus(s.JobID(), s.Status(), now); err != nil && !errors.Is(err, jobregistry.ErrNotRecorded) {
			observability.CLILogger.Warn("Failed to record job status", zap.String("job_id", s.JobID()), zap.Error(err))
		}
	}
}

func listJobs(store *jobregistry.Store) ([]jobregistry.Record, error) {
	records, err := store.List()
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to read job registry", err)
	}
	if jobListLimit > 0 && len(records) > jobListLimit {
		records = records[:jobListLimit]
	}
	return records, nil
}

func runJobList(cmd *cobra.Command, args []string) (err error) {
	if jobListLimit < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --limit value", fmt.Errorf("must be >= 0, got %d", jobListLimit))
	}

	cfg := currentConfig()
	store, err := newJobStore(cfg)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Cannot locate job registry", err)
	}
	records, err := listJobs(store)
	if err != nil {
		return err
	}

	if jobListRefresh && len(records) > 0 {
		token, terr := requireToken(cfg)
		if terr != nil {
			return terr
		}
		client, cerr := newExecEngine(cfg, token)
		if cerr != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid execution engine configuration", cerr)
		}
		ids := make([]string, len(records))
		for i, r := range records {
			ids[i] = r.JobID
		}
		states, serr := client.CheckJobs(cmd.Context(), ids)
		var incomplete *execengine.IncompleteError
		if errors.As(serr, &incomplete) {
			observability.CLILogger.Warn("Some recorded jobs were not returned", zap.Strings("job_ids", incomplete.Missing))
			serr = nil
		}
		if serr != nil {
			observability.CLILogger.Error("Failed to refresh jobs", zap.Error(serr))
			return remoteFailure("Failed to refresh jobs", serr)
		}
		recordStatuses(cfg, states)
		if records, err = listJobs(store); err != nil {
			return err
		}
	}

	w, err := newRecordWriter(cmd)
	if err != nil {
		return err
	}
	defer closeWriter(w, &err)

	if err := writeRecords(cmd, w, output.TypeJobRecord, records); err != nil {
		return err
	}
	return writeRecords(cmd, w, output.TypeSummary, []output.SummaryRecord{{Count: len(records)}})
}

func runJobCancel(cmd *cobra.Command, args []string) error {
	if jobCancelCode < execengine.TerminatedByUser || jobCancelCode > execengine.TerminatedByAutomation {
		return exitError(foundry.ExitInvalidArgument, "Invalid --code value", fmt.Errorf("expected 0, 1 or 2, got %d", jobCancelCode))
	}

	cfg := currentConfig()
	token, err := requireToken(cfg)
	if err != nil {
		return err
	}
	client, err := newExecEngine(cfg, token)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid execution engine configuration", err)
	}

	if err := client.CancelJob(cmd.Context(), args[0], jobCancelCode); err != nil {
		observability.CLILogger.Error("Failed to cancel job", zap.String("job_id", args[0]), zap.Error(err))
		return remoteFailure("Failed to cancel job", err)
	}
	observability.CLILogger.Info("Cancelled job", zap.String("job_id", args[0]))
	return nil
}
