package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/kbagent/internal/config"
	errwrap "github.com/3leaps/kbagent/internal/errors"
	"github.com/3leaps/kbagent/internal/observability"
	"github.com/3leaps/kbagent/pkg/execengine"
)

var doctorPlatform bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the local environment and, with --platform, on
connectivity to the configured platform services.

Examples:
  kbagent doctor
  kbagent doctor --platform`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorPlatform, "platform", false, "Also check the execution engine and auth token")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	log := observability.CLILogger
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log.Info("=== " + bannerName + " ===")

	allChecks := true
	checkNum := 1
	totalChecks := 4
	if doctorPlatform {
		totalChecks = 6
	}

	goVersion := runtime.Version()
	log.Info(fmt.Sprintf("[%d/%d] Checking Go version... %s", checkNum, totalChecks, goVersion),
		zap.String("go_version", goVersion))
	checkNum++

	version := crucible.GetVersion()
	if version.Crucible != "" && version.Gofulmen != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Crucible and Gofulmen... ok", checkNum, totalChecks),
			zap.String("crucible_version", version.Crucible),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		log.Warn(fmt.Sprintf("[%d/%d] Checking Crucible and Gofulmen... version metadata unavailable", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking config directory... cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		ExitWithCode(log, foundry.ExitFileNotFound, "Cannot find config directory",
			errwrap.WrapInternal(cmd.Context(), err, "Cannot find config directory"))
		return nil
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking config directory... %s", checkNum, totalChecks, configDir),
		zap.String("config_dir", configDir), zap.String("config_env", config.ConfigFileEnv))
	checkNum++

	log.Info(fmt.Sprintf("[%d/%d] Checking environment... %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if doctorPlatform {
		allChecks = runPlatformChecks(cmd.Context(), currentConfig(), checkNum, totalChecks) && allChecks
	}

	if !allChecks {
		log.Warn("Some checks failed. Review the output above for details.")
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", fmt.Errorf("see %s output", bannerName))
	}
	log.Info("All checks passed.")
	return nil
}

// runPlatformChecks probes the execution engine and resolves the auth token.
func runPlatformChecks(ctx context.Context, cfg *config.Config, checkNum, totalChecks int) bool {
	log := observability.CLILogger
	ok := true

	ee2, err := newExecEngine(cfg, cfg.KBase.Token)
	if err == nil {
		var status *execengine.ServiceStatus
		if status, err = ee2.Status(ctx); err == nil {
			log.Info(fmt.Sprintf("[%d/%d] Checking execution engine... %s %s", checkNum, totalChecks, status.Service, status.Version),
				zap.String("endpoint", cfg.KBase.Endpoint))
		}
	}
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking execution engine... unreachable", checkNum, totalChecks), zap.Error(err))
		ok = false
	}
	checkNum++

	if cfg.KBase.Token == "" {
		log.Warn(fmt.Sprintf("[%d/%d] Checking auth token... not configured", checkNum, totalChecks))
		printTokenHelp()
		return false
	}
	authClient, err := newAuthClient(cfg)
	if err == nil {
		var user string
		if user, err = authClient.GetUser(ctx, cfg.KBase.Token); err == nil {
			log.Info(fmt.Sprintf("[%d/%d] Checking auth token... %s", checkNum, totalChecks, user),
				zap.String("token", maskSecret(cfg.KBase.Token)))
		}
	}
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking auth token... rejected", checkNum, totalChecks),
			zap.String("token", maskSecret(cfg.KBase.Token)), zap.Error(err))
		printTokenHelp()
		ok = false
	}
	return ok
}

func printTokenHelp() {
	log := observability.CLILogger
	log.Info("To configure an auth token:")
	log.Info("  1. Set KBAGENT_TOKEN (or KB_AUTH_TOKEN), or")
	log.Info("  2. Pass --token, or")
	log.Info("  3. Add kbase.token to the config file")
}
