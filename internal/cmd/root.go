// Package cmd implements the kbagent command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/kbagent/internal/config"
	"github.com/3leaps/kbagent/internal/observability"
)

// skipConfigAnnotation marks commands that run without loading configuration.
const skipConfigAnnotation = "kbagent/skip-config"

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// AppIdentity names the binary and its configuration namespace.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var appIdentity *AppIdentity

// GetAppIdentity returns the identity established at startup, or nil.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

var (
	cfgFile      string
	flagEndpoint string
	flagToken    string
	flagOutput   string
	flagVerbose  bool
	flagLogLevel string

	// appConfig is the configuration loaded for the running command.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kbagent",
	Short: "Command line agent for the KBase platform",
	Long: `kbagent talks to the KBase platform services: it resolves auth tokens,
validates LLM provider keys, submits and tracks execution engine jobs, and
queries the method catalog, the workspace and narrative search.

Results are written to stdout as typed records (JSONL by default, or YAML
with --output yaml). Logs go to stderr.

Configuration is read from $KBAGENT_CONFIG or the user config directory,
then KBAGENT_* environment variables, then flags.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	setDefaults()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: $KBAGENT_CONFIG or user config dir)")
	pf.StringVar(&flagEndpoint, "endpoint", "", "Platform services root URL")
	pf.StringVar(&flagToken, "token", "", "Auth token (default: $KBAGENT_TOKEN or $KB_AUTH_TOKEN)")
	pf.StringVarP(&flagOutput, "output", "o", "jsonl", "Output format (jsonl|yaml)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
}

// setDefaults seeds the global viper instance with the configuration defaults
// so `config show --defaults` and flag help agree with the loader.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

func initRuntime(cmd *cobra.Command, args []string) error {
	appIdentity = &AppIdentity{
		BinaryName: cmd.Root().Name(),
		EnvPrefix:  strings.TrimSuffix(config.EnvPrefix, "_"),
		ConfigName: config.AppName,
	}

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		return initLogger("", "")
	}

	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg

	return initLogger(cfg.Logging.Level, cfg.Logging.Format)
}

func initLogger(level, format string) error {
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	if err := observability.InitCLILogger(appIdentity.BinaryName, observability.Options{
		Level:   level,
		Verbose: flagVerbose,
		Format:  format,
	}); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid log configuration", err)
	}
	return nil
}

// flagOverrides maps persistent flags onto configuration keys. Only non-empty
// values override lower layers.
func flagOverrides() map[string]any {
	kbase := map[string]any{}
	if flagEndpoint != "" {
		kbase["endpoint"] = flagEndpoint
	}
	if flagToken != "" {
		kbase["token"] = flagToken
	}
	out := map[string]any{}
	if len(kbase) > 0 {
		out["kbase"] = kbase
	}
	if flagLogLevel != "" {
		out["logging"] = map[string]any{"level": flagLogLevel}
	}
	return out
}

func loadConfig(ctx context.Context, extra ...map[string]any) (*config.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	overrides := append([]map[string]any{flagOverrides()}, extra...)
	if cfgFile != "" {
		return config.LoadFile(ctx, cfgFile, overrides...)
	}
	return config.Load(ctx, overrides...)
}

// currentConfig returns the configuration loaded by initRuntime.
func currentConfig() *config.Config {
	if appConfig != nil {
		return appConfig
	}
	return config.GetConfig()
}

// exitCodeError carries a process exit code through cobra.
type exitCodeError struct {
	code    int
	message string
	err     error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.message, e.code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *exitCodeError) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &exitCodeError{code: code, message: message, err: err}
}

// exitCode returns the exit code carried by err, or 1.
func exitCode(err error) int {
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	return 1
}

// ExitWithCode logs err and terminates the process.
func ExitWithCode(logger *zap.Logger, code int, message string, err error) {
	if logger == nil {
		logger = observability.CLILogger
	}
	logger.Error(message, zap.Error(err), zap.Int("exit_code", code))
	observability.Sync()
	os.Exit(code)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		code := exitCode(err)
		if ctx.Err() != nil && code == 1 {
			code = foundry.ExitSignalInt
		}
		stop()
		if !observability.CLILogger.Core().Enabled(zap.ErrorLevel) {
			// Failed before the logger was configured.
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		ExitWithCode(observability.CLILogger, code, "Command failed", err)
	}
	observability.Sync()
}
