package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/kbagent/internal/config"
	apperrors "github.com/3leaps/kbagent/internal/errors"
	"github.com/3leaps/kbagent/internal/observability"
	"github.com/3leaps/kbagent/internal/server"
	"github.com/3leaps/kbagent/internal/server/handlers"
	"github.com/3leaps/kbagent/pkg/execengine"
	"github.com/3leaps/kbagent/pkg/llm"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve health, version, credential validation and job lookup over HTTP.

Requests may carry their own token in the Authorization header; otherwise the
configured token is used.

Examples:
  kbagent serve
  kbagent serve --host 0.0.0.0 --port 9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from config)")
}

// signalHealthChecker reports healthy while the process handles signals.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error { return nil }

// identityHealthChecker verifies the app identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity: missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity: missing env prefix")
	case c.configName == "":
		return errors.New("app identity: missing config name")
	}
	return nil
}

// engineStatus is the part of the execution engine client used for health.
type engineStatus interface {
	Status(ctx context.Context) (*execengine.ServiceStatus, error)
}

// engineHealthChecker calls the execution engine status method.
type engineHealthChecker struct {
	client engineStatus
}

func (c engineHealthChecker) CheckHealth(ctx context.Context) error {
	if c.client == nil {
		return errors.New("execution engine client not configured")
	}
	_, err := c.client.Status(ctx)
	return err
}

// newAPI wires the HTTP handlers to platform clients built from cfg.
func newAPI(cfg *config.Config) (*handlers.API, error) {
	authClient, err := newAuthClient(cfg)
	if err != nil {
		return nil, err
	}
	return &handlers.API{
		Auth: authClient,
		Validators: func(kind llm.Kind) (llm.Validator, error) {
			return newValidator(cfg, kind)
		},
		Jobs: func(token string) (handlers.JobChecker, error) {
			if token == "" {
				return nil, apperrors.New(apperrors.CodeUnauthorized, http.StatusUnauthorized, "auth token is required")
			}
			return newExecEngine(cfg, token)
		},
		DefaultToken: cfg.KBase.Token,
		Logger:       observability.ServerLogger,
	}, nil
}

func registerHealthCheckers(m *handlers.HealthManager, cfg *config.Config) error {
	m.RegisterChecker("signal", signalHealthChecker{})

	identity := GetAppIdentity()
	if identity == nil {
		identity = &AppIdentity{}
	}
	m.RegisterChecker("identity", identityHealthChecker{
		binaryName: identity.BinaryName,
		envPrefix:  identity.EnvPrefix,
		configName: identity.ConfigName,
	})

	ee2, err := newExecEngine(cfg, cfg.KBase.Token)
	if err != nil {
		return err
	}
	m.RegisterChecker("execution_engine", engineHealthChecker{client: ee2})
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	extra := map[string]any{}
	if serveHost != "" {
		extra["host"] = serveHost
	}
	if servePort != 0 {
		extra["port"] = servePort
	}
	cfg := currentConfig()
	if len(extra) > 0 {
		reloaded, err := loadConfig(cmd.Context(), map[string]any{"server": extra})
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid server configuration", err)
		}
		cfg = reloaded
	}

	if err := observability.InitServerLogger(appIdentity.BinaryName, cfg.Logging.Level); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid log configuration", err)
	}

	handlers.InitHealthManager(versionInfo.Version)
	if err := registerHealthCheckers(handlers.GetHealthManager(), cfg); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid execution engine configuration", err)
	}

	api, err := newAPI(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid auth configuration", err)
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithAPI(api),
		server.WithVersion(handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	observability.CLILogger.Info("Serving", zap.String("addr", cfg.Server.Addr()))

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-cmd.Context().Done():
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	observability.CLILogger.Info("Shutting down", zap.Duration("timeout", timeout))
	if err := srv.Shutdown(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Shutdown failed", fmt.Errorf("after %s: %w", timeout, err))
	}
	return <-errCh
}
