package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/portal/pkg/config"
	"github.com/platinummonkey/portal/pkg/observability"
	"github.com/platinummonkey/portal/pkg/storage/postgres"
)

// Version is stamped at build time with -ldflags "-X .../pkg/cli.Version=..."
var Version = "dev"

// ErrAccessDenied is returned by `check` when the decision is not Authorized
var ErrAccessDenied = errors.New("access denied")

// env carries what every subcommand needs. Tests replace the pieces.
type env struct {
	log        *logrus.Logger
	loadConfig func() (*config.Config, error)
	driver     string
}

func defaultEnv() *env {
	return &env{
		log:        setupLogger("info", os.Stderr),
		loadConfig: config.Load,
		driver:     "postgres",
	}
}

// NewRootCommand creates the `portal` command tree
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultEnv())
}

func newRootCommand(e *env) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "portal",
		Short:         "Intranet portal access control",
		Long:          "Verifies Entra ID tokens, resolves portal roles and serves the gated portal.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			e.log.SetOutput(cmd.ErrOrStderr())
			if level, err := logrus.ParseLevel(logLevel); err == nil {
				e.log.SetLevel(level)
			}
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "CLI log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(e),
		newMigrateCommand(e),
		newAssignCommand(e),
		newVerifyTokenCommand(e),
		newResolveCommand(e),
		newCheckCommand(e),
		newProfileCommand(e),
		newSweepCommand(e),
	)
	return root
}

func setupLogger(level string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

// serviceLogger is the structured logger handed to library packages by the
// one-shot commands; only warnings and errors reach the terminal.
func serviceLogger(w io.Writer) *observability.Logger {
	return observability.NewLogger(observability.WarnLevel, w)
}

// openDatabase connects to the primary only; one-shot commands never read
// from replicas
func (e *env) openDatabase(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*postgres.ConnectionManager, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	return postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		Driver:     e.driver,
		PrimaryURL: cfg.Database.URL,
		MaxConns:   2,
		MinConns:   1,
		Timeout:    cfg.Database.Timeout,
	}, logger)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
