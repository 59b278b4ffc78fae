package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"github.com/systmms/rekey/cmd/rekey/commands"
	"github.com/systmms/rekey/internal/config"
	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes
const (
	exitOK        = 0
	exitError     = 1
	exitViolation = 2
	exitPartial   = 3
)

func main() {
	// Interrupts cancel ctx instead of killing the process, so a rotation
	// already writing stores can finish its current step.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
	}
	code := exitCode(err)
	// Wipe enclave keys before exiting; os.Exit skips deferred calls.
	memguard.Purge()
	os.Exit(code)
}

func exitCode(err error) int {
	var (
		violation *dserrors.InvariantViolation
		partial   *dserrors.PartialRotationFailure
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &violation):
		return exitViolation
	case errors.As(err, &partial):
		return exitPartial
	default:
		return exitError
	}
}

func run(ctx context.Context) error {
	// Global flags
	var (
		configFile     string
		noColor        bool
		debug          bool
		nonInteractive bool
		metricsFile    string
	)

	cfg := &config.Config{}
	app := commands.NewApp(cfg)

	rootCmd := &cobra.Command{
		Use:   "rekey",
		Short: "Bootstrap and rotate the secrets of a self-hosted deployment",
		Long: `rekey generates, rotates and verifies the fixed secret set of a
self-hosted deployment: the database password shared by its roles, the token
signing secret with the anon and service_role tokens derived from it, and the
encryption key of the connection pooler.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
			cfg.NonInteractive = nonInteractive
			cfg.MetricsFile = metricsFile
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "Never prompt; take answers from flags")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file (textfile collector format)")

	rootCmd.AddCommand(
		commands.NewInitCommand(app),
		commands.NewRotateCommand(app),
		commands.NewCheckCommand(app),
		commands.NewStatusCommand(app),
		commands.NewHistoryCommand(app),
	)

	return rootCmd.ExecuteContext(ctx)
}
