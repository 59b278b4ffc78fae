package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/systmms/rekey/internal/consistency"
	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/internal/logging"
	"github.com/systmms/rekey/internal/notify"
)

// NewCheckCommand creates the consistency check command.
func NewCheckCommand(app *App) *cobra.Command {
	var every string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that every store agrees with the env file",
		Long: `Check the invariants between the env file and the stores holding copies
of its secrets:

  role-passwords           every database role logs in with the password
  signing-secret-setting   the database setting equals the signing secret
  derived-tokens           both tokens verify under the signing secret and
                           carry the anon and service_role roles
  encryption-key           the key matches the one the encrypted subsystem
                           was last initialised under

Each invariant is reported as MATCH, MISMATCH or UNKNOWN (a store could not be
read). Nothing is ever changed. The command exits with status 2 on a mismatch.

With --every the check repeats on a cron schedule until interrupted.`,
		Example: `  # Check once
  rekey check

  # Check every ten minutes and export the outcome for node_exporter
  rekey check --every "@every 10m" --metrics-file /var/lib/node_exporter/rekey.prom`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.load(); err != nil {
				return err
			}
			notifier, err := app.notifier()
			if err != nil {
				return err
			}
			drift := &driftTracker{}

			if every == "" {
				defer app.flushMetrics()
				return runCheck(cmd.Context(), app, notifier, drift)
			}

			logger := app.Config.Logger
			logger.Info("Checking on schedule %q; press Ctrl-C to stop", every)
			return runScheduled(cmd.Context(), every, logger, func(ctx context.Context) {
				if err := runCheck(ctx, app, notifier, drift); err != nil {
					logger.Error("%v", err)
				}
				app.flushMetrics()
			})
		},
	}

	cmd.Flags().StringVar(&every, "every", "", `Repeat on a cron schedule, e.g. "@every 10m" or "*/15 * * * *"`)

	return cmd
}

func runCheck(ctx context.Context, app *App, notifier *notify.Dispatcher, drift *driftTracker) error {
	env := app.envFile()
	current, err := env.Load()
	if err != nil {
		return err
	}
	db := app.OpenDatabase(app.def(), current.Password)
	defer func() { _ = db.Close() }()

	checker := consistency.New(consistency.Deps{
		Config:   env,
		Database: db,
		History:  app.history(),
		Metrics:  app.Metrics(),
		Logger:   app.Config.Logger,
		Now:      app.Now,
	})
	report := checker.Verify(ctx)
	printReport(app.Stdout, report)

	err = report.Err()
	var violation *dserrors.InvariantViolation
	errors.As(err, &violation)
	if drift.changed(violation) {
		notifier.Notify(ctx, notify.DriftEvent(violation))
	}
	return err
}

// driftTracker suppresses repeat drift notifications while a scheduled check
// keeps finding the same mismatches.
type driftTracker struct {
	last string
}

// changed reports whether v is a new violation worth notifying about.
func (d *driftTracker) changed(v *dserrors.InvariantViolation) bool {
	if v == nil {
		d.last = ""
		return false
	}
	key := strings.Join(v.Invariants, ",")
	if key == d.last {
		return false
	}
	d.last = key
	return true
}

func printReport(out io.Writer, report consistency.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "INVARIANT\tRESULT\tDETAILS")
	fmt.Fprintln(w, "---------\t------\t-------")
	for _, f := range report.Findings {
		details := "-"
		switch f.Outcome {
		case consistency.Mismatch:
			details = strings.Join(f.Details, "; ")
		case consistency.Unknown:
			details = f.Reason
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Invariant, formatOutcome(f.Outcome), details)
	}
}

func formatOutcome(o consistency.Outcome) string {
	switch o {
	case consistency.Match:
		return "✅ MATCH"
	case consistency.Mismatch:
		return "❌ MISMATCH"
	default:
		return "⚪ UNKNOWN"
	}
}

// runScheduled runs fn once immediately and then on every tick of schedule until
// ctx is done. It returns after the last run has finished.
func runScheduled(ctx context.Context, schedule string, logger *logging.Logger, fn func(context.Context)) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { fn(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	fn(ctx)
	c.Start()
	<-ctx.Done()

	logger.Debug("Stopping scheduled checks")
	<-c.Stop().Done()
	return nil
}
