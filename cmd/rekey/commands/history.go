package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/internal/rotation/storage"
	"github.com/systmms/rekey/pkg/secrets"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(app *App) *cobra.Command {
	var (
		limit   int
		format  string
		verbose bool
		prune   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history [class]",
		Short: "Show past bootstraps and rotations",
		Long: `List recorded bootstraps and rotations, newest first, for one secret class
or for all of them. With --verbose every store step of failed and partial
rotations is shown.

--prune deletes entries older than the given age instead of listing. Class
status and epochs are kept.`,
		Example: `  rekey history
  rekey history password --limit 5 --verbose
  rekey history --format json
  rekey history --prune 2160h`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.load(); err != nil {
				return err
			}
			h := app.history()
			logger := app.Config.Logger

			if prune > 0 {
				if err := h.CleanupOldEntries(prune); err != nil {
					return err
				}
				logger.Info("Removed history entries older than %s", prune)
				return nil
			}

			var (
				entries []storage.HistoryEntry
				err     error
			)
			if len(args) == 1 {
				class, perr := secrets.ParseClass(args[0])
				if perr != nil {
					return dserrors.UserError{
						Message:    perr.Error(),
						Suggestion: "Run 'rekey history' without a class to list every class",
					}
				}
				entries, err = h.GetHistory(class.String(), limit)
			} else {
				entries, err = h.GetAllHistory(limit)
			}
			if err != nil {
				return err
			}

			switch format {
			case "json":
				enc := json.NewEncoder(app.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			case "table", "":
				if len(entries) == 0 {
					logger.Info("No history recorded yet")
					return nil
				}
				printHistoryTable(app.Stdout, entries, verbose)
				return nil
			default:
				return dserrors.UserError{
					Message:    fmt.Sprintf("Unknown output format %q", format),
					Suggestion: "Use --format table or json",
				}
			}
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show (0 for all)")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show store steps of unsuccessful rotations")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete entries older than this age")

	return cmd
}

func printHistoryTable(out io.Writer, entries []storage.HistoryEntry, verbose bool) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "TIME\tCLASS\tACTION\tSTATUS\tEPOCH\tUSER\tDURATION")
	fmt.Fprintln(w, "----\t-----\t------\t------\t-----\t----\t--------")
	for _, e := range entries {
		user := e.User
		if user == "" {
			user = "-"
		}
		duration := "-"
		if e.Duration > 0 {
			duration = e.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"), e.Class, e.Action,
			formatStatus(e.Status), e.Epoch, user, duration)

		if !verbose || e.Status == storage.StatusActive {
			continue
		}
		for _, s := range e.Steps {
			line := fmt.Sprintf("  └─ %-7s %s", s.Status, s.Name)
			if s.Error != "" {
				line += ": " + s.Error
			}
			fmt.Fprintln(w, line)
		}
		if e.BackupPath != "" {
			fmt.Fprintf(w, "  └─ backup: %s\n", e.BackupPath)
		}
	}
}
