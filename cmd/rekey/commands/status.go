package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/internal/rotation/storage"
	"github.com/systmms/rekey/pkg/secrets"
	"gopkg.in/yaml.v3"
)

// classStatus is the status of one class as shown by the status command.
type classStatus struct {
	Class         string     `json:"class" yaml:"class"`
	Epoch         int        `json:"epoch" yaml:"epoch"`
	Status        string     `json:"status" yaml:"status"`
	LastRotation  *time.Time `json:"last_rotation,omitempty" yaml:"last_rotation,omitempty"`
	LastResult    string     `json:"last_result,omitempty" yaml:"last_result,omitempty"`
	LastError     string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	RotationCount int        `json:"rotation_count" yaml:"rotation_count"`
	FailureCount  int        `json:"failure_count" yaml:"failure_count"`
}

type deploymentStatus struct {
	Initialized   bool          `json:"initialized" yaml:"initialized"`
	InitializedAt *time.Time    `json:"initialized_at,omitempty" yaml:"initialized_at,omitempty"`
	EnvFile       string        `json:"env_file" yaml:"env_file"`
	Classes       []classStatus `json:"classes" yaml:"classes"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(app *App) *cobra.Command {
	var (
		format  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show bootstrap state and the epoch of each secret",
		Long: `Show whether the deployment has been initialized and, for each secret
class, its current epoch, when it last rotated and how that went. Reads only
local state; no store is contacted.`,
		Example: `  rekey status
  rekey status --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.load(); err != nil {
				return err
			}

			st, err := collectStatus(app)
			if err != nil {
				return err
			}

			switch format {
			case "json":
				enc := json.NewEncoder(app.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			case "yaml":
				enc := yaml.NewEncoder(app.Stdout)
				defer enc.Close()
				return enc.Encode(st)
			case "table", "":
				printStatusTable(app.Stdout, st, app.Now(), verbose)
				return nil
			default:
				return dserrors.UserError{
					Message:    fmt.Sprintf("Unknown output format %q", format),
					Suggestion: "Use --format table, json or yaml",
				}
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show the last error of failed rotations")

	return cmd
}

func collectStatus(app *App) (*deploymentStatus, error) {
	st := &deploymentStatus{EnvFile: app.Config.EnvFilePath()}

	marker := app.marker()
	ok, err := marker.Exists()
	if err != nil {
		return nil, err
	}
	if ok {
		st.Initialized = true
		if info, err := marker.Read(); err == nil {
			at := info.InitializedAt
			st.InitializedAt = &at
		}
	}

	history := app.history()
	for _, class := range secrets.Classes() {
		cs := classStatus{Class: class.String(), Status: "never_rotated"}
		s, err := history.GetStatus(class.String())
		switch {
		case errors.Is(err, storage.ErrNoStatus):
		case err != nil:
			return nil, err
		default:
			cs.Epoch = s.Epoch
			cs.Status = s.Status
			cs.LastResult = s.LastResult
			cs.LastError = s.LastError
			cs.RotationCount = s.RotationCount
			cs.FailureCount = s.FailureCount
			if !s.LastRotation.IsZero() {
				at := s.LastRotation
				cs.LastRotation = &at
			}
		}
		st.Classes = append(st.Classes, cs)
	}
	return st, nil
}

func printStatusTable(out io.Writer, st *deploymentStatus, now time.Time, verbose bool) {
	if st.Initialized {
		since := ""
		if st.InitializedAt != nil {
			since = " (" + formatTimestamp(*st.InitializedAt, now) + ")"
		}
		fmt.Fprintf(out, "Deployment: initialized%s\n", since)
	} else {
		fmt.Fprintln(out, "Deployment: not initialized (run 'rekey init')")
	}
	fmt.Fprintf(out, "Env file:   %s\n\n", st.EnvFile)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "CLASS\tEPOCH\tSTATUS\tLAST CHANGE\tROTATIONS")
	fmt.Fprintln(w, "-----\t-----\t------\t-----------\t---------")
	for _, cs := range st.Classes {
		last := "Never"
		if cs.LastRotation != nil {
			last = formatTimestamp(*cs.LastRotation, now)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\n", cs.Class, cs.Epoch, formatStatus(cs.Status), last, cs.RotationCount)
		if verbose && cs.LastError != "" {
			fmt.Fprintf(w, "  └─ Error: %s\n", cs.LastError)
		}
	}
}

func formatStatus(status string) string {
	switch status {
	case storage.StatusActive:
		return "✅ Active"
	case storage.StatusFailed:
		return "❌ Failed"
	case storage.StatusPartial:
		return "🟡 Partial"
	case "never_rotated":
		return "⚪ Never Set"
	default:
		return status
	}
}

func formatTimestamp(t time.Time, now time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < 0:
		return t.Format("2006-01-02 15:04")
	case diff < time.Minute:
		return "Just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d min ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hr ago", int(diff.Hours()))
	case diff < 30*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
