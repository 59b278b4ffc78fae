package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/internal/notify"
	"github.com/systmms/rekey/pkg/rotation"
	"github.com/systmms/rekey/pkg/secrets"
)

// NewRotateCommand creates the rotate command.
func NewRotateCommand(app *App) *cobra.Command {
	var (
		dryRun     bool
		execute    bool
		phrase     string
		skipBackup bool
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "rotate <password|signing-secret|encryption-key>",
		Short: "Rotate one secret class",
		Long: `Replace one secret with a freshly generated value in every store that
holds a copy of it, then restart the services that read it.

  password         Altered on every database role. Data is preserved.
  signing-secret   Replaced in the database setting; the anon and
                   service_role tokens are re-minted. Every issued token,
                   including user sessions, stops working.
  encryption-key   The encrypted subsystem's table is truncated. Its data is
                   permanently lost; a backup cannot restore it under the new
                   key.

Either --dry-run or --execute is required. With --execute the rotation asks for
staged confirmation; the signing secret and encryption key also require a
typed phrase and a database backup (backup.command in rekey.yaml) unless
--skip-backup is given.`,
		Example: `  # Show what a password rotation would change
  rekey rotate password --dry-run

  # Rotate the password interactively
  rekey rotate password --execute

  # Rotate the signing secret from automation
  rekey rotate signing-secret --execute --yes --confirm "ROTATE SIGNING SECRET"`,
		Args: cobra.ExactArgs(1),
		ValidArgs: []string{
			string(secrets.Password), "signing-secret", "encryption-key",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			class, err := secrets.ParseClass(args[0])
			if err != nil {
				return dserrors.UserError{
					Message:    err.Error(),
					Suggestion: "Run 'rekey rotate --help' to list the secret classes",
				}
			}

			var mode rotation.Mode
			switch {
			case dryRun && execute:
				return dserrors.UserError{
					Message:    "--dry-run and --execute are mutually exclusive",
					Suggestion: "Preview first with --dry-run, then run again with --execute",
				}
			case dryRun:
				mode = rotation.ModePreview
			case execute:
				mode = rotation.ModeExecute
			}

			return runRotate(cmd.Context(), app, rotation.Request{
				Class:      class,
				Mode:       mode,
				Prompter:   app.prompter(yes, phrase),
				SkipBackup: skipBackup,
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the planned store writes without changing anything")
	cmd.Flags().BoolVar(&execute, "execute", false, "Perform the rotation")
	cmd.Flags().StringVar(&phrase, "confirm", "", "Confirmation phrase for signing-secret and encryption-key rotations")
	cmd.Flags().BoolVar(&skipBackup, "skip-backup", false, "Rotate without taking a database backup first")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Answer yes to every y/N question")

	return cmd
}

func runRotate(ctx context.Context, app *App, req rotation.Request) error {
	if err := app.load(); err != nil {
		return err
	}
	defer app.flushMetrics()

	def := app.def()
	logger := app.Config.Logger
	env := app.envFile()
	notifier, err := app.notifier()
	if err != nil {
		return err
	}

	current, err := env.Load()
	if err != nil {
		return err
	}
	db := app.OpenDatabase(def, current.Password)
	defer func() { _ = db.Close() }()

	user := currentUser()
	ctl := rotation.NewController(rotation.Deps{
		Config:      env,
		Database:    db,
		Services:    app.orchestrator(),
		Backup:      app.backup(),
		History:     app.history(),
		Metrics:     app.Metrics(),
		Logger:      logger,
		Keys:        def.Keys,
		Issuer:      def.Tokens.Issuer,
		Restart:     def.Services.RestartFor,
		RecoveryDir: app.recoveryDir(),
		User:        user,
		Now:         app.Now,
	})

	res, err := ctl.Rotate(ctx, req)
	if res != nil && len(res.Steps) > 0 {
		ev := notify.RotationEvent(req.Class.String(), res.Steps, err)
		ev.Epoch = res.Epoch
		ev.RecoveryPath = res.RecoveryPath
		ev.User = user
		notifier.Notify(ctx, ev)
	}

	switch {
	case errors.Is(err, dserrors.ErrConfirmationDeclined):
		// Declining is an answer, not a failure.
		logger.Debug("%v", err)
		return nil
	case err != nil && errors.Is(err, context.Canceled):
		return fmt.Errorf("interrupted before any store was changed: %w", err)
	}
	return err
}

// prompter picks where confirmation answers come from. Non-interactive runs
// and --yes answer from flags; otherwise the terminal is asked, except for a
// phrase already given with --confirm.
func (a *App) prompter(yes bool, phrase string) rotation.Prompter {
	if a.Config.NonInteractive || yes {
		return rotation.FlagPrompter{Yes: yes, Phrase: phrase}
	}
	line := rotation.NewLinePrompter(a.Stdin, a.Stderr)
	if phrase == "" {
		return line
	}
	return presetPhrase{Prompter: line, phrase: phrase}
}

type presetPhrase struct {
	rotation.Prompter
	phrase string
}

func (p presetPhrase) Ask(ctx context.Context, prompt rotation.Prompt) (string, error) {
	if !prompt.YesNo() {
		return p.phrase, nil
	}
	return p.Prompter.Ask(ctx, prompt)
}
