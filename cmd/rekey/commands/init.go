package commands

import (
	"github.com/spf13/cobra"
	"github.com/systmms/rekey/internal/bootstrap"
	"github.com/systmms/rekey/internal/store"
)

// NewInitCommand creates the bootstrap command.
func NewInitCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Replace placeholder secrets with generated ones",
		Long: `Generate every secret in the env file that is missing or still holds a
placeholder, mint the anon and service_role tokens, and mark the deployment as
initialized.

If the database password is generated and the database data directory already
holds data, the database service is stopped and the directory emptied first:
the database only applies the configured password when it initialises an empty
directory.

Running init again on an initialized deployment changes nothing.`,
		Example: `  # Bootstrap the deployment in the current directory
  rekey init

  # Use a config file elsewhere
  rekey init --config /srv/stack/rekey.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.load(); err != nil {
				return err
			}
			defer app.flushMetrics()

			def := app.def()
			logger := app.Config.Logger
			initializer := bootstrap.New(bootstrap.Deps{
				Config:          app.envFile(),
				Marker:          app.marker(),
				DataDir:         store.NewDataDir(app.Config.ResolvePath(def.Database.DataDir)),
				Services:        app.orchestrator(),
				DatabaseService: def.Database.Service,
				History:         app.history(),
				Metrics:         app.Metrics(),
				Logger:          logger,
				Issuer:          def.Tokens.Issuer,
				ConfigPath:      app.Config.Path,
				Now:             app.Now,
			})

			res, err := initializer.Initialize(cmd.Context())
			if err != nil {
				return err
			}
			if res.AlreadyInitialized {
				return nil
			}

			logger.Info("Next steps:")
			logger.Info("  1. Start the stack: docker compose up -d")
			logger.Info("  2. Run 'rekey check' to confirm every store agrees")
			return nil
		},
	}

	return cmd
}
