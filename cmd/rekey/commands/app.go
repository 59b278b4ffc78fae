package commands

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/systmms/rekey/internal/config"
	"github.com/systmms/rekey/internal/metrics"
	"github.com/systmms/rekey/internal/notify"
	"github.com/systmms/rekey/internal/rotation/storage"
	"github.com/systmms/rekey/internal/services"
	"github.com/systmms/rekey/internal/store"
	"github.com/systmms/rekey/pkg/exec"
)

// App is shared by every command: the parsed global flags plus the factories
// commands build their collaborators with. Tests replace the factories.
type App struct {
	Config *config.Config

	// OpenDatabase connects to the deployment database as the configured
	// admin user.
	OpenDatabase func(def *config.Definition, password string) store.Database
	Runner       exec.CommandRunner

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Now    func() time.Time

	metrics *metrics.Metrics
}

// NewApp returns an App wired to the real collaborators.
func NewApp(cfg *config.Config) *App {
	return &App{
		Config: cfg,
		OpenDatabase: func(def *config.Definition, password string) store.Database {
			return store.NewPostgresStore(store.PostgresOptionsFromConfig(def), password)
		},
		Runner: exec.DefaultRunner(),
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Now:    time.Now,
	}
}

// load reads rekey.yaml once per command.
func (a *App) load() error {
	if err := a.Config.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return nil
}

func (a *App) def() *config.Definition {
	return a.Config.Definition
}

func (a *App) envFile() *store.EnvFile {
	return store.NewEnvFile(a.Config.EnvFilePath(), a.backupDir(), a.def().Keys)
}

func (a *App) backupDir() string {
	return filepath.Join(a.Config.StateDirPath(), "backups")
}

func (a *App) recoveryDir() string {
	return filepath.Join(a.Config.StateDirPath(), "recovery")
}

func (a *App) history() *storage.FileStorage {
	return storage.NewFileStorage(filepath.Join(a.Config.StateDirPath(), "history"))
}

func (a *App) marker() *store.Marker {
	return store.NewMarker(a.Config.StateDirPath())
}

func (a *App) orchestrator() *services.Compose {
	def := a.def()
	return services.NewCompose(a.Runner, def.Services, a.Config.ResolvePath(def.Services.ComposeFile), a.Config.Logger)
}

func (a *App) backup() *services.CommandBackup {
	return services.NewCommandBackup(a.Runner, a.def().Backup)
}

// notifier builds the dispatcher for the notify section. Commands call it
// before changing anything so a bad notify config fails early.
func (a *App) notifier() (*notify.Dispatcher, error) {
	d, err := notify.FromConfig(a.def().Notify, a.Config.EnvFilePath(), a.Config.Logger, a.Metrics())
	if err != nil {
		return nil, fmt.Errorf("invalid notify config: %w", err)
	}
	return d, nil
}

// Metrics returns the registry shared by the command run.
func (a *App) Metrics() *metrics.Metrics {
	if a.metrics == nil {
		a.metrics = metrics.New()
	}
	return a.metrics
}

// flushMetrics writes the metrics file when --metrics-file is set.
func (a *App) flushMetrics() {
	if a.Config.MetricsFile == "" {
		return
	}
	if err := a.Metrics().WriteTextfile(a.Config.MetricsFile); err != nil {
		a.Config.Logger.Warn("Failed to write metrics to %s: %v", a.Config.MetricsFile, err)
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
