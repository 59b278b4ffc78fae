package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/systmms/rekey/internal/config"
	"github.com/systmms/rekey/internal/store"
)

// PlaceholderEnv is an env file as shipped by the upstream self-hosting stack.
const PlaceholderEnv = `############
# Secrets
############
POSTGRES_PASSWORD=your-super-secret-and-long-postgres-password
JWT_SECRET=your-super-secret-jwt-token-with-at-least-32-characters-long
ANON_KEY=
SERVICE_ROLE_KEY=
VAULT_ENC_KEY=your-encryption-key-32-chars-min

############
# API
############
SITE_URL=http://localhost:3000
`

// Deployment is a temporary deployment directory holding an env file and
// the rekey state directory.
type Deployment struct {
	Dir    string
	Config *config.Config
	Env    *store.EnvFile
}

// NewDeployment creates a deployment whose env file holds envContent.
// An empty envContent leaves the env file absent.
func NewDeployment(t *testing.T, envContent string) *Deployment {
	t.Helper()

	dir := t.TempDir()
	def := config.Default()
	def.Database.DataDir = "volumes/db/data"

	cfg := &config.Config{
		Path:       filepath.Join(dir, config.DefaultPath),
		Definition: def,
	}
	d := &Deployment{
		Dir:    dir,
		Config: cfg,
		Env:    store.NewEnvFile(cfg.EnvFilePath(), filepath.Join(cfg.StateDirPath(), "backups"), def.Keys),
	}
	if envContent != "" {
		d.WriteEnv(t, envContent)
	}
	return d
}

// WriteEnv replaces the env file.
func (d *Deployment) WriteEnv(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(d.Config.EnvFilePath(), []byte(content), 0600))
}

// ReadEnv returns the env file content.
func (d *Deployment) ReadEnv(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(d.Config.EnvFilePath())
	require.NoError(t, err)
	return string(data)
}

// DataDir returns the resolved database data directory.
func (d *Deployment) DataDir() string {
	return d.Config.ResolvePath(d.Config.Definition.Database.DataDir)
}

// SeedDataDir puts a file in the database data directory.
func (d *Deployment) SeedDataDir(t *testing.T) {
	t.Helper()
	require.NoError(t, os.MkdirAll(d.DataDir(), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(d.DataDir(), "PG_VERSION"), []byte("15\n"), 0600))
}

// Backups lists the files in the snapshot directory.
func (d *Deployment) Backups(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(d.Config.StateDirPath(), "backups"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
