package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/internal/logging"
	"github.com/systmms/rekey/pkg/secrets"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rekey.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWhenDefaultFileMissing(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg := &Config{Logger: logging.Discard()}
	require.NoError(t, cfg.Load())

	assert.Equal(t, DefaultPath, cfg.Path)
	assert.Equal(t, Default(), cfg.Definition)
	assert.Equal(t, "JWT_SECRET", cfg.Definition.Keys.SigningSecret)
	assert.Len(t, cfg.Definition.Database.Roles, 5)
}

func TestLoadMissingExplicitPath(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: filepath.Join(t.TempDir(), "nope.yaml")}
	err := cfg.Load()

	var ce dserrors.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "not found")
}

func TestLoadOverlaysDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
version: 0
env_file: deploy/.env
keys:
  signing_secret: AUTH_JWT_SECRET
database:
  host: db.internal
  timeout_ms: 5000
  roles: [a, b, c, d, e]
services:
  restart:
    signing_secret: [gateway]
`)
	cfg := &Config{Path: path, Logger: logging.Discard()}
	require.NoError(t, cfg.Load())
	def := cfg.Definition

	assert.Equal(t, "deploy/.env", def.EnvFile)
	assert.Equal(t, ".rekey", def.StateDir)
	assert.Equal(t, "AUTH_JWT_SECRET", def.Keys.SigningSecret)
	assert.Equal(t, "POSTGRES_PASSWORD", def.Keys.Password)
	assert.Equal(t, "db.internal", def.Database.Host)
	assert.Equal(t, 5432, def.Database.Port)
	assert.Equal(t, 5*time.Second, def.Database.Timeout())
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, def.Database.Roles)
	assert.Equal(t, []string{"docker", "compose"}, def.Services.Command)
	assert.Equal(t, []string{"gateway"}, def.Services.RestartFor(secrets.SigningSecret))
	assert.Empty(t, def.Services.RestartFor(secrets.Password))

	assert.Equal(t, filepath.Join(filepath.Dir(path), "deploy/.env"), cfg.EnvFilePath())
	assert.Equal(t, filepath.Join(filepath.Dir(path), ".rekey"), cfg.StateDirPath())
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{name: "bad yaml", yaml: "keys: [unterminated", wantMsg: "invalid YAML"},
		{name: "unknown key", yaml: "passwords: true", wantMsg: "passwords"},
		{name: "unsupported version", yaml: "version: 2", wantMsg: "version"},
		{name: "wrong role count", yaml: "database:\n  roles: [a, b]", wantMsg: "roles"},
		{name: "duplicate roles", yaml: "database:\n  roles: [a, a, b, c, d]", wantMsg: "roles"},
		{name: "bad env key", yaml: "keys:\n  password: 'not a key'", wantMsg: "password"},
		{name: "bad setting", yaml: "database:\n  setting: jwt", wantMsg: "setting"},
		{name: "timeout too small", yaml: "database:\n  timeout_ms: 10", wantMsg: "timeout_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.yaml))
			var ce dserrors.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, ce.Error(), tt.wantMsg)
		})
	}
}

func TestParseEmptyDocumentIsDefaults(t *testing.T) {
	t.Parallel()

	def, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), def)
}

func TestKeyLookups(t *testing.T) {
	t.Parallel()

	keys := Default().Keys
	assert.Equal(t, "POSTGRES_PASSWORD", keys.KeyFor(secrets.Password))
	assert.Equal(t, "JWT_SECRET", keys.KeyFor(secrets.SigningSecret))
	assert.Equal(t, "VAULT_ENC_KEY", keys.KeyFor(secrets.EncryptionKey))
	assert.Equal(t, "ANON_KEY", keys.TokenKeyFor(secrets.Anon))
	assert.Equal(t, "SERVICE_ROLE_KEY", keys.TokenKeyFor(secrets.ServiceRole))
}

func TestBackupTimeoutDefault(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 10*time.Minute, BackupConfig{}.Timeout())
	assert.Equal(t, 10*time.Second, DatabaseConfig{}.Timeout())
}
