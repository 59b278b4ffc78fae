package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rekey/internal/config"
	"github.com/systmms/rekey/internal/store"
	"github.com/systmms/rekey/pkg/secrets"
	"github.com/systmms/rekey/pkg/token"
	"github.com/systmms/rekey/tests/fakes"
	"github.com/systmms/rekey/tests/testutil"
)

const (
	testPassword = "Zq8v2LkP4mN7xR1tY6uW3eA9sD5fG0hJ"
	testSigning  = "b7Qe2Rt9Yu4Io1Pa6Sd3Fg8Hj5Kl0ZxCv7Bn2Mq4We9Rt1Y"
	testEncKey   = "Mn3Bv8Cx1Zl6Kj4Hg9Fd2Sa7Qw5Er0Ty"
)

var testNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

// testApp is an App over a temp deployment with a fake database and a
// scripted command runner.
type testApp struct {
	*App
	dir    string
	db     *fakes.FakeDatabase
	runner *testutil.MockRunner
	logs   *testutil.LogCapture
	stdout *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestApp(t *testing.T, yamlContent, envContent string) *testApp {
	t.Helper()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "rekey.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))
	if envContent != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(envContent), 0600))
	}

	ta := &testApp{
		dir:    dir,
		db:     fakes.NewFakeDatabase(testPassword, testSigning),
		runner: testutil.NewMockRunner(),
		logs:   testutil.NewLogCapture(t),
		stdout: &syncBuffer{},
	}
	ta.App = &App{
		Config: &config.Config{Path: configPath, Logger: ta.logs.Logger, NonInteractive: true},
		OpenDatabase: func(*config.Definition, string) store.Database {
			return ta.db
		},
		Runner: ta.runner,
		Stdin:  strings.NewReader(""),
		Stdout: ta.stdout,
		Stderr: &syncBuffer{},
		Now:    func() time.Time { return testNow },
	}
	return ta
}

// consistentEnv returns an env file agreeing with the fake database.
func consistentEnv(t *testing.T) string {
	t.Helper()
	anon, service, err := token.MintPair(testSigning, "supabase", testNow)
	require.NoError(t, err)
	return "POSTGRES_PASSWORD=" + testPassword + "\n" +
		"JWT_SECRET=" + testSigning + "\n" +
		"ANON_KEY=" + anon.Value + "\n" +
		"SERVICE_ROLE_KEY=" + service.Value + "\n" +
		"VAULT_ENC_KEY=" + testEncKey + "\n" +
		"SITE_URL=http://localhost:3000\n"
}

func (ta *testApp) env(t *testing.T) secrets.Material {
	t.Helper()
	m, err := store.NewEnvFile(filepath.Join(ta.dir, ".env"), "", config.Default().Keys).Load()
	require.NoError(t, err)
	return m
}

func (ta *testApp) readEnv(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(ta.dir, ".env"))
	require.NoError(t, err)
	return string(data)
}

func execute(cmd *cobra.Command, args ...string) error {
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd.Execute()
}
