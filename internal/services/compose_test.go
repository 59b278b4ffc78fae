package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rekey/internal/config"
	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/internal/logging"
	"github.com/systmms/rekey/pkg/exec"
	"github.com/systmms/rekey/tests/testutil"
)

func TestCompose_Commands(t *testing.T) {
	t.Parallel()

	runner := testutil.NewMockRunner()
	cfg := config.ServicesConfig{Command: []string{"docker", "compose"}, Project: "supabase"}
	c := NewCompose(runner, cfg, "/srv/docker-compose.yml", logging.Discard())

	ctx := context.Background()
	require.NoError(t, c.Stop(ctx, "db"))
	require.NoError(t, c.Start(ctx, "db"))
	require.NoError(t, c.Restart(ctx, "auth", "rest"))

	assert.Equal(t, []string{
		"docker compose -f /srv/docker-compose.yml -p supabase stop db",
		"docker compose -f /srv/docker-compose.yml -p supabase start db",
		"docker compose -f /srv/docker-compose.yml -p supabase up -d --force-recreate --no-deps auth rest",
	}, runner.Calls())
}

func TestCompose_NoServicesIsNoop(t *testing.T) {
	t.Parallel()

	runner := testutil.NewMockRunner()
	c := NewCompose(runner, config.ServicesConfig{}, "", nil)

	require.NoError(t, c.Restart(context.Background()))
	assert.Empty(t, runner.Calls())
}

func TestCompose_FailureIsCommandError(t *testing.T) {
	t.Parallel()

	runner := testutil.NewMockRunner()
	runner.AddFailure("docker compose stop", 1, "no such service: dbx\n")
	c := NewCompose(runner, config.ServicesConfig{Command: []string{"docker", "compose"}}, "", nil)

	err := c.Stop(context.Background(), "dbx")
	var ce dserrors.CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.ExitCode)
	assert.Equal(t, "no such service: dbx", ce.Message)
	assert.Equal(t, "docker compose stop dbx", ce.Command)
}

func TestCompose_StartFailure(t *testing.T) {
	t.Parallel()

	runner := testutil.NewMockRunner()
	runner.DefaultResult = exec.Result{ExitCode: -1, Err: errors.New("executable file not found in $PATH")}
	c := NewCompose(runner, config.ServicesConfig{Command: []string{"podman-compose"}}, "", nil)

	err := c.Restart(context.Background(), "auth")
	var ce dserrors.CommandError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "not found")
	assert.NotEmpty(t, ce.Suggestion)
	assert.Equal(t, []string{"podman-compose up -d --force-recreate --no-deps auth"}, runner.Calls())
}

// hangingRunner blocks until its context ends, like a compose call waiting
// on a container that never becomes healthy.
type hangingRunner struct{}

func (hangingRunner) Run(ctx context.Context, _ string, _ ...string) exec.Result {
	<-ctx.Done()
	return exec.Result{ExitCode: -1, Err: ctx.Err()}
}

func TestCompose_HungCommandTimesOut(t *testing.T) {
	t.Parallel()

	c := NewCompose(hangingRunner{}, config.ServicesConfig{Command: []string{"docker", "compose"}, TimeoutMs: 50}, "", nil)

	done := make(chan error, 1)
	go func() { done <- c.Restart(context.WithoutCancel(context.Background()), "auth") }()

	select {
	case err := <-done:
		var ce dserrors.CommandError
		require.ErrorAs(t, err, &ce)
		assert.Contains(t, ce.Message, "timed out after 50ms")
		assert.Equal(t, "docker compose up -d --force-recreate --no-deps auth", ce.Command)
	case <-time.After(5 * time.Second):
		t.Fatal("restart did not return after its timeout")
	}
}

func TestServicesConfigTimeoutDefault(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5*time.Minute, config.ServicesConfig{}.Timeout())
	assert.Equal(t, 2*time.Second, config.ServicesConfig{TimeoutMs: 2000}.Timeout())
}
