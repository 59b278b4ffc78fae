package commands

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rekey/tests/testutil"
	"gopkg.in/yaml.v3"
)

func TestStatusCommand_Fresh(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, "version: 0\n", testutil.PlaceholderEnv)

	require.NoError(t, execute(NewStatusCommand(ta.App)))

	out := ta.stdout.String()
	assert.Contains(t, out, "not initialized")
	assert.Contains(t, out, "⚪ Never Set")
}

func TestStatusCommand_JSONAfterRotation(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, "version: 0\n", testutil.PlaceholderEnv)
	require.NoError(t, execute(NewInitCommand(ta.App)))

	ta.db.Passwords = map[string]string{}
	m := ta.env(t)
	for _, r := range ta.db.RoleNames {
		ta.db.Passwords[r] = m.Password
	}
	require.NoError(t, execute(NewRotateCommand(ta.App), "password", "--execute", "--yes"))

	ta.stdout.buf.Reset()
	require.NoError(t, execute(NewStatusCommand(ta.App), "--format", "json"))

	var st deploymentStatus
	require.NoError(t, json.Unmarshal([]byte(ta.stdout.String()), &st))
	assert.True(t, st.Initialized)
	require.Len(t, st.Classes, 3)

	byClass := map[string]classStatus{}
	for _, cs := range st.Classes {
		byClass[cs.Class] = cs
	}
	pw := byClass["password"]
	assert.Equal(t, "active", pw.Status)
	assert.Equal(t, 2, pw.Epoch, "bootstrap is epoch 1")
	require.NotNil(t, pw.LastRotation)
	assert.True(t, pw.LastRotation.Equal(testNow))
}

func TestStatusCommand_YAML(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, "version: 0\n", testutil.PlaceholderEnv)

	require.NoError(t, execute(NewStatusCommand(ta.App), "--format", "yaml"))

	var st deploymentStatus
	require.NoError(t, yaml.Unmarshal([]byte(ta.stdout.String()), &st))
	assert.False(t, st.Initialized)
	assert.Len(t, st.Classes, 3)
}

func TestStatusCommand_UnknownFormat(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, "version: 0\n", testutil.PlaceholderEnv)

	err := execute(NewStatusCommand(ta.App), "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown output format")
}

func TestFormatTimestamp(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		at   time.Time
		want string
	}{
		{now.Add(-10 * time.Second), "Just now"},
		{now.Add(-5 * time.Minute), "5 min ago"},
		{now.Add(-3 * time.Hour), "3 hr ago"},
		{now.Add(-72 * time.Hour), "3 days ago"},
		{time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), "2025-01-02"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatTimestamp(tt.at, now))
	}
}
