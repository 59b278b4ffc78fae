package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func partialEvent() Event {
	return Event{
		Type:         EventRotationPartial,
		Deployment:   "prod",
		Timestamp:    time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
		Class:        "password",
		Updated:      []string{"database-role:postgres"},
		NotUpdated:   []string{"database-role:authenticator", "config:.env"},
		RecoveryPath: "/srv/.rekey/recovery/password.20260601T080000Z.env",
		User:         "ops",
		Error:        "partial password rotation failure",
	}
}

func TestNewWebhookNotifier_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     WebhookConfig
		wantErr string
	}{
		{name: "valid", cfg: WebhookConfig{URL: "https://hooks.example.com/rekey"}},
		{name: "missing URL", cfg: WebhookConfig{}, wantErr: "invalid webhook URL"},
		{name: "relative URL", cfg: WebhookConfig{URL: "/hooks"}, wantErr: "invalid webhook URL"},
		{name: "GET not allowed", cfg: WebhookConfig{URL: "https://h.example.com", Method: "get"}, wantErr: "invalid webhook method GET"},
		{name: "unknown backoff", cfg: WebhookConfig{URL: "https://h.example.com", Backoff: "random"}, wantErr: "invalid backoff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewWebhookNotifier(tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWebhookNotifier_Name(t *testing.T) {
	t.Parallel()

	named, err := NewWebhookNotifier(WebhookConfig{Name: "ops", URL: "https://h.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "webhook:ops", named.Name())

	plain, err := NewWebhookNotifier(WebhookConfig{URL: "https://h.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "webhook", plain.Name())
}

func TestWebhookNotifier_SupportsEvent(t *testing.T) {
	t.Parallel()

	all, err := NewWebhookNotifier(WebhookConfig{URL: "https://h.example.com"})
	require.NoError(t, err)
	for _, et := range AllEventTypes() {
		assert.True(t, all.SupportsEvent(et), et)
	}

	driftOnly, err := NewWebhookNotifier(WebhookConfig{URL: "https://h.example.com", Events: []string{"drift_detected"}})
	require.NoError(t, err)
	assert.True(t, driftOnly.SupportsEvent(EventDriftDetected))
	assert.False(t, driftOnly.SupportsEvent(EventRotationCompleted))
}

func TestWebhookNotifier_Send(t *testing.T) {
	t.Parallel()

	var (
		got    map[string]interface{}
		header string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		header = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{
		URL:     srv.URL,
		Method:  "put",
		Headers: map[string]string{"Authorization": "Bearer hook-token"},
	})
	require.NoError(t, err)
	require.NoError(t, n.Send(context.Background(), partialEvent()))

	assert.Equal(t, "Bearer hook-token", header)
	assert.Equal(t, "rotation_partial", got["event"])
	assert.Equal(t, "prod", got["deployment"])
	assert.Equal(t, "password", got["class"])
	assert.Equal(t, "2026-06-01T08:00:00Z", got["timestamp"])
	assert.Equal(t, []interface{}{"database-role:postgres"}, got["updated"])
	assert.Equal(t, []interface{}{"database-role:authenticator", "config:.env"}, got["not_updated"])
	assert.Contains(t, got["recovery_file"], "recovery/password.")
}

func TestWebhookNotifier_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, MaxAttempts: 3, InitialWait: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, n.Send(context.Background(), partialEvent()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifier_GivesUp(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, MaxAttempts: 2, Backoff: BackoffFixed, InitialWait: time.Millisecond})
	require.NoError(t, err)

	err = n.Send(context.Background(), partialEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Contains(t, err.Error(), "status 500")
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhookNotifier_StopsRetryingOnCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, MaxAttempts: 5, InitialWait: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, n.Send(ctx, partialEvent()), context.DeadlineExceeded)
}

func TestWebhookNotifier_Backoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		backoff string
		want    []time.Duration
	}{
		{BackoffFixed, []time.Duration{time.Second, time.Second, time.Second}},
		{BackoffLinear, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}},
		{BackoffExponential, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
	}
	for _, tt := range tests {
		n, err := NewWebhookNotifier(WebhookConfig{URL: "https://h.example.com", Backoff: tt.backoff})
		require.NoError(t, err)
		for i, want := range tt.want {
			assert.Equal(t, want, n.backoff(i+1), "%s attempt %d", tt.backoff, i+1)
		}
	}
}
