package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Backoff strategies between webhook attempts.
const (
	BackoffFixed       = "fixed"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	Name    string
	URL     string
	Method  string
	Headers map[string]string
	// Events limits which event types are sent; empty sends all.
	Events []string

	MaxAttempts int
	Backoff     string
	InitialWait time.Duration
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

// WebhookNotifier posts a JSON document per event.
type WebhookNotifier struct {
	config WebhookConfig
	client *http.Client
}

// NewWebhookNotifier applies defaults and validates the config.
func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff == "" {
		cfg.Backoff = BackoffExponential
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = time.Second
	}

	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid webhook URL %q", cfg.URL)
	}
	switch cfg.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil, fmt.Errorf("invalid webhook method %s (must be POST, PUT or PATCH)", cfg.Method)
	}
	switch cfg.Backoff {
	case BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		return nil, fmt.Errorf("invalid backoff strategy %q", cfg.Backoff)
	}

	return &WebhookNotifier{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name implements Notifier.
func (w *WebhookNotifier) Name() string {
	if w.config.Name != "" {
		return "webhook:" + w.config.Name
	}
	return "webhook"
}

// SupportsEvent implements Notifier.
func (w *WebhookNotifier) SupportsEvent(t EventType) bool {
	return supports(w.config.Events, t)
}

// Send implements Notifier. Non-2xx responses and transport errors are
// retried up to MaxAttempts.
func (w *WebhookNotifier) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(webhookPayload(ev))
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= w.config.MaxAttempts; attempt++ {
		if lastErr = w.post(ctx, body); lastErr == nil {
			return nil
		}
		if attempt == w.config.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.backoff(attempt)):
		}
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", w.config.MaxAttempts, lastErr)
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, w.config.Method, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (w *WebhookNotifier) backoff(attempt int) time.Duration {
	initial := w.config.InitialWait
	switch w.config.Backoff {
	case BackoffLinear:
		return initial * time.Duration(attempt)
	case BackoffExponential:
		return initial * time.Duration(1<<(attempt-1))
	default:
		return initial
	}
}

func webhookPayload(ev Event) map[string]interface{} {
	payload := map[string]interface{}{
		"event":      string(ev.Type),
		"deployment": ev.Deployment,
		"timestamp":  ev.Timestamp.Format(time.RFC3339),
	}
	if ev.Class != "" {
		payload["class"] = ev.Class
		payload["epoch"] = ev.Epoch
		payload["updated"] = nonNil(ev.Updated)
		payload["not_updated"] = nonNil(ev.NotUpdated)
	}
	if ev.RecoveryPath != "" {
		payload["recovery_file"] = ev.RecoveryPath
	}
	if ev.User != "" {
		payload["user"] = ev.User
	}
	if ev.Duration > 0 {
		payload["duration_seconds"] = ev.Duration.Seconds()
	}
	if len(ev.Invariants) > 0 {
		payload["invariants"] = ev.Invariants
		payload["details"] = ev.Details
	}
	if ev.Error != "" {
		payload["error"] = ev.Error
	}
	return payload
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
