package notify

import (
	"fmt"
	"os"
	"time"

	"github.com/systmms/rekey/internal/config"
	"github.com/systmms/rekey/internal/logging"
	"github.com/systmms/rekey/internal/metrics"
)

// FromConfig builds the dispatcher for the notify section of rekey.yaml.
// deployment is used when the section does not name the deployment.
func FromConfig(cfg config.NotifyConfig, deployment string, logger *logging.Logger, m *metrics.Metrics) (*Dispatcher, error) {
	if cfg.Deployment != "" {
		deployment = cfg.Deployment
	}

	var notifiers []Notifier
	for i, wh := range cfg.Webhooks {
		wc := WebhookConfig{
			Name:    wh.Name,
			URL:     os.ExpandEnv(wh.URL),
			Method:  wh.Method,
			Events:  wh.Events,
			Timeout: time.Duration(wh.TimeoutMs) * time.Millisecond,
		}
		if len(wh.Headers) > 0 {
			wc.Headers = make(map[string]string, len(wh.Headers))
			for k, v := range wh.Headers {
				wc.Headers[k] = os.ExpandEnv(v)
			}
		}
		if wh.Retry != nil {
			wc.MaxAttempts = wh.Retry.MaxAttempts
			wc.Backoff = wh.Retry.Backoff
		}
		n, err := NewWebhookNotifier(wc)
		if err != nil {
			return nil, fmt.Errorf("notify.webhooks[%d]: %w", i, err)
		}
		notifiers = append(notifiers, n)
	}

	if cfg.Slack != nil {
		n, err := NewSlackNotifier(SlackConfig{
			WebhookURL: os.ExpandEnv(cfg.Slack.WebhookURL),
			Channel:    cfg.Slack.Channel,
			Events:     cfg.Slack.Events,
			Mentions:   cfg.Slack.Mentions,
		})
		if err != nil {
			return nil, fmt.Errorf("notify.slack: %w", err)
		}
		notifiers = append(notifiers, n)
	}

	return NewDispatcher(deployment, logger, m, notifiers...), nil
}
