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

// SlackConfig configures a SlackNotifier.
type SlackConfig struct {
	WebhookURL string
	Channel    string
	Events     []string
	// Mentions are added to events that need attention, e.g. "<@U024BE7LH>".
	Mentions []string
}

// SlackNotifier posts Block Kit messages to an incoming webhook.
type SlackNotifier struct {
	config SlackConfig
	client *http.Client
}

// NewSlackNotifier validates the config.
func NewSlackNotifier(cfg SlackConfig) (*SlackNotifier, error) {
	parsed, err := url.Parse(cfg.WebhookURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid Slack webhook URL")
	}
	return &SlackNotifier{
		config: cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Name implements Notifier.
func (s *SlackNotifier) Name() string {
	return "slack"
}

// SupportsEvent implements Notifier.
func (s *SlackNotifier) SupportsEvent(t EventType) bool {
	return supports(s.config.Events, t)
}

// Send implements Notifier.
func (s *SlackNotifier) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(s.buildMessage(ev))
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *SlackNotifier) buildMessage(ev Event) map[string]interface{} {
	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{
				"type":  "plain_text",
				"text":  eventEmoji(ev.Type) + " " + eventTitle(ev),
				"emoji": true,
			},
		},
	}

	fields := []map[string]interface{}{mrkdwn("*Deployment:*\n" + ev.Deployment)}
	if ev.Class != "" {
		fields = append(fields, mrkdwn(fmt.Sprintf("*Epoch:*\n%d", ev.Epoch)))
	}
	if ev.User != "" {
		fields = append(fields, mrkdwn("*By:*\n"+ev.User))
	}
	if ev.Duration > 0 {
		fields = append(fields, mrkdwn(fmt.Sprintf("*Duration:*\n%s", ev.Duration.Round(time.Millisecond))))
	}
	blocks = append(blocks, map[string]interface{}{"type": "section", "fields": fields})

	if ev.Failure() && ev.Class != "" {
		text := fmt.Sprintf("*Updated:* %s\n*Not updated:* %s", listOrNone(ev.Updated), listOrNone(ev.NotUpdated))
		if ev.RecoveryPath != "" {
			text += fmt.Sprintf("\n*New values saved to:* `%s`", ev.RecoveryPath)
		}
		blocks = append(blocks, section(text))
	}
	if len(ev.Invariants) > 0 {
		var lines []string
		for i, inv := range ev.Invariants {
			line := "• " + inv
			if i < len(ev.Details) {
				line += ": " + ev.Details[i]
			}
			lines = append(lines, line)
		}
		blocks = append(blocks, section(strings.Join(lines, "\n")))
	}
	if ev.Failure() && len(s.config.Mentions) > 0 {
		blocks = append(blocks, section("*Attention:* "+strings.Join(s.config.Mentions, " ")))
	}

	blocks = append(blocks, map[string]interface{}{
		"type": "context",
		"elements": []map[string]interface{}{
			mrkdwn(fmt.Sprintf("<!date^%d^{date_short_pretty} at {time}|%s>",
				ev.Timestamp.Unix(), ev.Timestamp.Format(time.RFC3339))),
		},
	})

	message := map[string]interface{}{"blocks": blocks}
	if s.config.Channel != "" {
		message["channel"] = s.config.Channel
	}
	return message
}

func mrkdwn(text string) map[string]interface{} {
	return map[string]interface{}{"type": "mrkdwn", "text": text}
}

func section(text string) map[string]interface{} {
	return map[string]interface{}{"type": "section", "text": mrkdwn(text)}
}

func eventEmoji(t EventType) string {
	switch t {
	case EventRotationCompleted:
		return ":white_check_mark:"
	case EventRotationPartial:
		return ":warning:"
	case EventRotationFailed:
		return ":x:"
	case EventDriftDetected:
		return ":rotating_light:"
	default:
		return ":bell:"
	}
}

func eventTitle(ev Event) string {
	switch ev.Type {
	case EventRotationCompleted:
		return fmt.Sprintf("Rotated %s", ev.Class)
	case EventRotationPartial:
		return fmt.Sprintf("Partial %s rotation", ev.Class)
	case EventRotationFailed:
		return fmt.Sprintf("%s rotation failed", ev.Class)
	case EventDriftDetected:
		return "Secret drift detected"
	default:
		return "rekey event"
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
