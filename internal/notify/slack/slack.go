// Package slack pushes triage alerts to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/medevac/internal/triage"
)

const httpTimeout = 10 * time.Second

// Notifier sends raised alerts to a Slack webhook. Implements
// triage.Notifier.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a
// no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Notify posts an alert to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Notify(ctx context.Context, c *triage.Casualty, a *triage.Alert) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(c, a)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(c *triage.Casualty, a *triage.Alert) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(a),
			{"type": "divider"},
			fieldsBlock(c, a),
			{"type": "divider"},
			contextBlock(a),
		},
	}
}

func headerBlock(a *triage.Alert) map[string]any {
	text := fmt.Sprintf("%s %s", kindEmoji(a.Kind), a.Message)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(c *triage.Casualty, a *triage.Alert) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Casualty:* %s %s", c.GivenName, c.FamilyName),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Unit:* %s", c.Unit),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %s", a.Detail.Severity),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*SpO2 / HR:* %d%% / %d bpm", a.Detail.SpO2, a.Detail.HeartRate),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Position:* %.6f, %.6f", a.Detail.Latitude, a.Detail.Longitude),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Device:* %s", c.DevEUI),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func contextBlock(a *triage.Alert) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("medevac • alert %s • %s", a.ID, a.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func kindEmoji(kind triage.AlertKind) string {
	switch kind {
	case triage.AlertCriticalState, triage.AlertCriticalDuration:
		return "\U0001f534" // red circle
	case triage.AlertNewCasualty:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}
