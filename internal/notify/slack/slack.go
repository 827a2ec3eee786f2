// Package slack posts resolution flow outcomes to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseinv/internal/triage"
)

const (
	maxNarrativeLen = 3000
	httpTimeout     = 10 * time.Second
)

// Notifier sends flow outcomes to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Send posts a finished flow to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, flow *triage.Flow) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(flow))
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

	n.logger.Info(ctx, "slack notification sent", "flow_id", flow.ID, "status", flow.Status)
	return nil
}

func buildMessage(f *triage.Flow) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(f),
			{"type": "divider"},
			fieldsBlock(f),
			{"type": "divider"},
			narrativeBlock(f),
			progressBlock(f),
			contextBlock(f),
		},
	}
}

func headerBlock(f *triage.Flow) map[string]any {
	subject := f.Rule
	if subject == "" {
		subject = "Case assignment"
	}
	text := fmt.Sprintf("%s %s: %s", statusEmoji(f.Status), statusTitle(f.Status), subject)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(f *triage.Flow) map[string]any {
	target := f.TargetStatus
	if target == "" {
		target = "unchanged"
	}
	client := f.ClientID
	if client == "" {
		client = "n/a"
	}

	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Action:* %s", f.Action)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Status:* %s", f.Status)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Client:* %s", client)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Case status:* %s", target)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Duration:* %.1fs", f.Duration)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Client notified:* %s", yesNo(f.Notify && f.Status == triage.StatusDone))},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func narrativeBlock(f *triage.Flow) map[string]any {
	text := truncate(f.Narrative, maxNarrativeLen)
	if text == "" {
		text = "_No narrative written._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Narrative*\n\n%s", text),
		},
	}
}

// progressBlock lists the completed steps and, for aborted flows, where the
// flow stopped.
func progressBlock(f *triage.Flow) map[string]any {
	var b strings.Builder
	b.WriteString("*Steps*\n")
	if len(f.Steps) == 0 {
		b.WriteString("_none_")
	}
	for _, s := range f.Steps {
		fmt.Fprintf(&b, "• %s\n", s)
	}
	if f.Status == triage.StatusAborted && f.Error != "" {
		fmt.Fprintf(&b, "\n*Stopped at* `%s`: %s", f.Stage, f.Error)
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": strings.TrimRight(b.String(), "\n"),
		},
	}
}

func contextBlock(f *triage.Flow) map[string]any {
	ts := f.CompletedAt
	if ts.IsZero() {
		ts = f.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("caseinv • flow %s • %s", f.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func statusEmoji(status triage.Status) string {
	switch status {
	case triage.StatusAborted:
		return "\U0001f534" // red circle
	case triage.StatusAwaitingManualSave:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func statusTitle(status triage.Status) string {
	switch status {
	case triage.StatusAborted:
		return "Resolution Stopped"
	case triage.StatusAwaitingManualSave:
		return "Awaiting Manual Save"
	default:
		return "Resolution Complete"
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
