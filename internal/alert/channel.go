package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/slack-go/slack"

	"github.com/sells-group/compintel-cli/internal/model"
	"github.com/sells-group/compintel-cli/internal/resilience"
)

// Channel delivers one event notification to an external sink. Send returns
// a resilience.TransientError for failures worth retrying.
type Channel interface {
	Name() string
	Send(ctx context.Context, event model.Event, rule model.AlertRule) error
}

// notificationPayload is the JSON body posted to webhook sinks.
type notificationPayload struct {
	EventID    string    `json:"event_id"`
	RuleID     string    `json:"rule_id"`
	EntityID   string    `json:"entity_id"`
	FieldKey   string    `json:"field_key"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	Severity   string    `json:"severity"`
	DetectedAt time.Time `json:"detected_at"`
}

func payloadFor(event model.Event, rule model.AlertRule) notificationPayload {
	p := notificationPayload{
		EventID:    event.ID,
		RuleID:     rule.ID,
		EntityID:   event.EntityID,
		FieldKey:   event.FieldKey,
		Severity:   string(event.Severity),
		DetectedAt: event.DetectedAt,
	}
	if event.OldValue != nil {
		p.OldValue = event.OldValue.String()
	}
	if event.NewValue != nil {
		p.NewValue = event.NewValue.String()
	}
	return p
}

// WebhookChannel posts event payloads as JSON to a configured URL.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel. The client timeout is the
// per-attempt bound; the dispatcher adds the per-channel deadline on top.
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, event model.Event, rule model.AlertRule) error {
	body, err := json.Marshal(payloadFor(event, rule))
	if err != nil {
		return eris.Wrap(err, "webhook: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "webhook: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "webhook: post"), 0)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = eris.Errorf("webhook: status %d", resp.StatusCode)
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(err, resp.StatusCode)
	}
	return err
}

// slackPoster is the subset of the Slack client the channel uses; satisfied
// by *slack.Client and by test fakes.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackChannel posts event notifications to a Slack channel.
type SlackChannel struct {
	client    slackPoster
	channelID string
}

// NewSlackChannel creates a Slack channel from a bot token.
func NewSlackChannel(token, channelID string) *SlackChannel {
	return &SlackChannel{
		client:    slack.New(token),
		channelID: channelID,
	}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, event model.Event, rule model.AlertRule) error {
	old := "∅"
	if event.OldValue != nil {
		old = event.OldValue.String()
	}
	nu := "∅"
	if event.NewValue != nil {
		nu = event.NewValue.String()
	}

	text := fmt.Sprintf("[%s] %s.%s changed: %s → %s",
		event.Severity, event.EntityID, event.FieldKey, old, nu)

	_, _, err := s.client.PostMessageContext(ctx, s.channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionAttachments(slack.Attachment{
			Color: severityColor(event.Severity),
			Fields: []slack.AttachmentField{
				{Title: "Entity", Value: event.EntityID, Short: true},
				{Title: "Field", Value: event.FieldKey, Short: true},
				{Title: "Rule", Value: rule.ID, Short: true},
				{Title: "Detected", Value: event.DetectedAt.Format(time.RFC3339), Short: true},
			},
		}),
	)
	if err != nil {
		// Slack API errors are mostly rate limits and transport hiccups.
		return resilience.NewTransientError(eris.Wrap(err, "slack: post message"), 0)
	}
	return nil
}

func severityColor(s model.Severity) string {
	switch s {
	case model.SeverityHigh:
		return "danger"
	case model.SeverityMedium:
		return "warning"
	default:
		return "#439FE0"
	}
}
