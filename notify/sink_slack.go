package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/slack-go/slack"
)

// SlackSink posts a short summary of each event to a Slack "incoming webhook".
//
// The incoming webhook must already be configured in the slack workspace.
type SlackSink struct {
	webhookURL string
	client     *http.Client
}

func NewSlackSink(webhookURL string) (*SlackSink, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack webhook url is empty")
	}
	return &SlackSink{
		webhookURL: webhookURL,
		client:     cleanhttp.DefaultPooledClient(),
	}, nil
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Deliver(ctx context.Context, ev *Event) error {
	msg := &slack.WebhookMessage{Text: slackText(ev)}
	return slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.client, msg)
}

func (s *SlackSink) Close(context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

func slackText(ev *Event) string {
	var b strings.Builder
	switch ev.Type {
	case EventChildSafety:
		b.WriteString("🚨 Child Safety Escalation 🚨\n")
	case EventHighRisk:
		b.WriteString("⚠️ High Risk Content ⚠️\n")
	case EventEscalation:
		b.WriteString("Escalation Update\n")
	case EventReview:
		b.WriteString("Review Recorded\n")
	default:
		fmt.Fprintf(&b, "%s\n", ev.Type)
	}
	fmt.Fprintf(&b, "content: `%s`\n", ev.ContentID)
	if ev.Priority != "" {
		fmt.Fprintf(&b, "priority: `%s`\n", ev.Priority)
	}
	if ev.RiskScore != nil {
		fmt.Fprintf(&b, "risk score: `%d`\n", *ev.RiskScore)
	}
	if ev.Action != "" {
		fmt.Fprintf(&b, "action: %s (%s)\n", ev.Action, ev.Queue)
	}
	if ev.AuditHash != "" {
		fmt.Fprintf(&b, "audit: `%s`\n", ev.AuditHash)
	}
	return b.String()
}
