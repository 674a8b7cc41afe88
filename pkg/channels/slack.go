package channels

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/praetor-io/watchtower/pkg/alerts"
)

// SlackHandler posts alerts to one Slack channel.
type SlackHandler struct {
	client    *slack.Client
	channelID string
}

// NewSlackHandler builds a handler from a bot token and channel id.
func NewSlackHandler(botToken, channelID string) *SlackHandler {
	return &SlackHandler{
		client:    slack.New(botToken),
		channelID: channelID,
	}
}

// Name implements Handler.
func (h *SlackHandler) Name() string {
	return "slack"
}

// Dispatch implements Handler.
func (h *SlackHandler) Dispatch(ctx context.Context, alert alerts.Alert) error {
	attachment := slack.Attachment{
		Color: severityColor(alert.Severity),
		Title: fmt.Sprintf("%s | %s", alert.Severity, alert.AlertCode.Name),
		Text:  alert.Message,
		Fields: []slack.AttachmentField{
			{Title: "Chain", Value: alert.ParentID, Short: true},
			{Title: "Entity", Value: alert.OriginID, Short: true},
		},
	}
	_, _, err := h.client.PostMessageContext(ctx, h.channelID,
		slack.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("posting to slack channel %s: %w", h.channelID, err)
	}
	return nil
}

func severityColor(severity alerts.Severity) string {
	switch severity {
	case alerts.Critical:
		return "#ff0000"
	case alerts.Error:
		return "#ff7700"
	case alerts.Warning:
		return "#ffcc00"
	default:
		return "#36a64f"
	}
}
