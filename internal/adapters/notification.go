package adapters

import (
	"context"
	"fmt"

	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
)

// EmailMessage is one outbound mail.
type EmailMessage struct {
	To      []string
	CC      []string
	BCC     []string
	Subject string
	Body    string
	HTML    bool
}

// EmailSender delivers mail. Implemented by services.EmailNotifier.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// SlackPoster posts a message to a Slack channel via webhook.
type SlackPoster interface {
	Post(ctx context.Context, message string) error
}

// NotificationAdapter sends NOTIFICATION step messages over the configured
// channel. Transport failures are reported in the output rather than failing
// the step, so a broken SMTP server cannot sink a workflow.
type NotificationAdapter struct {
	email EmailSender
	slack SlackPoster
	log   *logging.Logger
}

func NewNotificationAdapter(email EmailSender, slack SlackPoster, log *logging.Logger) *NotificationAdapter {
	return &NotificationAdapter{email: email, slack: slack, log: log}
}

func (a *NotificationAdapter) Execute(ctx context.Context, req Request) (Result, error) {
	channel, _ := req.Config["type"].(string)
	if channel == "" {
		channel = "log"
	}
	message, _ := req.Config["message"].(string)
	message = interpolate(message, req.Variables)

	var sendErr error
	switch channel {
	case "log":
		a.log.Info("notification", "message", message)
	case "email":
		if a.email == nil {
			sendErr = fmt.Errorf("email notifications are not configured")
			break
		}
		msg := EmailMessage{
			To:      toStringSlice(req.Config["to"]),
			CC:      toStringSlice(req.Config["cc"]),
			BCC:     toStringSlice(req.Config["bcc"]),
			Subject: interpolate(stringOr(req.Config["subject"], "Workflow notification"), req.Variables),
			Body:    message,
		}
		if html, _ := req.Config["html"].(bool); html {
			msg.HTML = true
		}
		if len(msg.To) == 0 {
			sendErr = fmt.Errorf("email notification requires recipients")
		} else {
			sendErr = a.email.Send(ctx, msg)
		}
	case "slack":
		if a.slack == nil {
			sendErr = fmt.Errorf("slack notifications are not configured")
			break
		}
		sendErr = a.slack.Post(ctx, message)
	default:
		sendErr = fmt.Errorf("unknown notification channel %q", channel)
	}

	output := map[string]interface{}{
		"message":           message,
		"channel":           channel,
		"notification_sent": sendErr == nil,
	}
	if sendErr != nil {
		a.log.Warn("notification delivery failed", "channel", channel, "error", sendErr)
		output["error"] = sendErr.Error()
	}
	return Result{Output: output}, nil
}

func toStringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}

func stringOr(v interface{}, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}
