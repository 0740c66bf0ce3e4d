package services

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/kimjoonhwaan/metaworkflow/internal/adapters"
)

// EmailNotifier delivers notification step mail over SMTP.
type EmailNotifier struct {
	host     string
	port     int
	username string
	password string
	from     string
}

func NewEmailNotifier(host string, port int, username, password, from string) *EmailNotifier {
	return &EmailNotifier{host: host, port: port, username: username, password: password, from: from}
}

func (n *EmailNotifier) Send(ctx context.Context, msg adapters.EmailMessage) error {
	if n.host == "" {
		return fmt.Errorf("smtp host is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", n.from)
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(msg.To, ", "))
	if len(msg.CC) > 0 {
		fmt.Fprintf(&sb, "Cc: %s\r\n", strings.Join(msg.CC, ", "))
	}
	fmt.Fprintf(&sb, "Subject: %s\r\n", msg.Subject)
	sb.WriteString("MIME-Version: 1.0\r\n")
	if msg.HTML {
		sb.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	} else {
		sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	}
	sb.WriteString("\r\n")
	sb.WriteString(msg.Body)

	// BCC recipients go on the envelope only.
	recipients := make([]string, 0, len(msg.To)+len(msg.CC)+len(msg.BCC))
	recipients = append(recipients, msg.To...)
	recipients = append(recipients, msg.CC...)
	recipients = append(recipients, msg.BCC...)

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}
	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	if err := smtp.SendMail(addr, auth, n.from, recipients, []byte(sb.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
