package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// sendMailHook allows tests to override SMTP sending behavior.
var sendMailHook = smtp.SendMail

// Email sends alerts via SMTP.
type Email struct {
	Host, User, Pass string
	Port             int
	From             string
	To               []string
}

// Name returns the backend name.
func (e *Email) Name() string { return "Email" }

// Send sends an email with the provided title and message via SMTP.
func (e *Email) Send(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := e.From
	if from == "" {
		from = e.User
	}
	var auth smtp.Auth
	if e.User != "" {
		auth = smtp.PlainAuth("", e.User, e.Pass, e.Host)
	}
	addr := fmt.Sprintf("%s:%d", e.Host, e.Port)
	header := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: [pushhand] %s\r\n\r\n",
		from,
		strings.Join(e.To, ","),
		title,
	)
	return sendMailHook(addr, auth, from, e.To, []byte(header+message))
}
