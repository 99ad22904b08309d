package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SMTPOptions configures an SMTPMailer. Username enables PLAIN auth.
type SMTPOptions struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPMailer relays reset emails through an SMTP server.
type SMTPMailer struct {
	opts     SMTPOptions
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now      func() time.Time
}

func NewSMTPMailer(opts SMTPOptions) *SMTPMailer {
	if opts.Port == "" {
		opts.Port = "25"
	}
	return &SMTPMailer{opts: opts, sendMail: smtp.SendMail, now: time.Now}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", sendFailure("smtp", err)
	}
	if strings.ContainsAny(msg.To, "\r\n") {
		return "", sendFailure("smtp", fmt.Errorf("invalid recipient %q", msg.To))
	}
	body, err := RenderBody(msg)
	if err != nil {
		return "", err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), m.opts.Host)
	raw := m.compose(msg.To, messageID, body)

	var auth smtp.Auth
	if m.opts.Username != "" {
		auth = smtp.PlainAuth("", m.opts.Username, m.opts.Password, m.opts.Host)
	}
	addr := net.JoinHostPort(m.opts.Host, m.opts.Port)
	if err := m.sendMail(addr, auth, m.opts.From, []string{msg.To}, raw); err != nil {
		return "", sendFailure("smtp", err)
	}
	return messageID, nil
}

func (m *SMTPMailer) compose(to, messageID, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.opts.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", Subject)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

func (m *SMTPMailer) Close() error { return nil }
