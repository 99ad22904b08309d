// Package mailer delivers password-reset codes.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"memorybox/config"
	"memorybox/utils"

	"go.uber.org/zap"
)

// ErrSendFailure wraps every delivery error.
var ErrSendFailure = errors.New("failed to send reset code")

// Subject is the subject line of reset emails.
const Subject = "Your MemoryBox password reset code"

// Message is one reset-code delivery.
type Message struct {
	To          string
	Code        string
	DisplayName string
	TTL         time.Duration // Validity rendered into the body
}

// Mailer sends reset codes. Send returns a transport-specific reference for
// the delivery.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
	Close() error
}

// DefaultTemplate is the plain-text body of reset emails.
const DefaultTemplate = `Hi {{.Name}},

Someone asked to reset the password of your MemoryBox account.
Use this code to continue:

{{.Code}}

The code is valid for {{printf "%.f" .TTL.Minutes}} minutes.

If you did not request a reset, you can ignore this email.


The MemoryBox team
`

var bodyTemplate = template.Must(template.New("reset").Parse(DefaultTemplate))

type templateParams struct {
	Name string
	Code string
	TTL  time.Duration
}

// RenderBody executes the body template for msg. An empty display name
// falls back to the recipient address.
func RenderBody(msg Message) (string, error) {
	name := strings.TrimSpace(msg.DisplayName)
	if name == "" {
		name = msg.To
	}
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, templateParams{Name: name, Code: msg.Code, TTL: msg.TTL}); err != nil {
		return "", fmt.Errorf("%w: render body: %w", ErrSendFailure, err)
	}
	return buf.String(), nil
}

func sendFailure(transport string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSendFailure, transport, err)
}

// --- Factory ---

// New builds the mailer selected by cfg.MailerBackend, instrumented with
// metrics and logging.
func New(cfg *config.Config, logger *zap.Logger, metrics *utils.Metrics) (Mailer, error) {
	var (
		m   Mailer
		err error
	)
	switch cfg.MailerBackend {
	case "", "log":
		m = NewLogMailer(logger)
	case "smtp":
		m = NewSMTPMailer(SMTPOptions{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	case "kafka":
		m, err = NewKafkaMailer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	default:
		err = fmt.Errorf("unknown mailer backend %q", cfg.MailerBackend)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(m, transportName(cfg.MailerBackend), metrics, logger), nil
}

func transportName(backend string) string {
	if backend == "" {
		return "log"
	}
	return backend
}

type instrumented struct {
	next      Mailer
	transport string
	metrics   *utils.Metrics
	logger    *zap.Logger
}

// Instrument wraps m so every send is counted by transport and logged.
func Instrument(m Mailer, transport string, metrics *utils.Metrics, logger *zap.Logger) Mailer {
	if metrics == nil {
		metrics = utils.NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &instrumented{next: m, transport: transport, metrics: metrics, logger: logger}
}

func (i *instrumented) Send(ctx context.Context, msg Message) (string, error) {
	ref, err := i.next.Send(ctx, msg)
	i.metrics.MailSends.WithLabelValues(i.transport, utils.Result(err)).Inc()
	if err != nil {
		i.logger.Error("reset code delivery failed",
			zap.String("transport", i.transport), zap.String("to", utils.MaskEmail(msg.To)), zap.Error(err))
		return "", err
	}
	i.logger.Info("reset code delivered",
		zap.String("transport", i.transport), zap.String("to", utils.MaskEmail(msg.To)), zap.String("ref", ref))
	return ref, nil
}

func (i *instrumented) Close() error { return i.next.Close() }
