// Package notify delivers operator email. The implementation is picked
// from configuration: real SMTP in production, the log in debug mode or
// whenever the delivery settings are incomplete.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"vivarium/internal/platform/config"
)

var (
	// ErrInvalidEmailConfig is returned by GetMailer in strict mode
	// when the delivery settings are incomplete.
	ErrInvalidEmailConfig = errors.New("invalid email configuration")
	// ErrDeliveryFailed wraps every transport failure: the message
	// could not be relayed.
	ErrDeliveryFailed = errors.New("message could not be relayed")
)

// smtpTimeout bounds connecting to the relay so a hung SMTP server
// cannot stall the caller.
const smtpTimeout = 8 * time.Second

// Mailer relays one message to a list of recipients.
type Mailer interface {
	Send(ctx context.Context, subject, sender string, recipients []string, body string) error
}

// EmailConfig is the subset of configuration SMTP delivery needs.
type EmailConfig struct {
	Host           string
	Username       string
	Password       string
	ContactAddress string
	SenderAddress  string
}

func EmailConfigFrom(cfg config.Config) EmailConfig {
	return EmailConfig{
		Host:           cfg.SMTPHost,
		Username:       cfg.SMTPUsername,
		Password:       cfg.SMTPPassword,
		ContactAddress: cfg.ContactEmailOnError,
		SenderAddress:  cfg.SenderEmailAddress,
	}
}

// Validate reports which delivery settings are missing or still hold
// the scaffold placeholder, listed in sorted order.
func (c EmailConfig) Validate() error {
	var missing []string
	check := func(key, value string) {
		if value == "" || value == config.Placeholder {
			missing = append(missing, key)
		}
	}
	check("smtp_host", c.Host)
	check("smtp_username", c.Username)
	check("smtp_password", c.Password)
	check("contact_email_on_error", c.ContactAddress)
	check("sender_email_address", c.SenderAddress)

	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("missing or invalid config values: %s", strings.Join(missing, ", "))
}

// SMTPMailer relays mail over SMTP with STARTTLS. It never retries; a
// failed relay surfaces as ErrDeliveryFailed and the caller decides
// what to do next.
type SMTPMailer struct {
	host     string
	username string
	password string
	send     func(ctx context.Context, msg *mail.Msg) error
	logger   *slog.Logger
}

func NewSMTPMailer(settings EmailConfig, logger *slog.Logger) *SMTPMailer {
	m := &SMTPMailer{
		host:     settings.Host,
		username: settings.Username,
		password: settings.Password,
		logger:   resolveLogger(logger),
	}
	m.send = m.dialAndSend
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, subject, sender string, recipients []string, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(sender); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	if err := msg.To(recipients...); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := m.send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	m.logger.Debug("email relayed",
		"event", "notify_email_relayed",
		"module", "internal/platform/notify",
		"layer", "platform",
		"subject", subject,
	)
	return nil
}

func (m *SMTPMailer) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(m.host,
		mail.WithTimeout(smtpTimeout),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.username),
		mail.WithPassword(m.password),
	)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// LoggingMailer records messages in the log instead of delivering
// them.
type LoggingMailer struct {
	logger *slog.Logger
}

func NewLoggingMailer(logger *slog.Logger) *LoggingMailer {
	return &LoggingMailer{logger: resolveLogger(logger)}
}

func (m *LoggingMailer) Send(_ context.Context, subject, sender string, recipients []string, body string) error {
	m.logger.Info("email logged instead of sent",
		"event", "notify_email_logged",
		"module", "internal/platform/notify",
		"layer", "platform",
		"subject", subject,
		"sender", sender,
		"recipients", strings.Join(recipients, ", "),
		"body", body,
	)
	return nil
}

// GetMailer selects the delivery implementation for the current
// configuration. Debug mode always logs. Incomplete delivery settings
// log too, with the reason recorded, unless strict is set, in which
// case they are an error.
func GetMailer(cfg config.Config, strict bool, logger *slog.Logger) (Mailer, error) {
	logger = resolveLogger(logger)

	if cfg.IsDebug() {
		return NewLoggingMailer(logger), nil
	}

	settings := EmailConfigFrom(cfg)
	if err := settings.Validate(); err != nil {
		if strict {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEmailConfig, err)
		}
		logger.Info("will log errors instead of emailing them",
			"event", "notify_mailer_fallback",
			"module", "internal/platform/notify",
			"layer", "platform",
			"reason", err.Error(),
		)
		return NewLoggingMailer(logger), nil
	}
	return NewSMTPMailer(settings, logger), nil
}

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
