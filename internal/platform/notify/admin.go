package notify

import (
	"context"
	"log/slog"

	"vivarium/internal/platform/config"
)

// AdminNotifier tells the experiment operator something needs their
// attention.
type AdminNotifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// EmailAdminNotifier mails the operator, sender and recipient taken
// from configuration.
type EmailAdminNotifier struct {
	mailer Mailer
	from   string
	to     string
}

func (n *EmailAdminNotifier) Notify(ctx context.Context, subject, body string) error {
	return n.mailer.Send(ctx, subject, n.from, []string{n.to}, body)
}

// LogAdminNotifier records the notification in the log instead.
type LogAdminNotifier struct {
	logger *slog.Logger
}

func (n *LogAdminNotifier) Notify(_ context.Context, subject, body string) error {
	n.logger.Info("admin notification",
		"event", "notify_admin_logged",
		"module", "internal/platform/notify",
		"layer", "platform",
		"subject", subject,
		"body", body,
	)
	return nil
}

// NewAdminNotifier selects the notifier the way GetMailer selects the
// mailer: debug mode and incomplete settings log, anything else mails.
func NewAdminNotifier(cfg config.Config, logger *slog.Logger) AdminNotifier {
	logger = resolveLogger(logger)

	if cfg.IsDebug() {
		return &LogAdminNotifier{logger: logger}
	}

	settings := EmailConfigFrom(cfg)
	if err := settings.Validate(); err != nil {
		logger.Info("will log admin notifications instead of emailing them",
			"event", "notify_admin_fallback",
			"module", "internal/platform/notify",
			"layer", "platform",
			"reason", err.Error(),
		)
		return &LogAdminNotifier{logger: logger}
	}

	return &EmailAdminNotifier{
		mailer: NewSMTPMailer(settings, logger),
		from:   settings.SenderAddress,
		to:     settings.ContactAddress,
	}
}
