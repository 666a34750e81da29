// Package smtp delivers campaign messages through the configured relay.
package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/beacon/internal/campaign"
	"github.com/foxzi/beacon/internal/dkim"
	"github.com/foxzi/beacon/internal/email"
	"github.com/foxzi/beacon/internal/metrics"
)

// SettingsSource provides the active relay settings
type SettingsSource interface {
	SMTPSettings(ctx context.Context) (*campaign.SMTPSettings, error)
}

// Sender delivers a rendered message to the relay
type Sender interface {
	Send(ctx context.Context, settings *campaign.SMTPSettings, from string, to []string, data []byte) error
}

// Mailer builds, signs and sends campaign messages. Settings are read from
// the store on every send so updates apply without a restart.
type Mailer struct {
	settings SettingsSource
	sender   Sender
	signer   *dkim.Signer
	hostname string
	logger   *slog.Logger
	now      func() time.Time
}

// NewMailer creates a mailer; hostname is used for Message-ID when the sender has no domain
func NewMailer(settings SettingsSource, sender Sender, hostname string, logger *slog.Logger) *Mailer {
	return &Mailer{
		settings: settings,
		sender:   sender,
		hostname: hostname,
		logger:   logger,
		now:      time.Now,
	}
}

// SetDKIMSigner enables DKIM signing of outgoing messages
func (m *Mailer) SetDKIMSigner(signer *dkim.Signer) {
	m.signer = signer
}

// Settings returns the configured relay settings or ErrConfigurationMissing
func (m *Mailer) Settings(ctx context.Context) (*campaign.SMTPSettings, error) {
	s, err := m.settings.SMTPSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load smtp settings: %w", err)
	}
	if s == nil || !s.Configured() {
		return nil, ErrConfigurationMissing
	}
	return s, nil
}

// Ready reports whether messages can be sent at all
func (m *Mailer) Ready(ctx context.Context) error {
	_, err := m.Settings(ctx)
	return err
}

// SendMail sends one HTML message. It fails with ErrInvalidAddress,
// ErrConfigurationMissing or a *DeliveryError and never retries.
func (m *Mailer) SendMail(ctx context.Context, to, subject, html string) error {
	domain := email.ExtractDomainOrDefault(to, "unknown")

	err := m.sendMail(ctx, to, subject, html)
	if err != nil {
		metrics.IncMessagesFailed(domain, ErrorType(err))
		return err
	}
	metrics.IncMessagesSent(domain)
	return nil
}

func (m *Mailer) sendMail(ctx context.Context, to, subject, html string) error {
	if !email.IsValid(to) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, to)
	}

	settings, err := m.Settings(ctx)
	if err != nil {
		return err
	}

	data, err := m.build(settings, to, subject, html)
	if err != nil {
		return err
	}

	return m.sender.Send(ctx, settings, settings.User, []string{to}, data)
}

// build renders and optionally signs the message
func (m *Mailer) build(settings *campaign.SMTPSettings, to, subject, html string) ([]byte, error) {
	fromName := settings.SenderName
	if fromName == "" {
		fromName = settings.User
	}

	msg := &Message{
		From:      mail.Address{Name: fromName, Address: settings.User},
		ReplyTo:   settings.ReplyTo,
		To:        to,
		Subject:   subject,
		HTML:      html,
		MessageID: fmt.Sprintf("<%s@%s>", uuid.New().String(), email.ExtractDomainOrDefault(settings.User, m.hostname)),
		Date:      m.now(),
	}
	data, err := msg.Bytes()
	if err != nil {
		return nil, err
	}

	if m.signer == nil {
		return data, nil
	}
	signed, err := m.signer.Sign(data)
	if err != nil {
		m.logger.Warn("DKIM signing failed, sending unsigned",
			"domain", m.signer.Domain(),
			"error", err,
		)
		return data, nil
	}
	return signed, nil
}
