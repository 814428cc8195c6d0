package sms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"samadhan/internal/config"
)

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// Service formats verification and reset codes and hands them to a Sender.
type Service struct {
	sender  Sender
	appName string
	codeTTL time.Duration
}

func NewService(sender Sender, appName string, codeTTL time.Duration) *Service {
	return &Service{sender: sender, appName: appName, codeTTL: codeTTL}
}

// New builds the Service for the configured provider.
func New(cfg config.SMSConfig, appName string, codeTTL time.Duration) (*Service, error) {
	switch cfg.Provider {
	case "", config.SMSProviderLog:
		return NewService(LogSender{}, appName, codeTTL), nil
	case config.SMSProviderTwilio:
		sender := NewTwilioSender(TwilioOptions{
			AccountSID: cfg.AccountSID,
			AuthToken:  cfg.AuthToken,
			From:       cfg.From,
			Region:     cfg.Region,
			Edge:       cfg.Edge,
			Timeout:    cfg.Timeout,
		})
		return NewService(sender, appName, codeTTL), nil
	default:
		return nil, fmt.Errorf("unknown sms provider %q", cfg.Provider)
	}
}

func (s *Service) SendVerificationCode(ctx context.Context, to, code string) error {
	body := fmt.Sprintf("Your %s verification code is %s. It expires in %d minutes.", s.appName, code, int(s.codeTTL.Minutes()))
	return s.sender.Send(ctx, to, body)
}

func (s *Service) SendPasswordResetCode(ctx context.Context, to, code string) error {
	body := fmt.Sprintf("Your %s password reset code is %s. It expires in %d minutes.", s.appName, code, int(s.codeTTL.Minutes()))
	return s.sender.Send(ctx, to, body)
}

// LogSender writes messages to the log instead of delivering them. It is
// meant for development only.
type LogSender struct{}

func (LogSender) Send(_ context.Context, to, body string) error {
	slog.Info("sms not delivered, log provider active", "component", "sms", "to", to, "body", body)
	return nil
}
