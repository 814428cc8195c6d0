package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/url"
	"strings"
	"time"
)

const (
	smtpTimeout = 30 * time.Second
)

type SMTPService struct {
	host        string
	port        int
	username    string
	password    string
	from        string
	appName     string
	frontendURL string
	tokenTTL    time.Duration
	resetTTL    time.Duration
}

// Options configures SMTPService. AppName and FrontendURL shape the message
// text and links.
type Options struct {
	Host             string
	Port             int
	Username         string
	Password         string
	From             string
	AppName          string
	FrontendURL      string
	VerifyTokenTTL   time.Duration
	PasswordResetTTL time.Duration
}

func NewSMTPService(opts Options) *SMTPService {
	return &SMTPService{
		host:        opts.Host,
		port:        opts.Port,
		username:    opts.Username,
		password:    opts.Password,
		from:        opts.From,
		appName:     opts.AppName,
		frontendURL: strings.TrimRight(opts.FrontendURL, "/"),
		tokenTTL:    opts.VerifyTokenTTL,
		resetTTL:    opts.PasswordResetTTL,
	}
}

func (s *SMTPService) SendVerification(ctx context.Context, to, name, token string) error {
	subject := fmt.Sprintf("Verify your %s account", s.appName)
	return s.send(ctx, to, subject, s.verificationBody(name, token))
}

func (s *SMTPService) SendPasswordReset(ctx context.Context, to, name, token string) error {
	subject := fmt.Sprintf("Reset your %s password", s.appName)
	return s.send(ctx, to, subject, s.passwordResetBody(name, token))
}

func (s *SMTPService) VerificationLink(token string) string {
	return s.frontendURL + "/verify-email/" + url.PathEscape(token)
}

func (s *SMTPService) PasswordResetLink(token string) string {
	return s.frontendURL + "/reset-password/" + url.PathEscape(token)
}

func (s *SMTPService) verificationBody(name, token string) string {
	return fmt.Sprintf(`Hello %s,

Thanks for joining %s. Confirm your email address by opening this link:

    %s

The link expires in %s.

If you didn't create an account, you can safely ignore this email.

- The %s Team`, name, s.appName, s.VerificationLink(token), humanDuration(s.tokenTTL), s.appName)
}

func (s *SMTPService) passwordResetBody(name, token string) string {
	return fmt.Sprintf(`Hello %s,

We received a request to reset your %s password. Choose a new one here:

    %s

The link expires in %s. Resetting signs you out on every device.

If you didn't request this, you can safely ignore this email.

- The %s Team`, name, s.appName, s.PasswordResetLink(token), humanDuration(s.resetTTL), s.appName)
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
}

func (s *SMTPService) send(ctx context.Context, to, subject, body string) error {
	msg := s.buildMessage(to, subject, body)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	ctx, cancel := context.WithTimeout(ctx, smtpTimeout)
	defer cancel()

	dialer := net.Dialer{Timeout: smtpTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to SMTP server: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsCfg := &tls.Config{ServerName: s.host}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	} else if s.port != 25 && s.port != 1025 {
		return fmt.Errorf("STARTTLS not available on port %d (required for secure auth)", s.port)
	}

	if s.username != "" && s.password != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication: %w", err)
		}
	}

	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("SMTP MAIL command: %w", err)
	}

	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT command: %w", err)
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA command: %w", err)
	}

	_, err = wc.Write([]byte(msg))
	if err != nil {
		wc.Close()
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := wc.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	if err := client.Quit(); err != nil {
		slog.Warn("smtp QUIT command failed", "component", "email", "error", err)
	}

	return nil
}

func (s *SMTPService) buildMessage(to, subject, body string) string {
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n%s",
		s.from, to, subject, body)
}
