package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"samadhan/internal/auth"
	"samadhan/internal/db"
	"samadhan/internal/models"
)

type ChallengeStore interface {
	Upsert(ctx context.Context, c *models.Challenge) error
	Find(ctx context.Context, identityID string, purpose models.ChallengePurpose) (*models.Challenge, error)
	FindValidByHash(ctx context.Context, purpose models.ChallengePurpose, secretHash string, now time.Time) (*models.Challenge, error)
	IncrementAttempts(ctx context.Context, identityID string, purpose models.ChallengePurpose, max int) (int, error)
}

type EmailSender interface {
	SendVerification(ctx context.Context, to, name, token string) error
	SendPasswordReset(ctx context.Context, to, name, token string) error
}

type SMSSender interface {
	SendVerificationCode(ctx context.Context, to, code string) error
	SendPasswordResetCode(ctx context.Context, to, code string) error
}

type VerifierConfig struct {
	EmailTokenTTL    time.Duration
	PhoneCodeTTL     time.Duration
	PasswordResetTTL time.Duration
	MaxAttempts      int
}

// Verifier issues and checks the short-lived secrets that prove control of
// an email address or phone number. Only digests are persisted.
type Verifier struct {
	challenges ChallengeStore
	email      EmailSender
	sms        SMSSender
	cfg        VerifierConfig
	now        func() time.Time
}

func NewVerifier(challenges ChallengeStore, email EmailSender, sms SMSSender, cfg VerifierConfig) *Verifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Verifier{
		challenges: challenges,
		email:      email,
		sms:        sms,
		cfg:        cfg,
		now:        time.Now,
	}
}

// IssueEmailChallenge replaces any outstanding email challenge of identity
// and mails the new token. A delivery failure is logged, not returned.
func (v *Verifier) IssueEmailChallenge(ctx context.Context, identity *models.Identity) error {
	if identity.IsVerified() {
		return ErrAlreadyVerified
	}

	token, err := auth.GenerateEmailToken()
	if err != nil {
		return internalError("generating verification token", err)
	}

	if err := v.store(ctx, identity.ID, models.PurposeEmailVerification, auth.HashEmailToken(token), v.cfg.EmailTokenTTL); err != nil {
		return err
	}

	if err := v.email.SendVerification(ctx, identity.GetEmail(), identity.DisplayName(), token); err != nil {
		slog.Error("error sending verification email", "component", "verifier", "user_id", identity.ID, "error", err)
	}
	return nil
}

// IssuePhoneChallenge replaces any outstanding phone challenge of identity
// and texts the new code. A delivery failure is logged, not returned.
func (v *Verifier) IssuePhoneChallenge(ctx context.Context, identity *models.Identity) error {
	if identity.IsVerified() {
		return ErrAlreadyVerified
	}

	code, err := auth.GeneratePhoneCode()
	if err != nil {
		return internalError("generating verification code", err)
	}

	if err := v.store(ctx, identity.ID, models.PurposePhoneVerification, auth.HashPhoneCode(identity.ID, code), v.cfg.PhoneCodeTTL); err != nil {
		return err
	}

	if err := v.sms.SendVerificationCode(ctx, identity.GetPhone(), code); err != nil {
		slog.Error("error sending verification sms", "component", "verifier", "user_id", identity.ID, "error", err)
	}
	return nil
}

// IssueVerification issues the challenge for the given channel.
func (v *Verifier) IssueVerification(ctx context.Context, identity *models.Identity, method models.AuthMethod) error {
	if method == models.AuthMethodPhone {
		return v.IssuePhoneChallenge(ctx, identity)
	}
	return v.IssueEmailChallenge(ctx, identity)
}

// IssuePasswordReset sends a reset link token by email or a reset code by
// SMS. It is legal in any status.
func (v *Verifier) IssuePasswordReset(ctx context.Context, identity *models.Identity, method models.AuthMethod) error {
	if method == models.AuthMethodPhone {
		code, err := auth.GeneratePhoneCode()
		if err != nil {
			return internalError("generating reset code", err)
		}
		if err := v.store(ctx, identity.ID, models.PurposePasswordReset, auth.HashPhoneCode(identity.ID, code), v.cfg.PhoneCodeTTL); err != nil {
			return err
		}
		if err := v.sms.SendPasswordResetCode(ctx, identity.GetPhone(), code); err != nil {
			slog.Error("error sending reset sms", "component", "verifier", "user_id", identity.ID, "error", err)
		}
		return nil
	}

	token, err := auth.GenerateEmailToken()
	if err != nil {
		return internalError("generating reset token", err)
	}
	if err := v.store(ctx, identity.ID, models.PurposePasswordReset, auth.HashEmailToken(token), v.cfg.PasswordResetTTL); err != nil {
		return err
	}
	if err := v.email.SendPasswordReset(ctx, identity.GetEmail(), identity.DisplayName(), token); err != nil {
		slog.Error("error sending reset email", "component", "verifier", "user_id", identity.ID, "error", err)
	}
	return nil
}

// CheckEmailToken returns the live email challenge matching token. The
// caller consumes it.
func (v *Verifier) CheckEmailToken(ctx context.Context, token string) (*models.Challenge, error) {
	return v.checkToken(ctx, models.PurposeEmailVerification, token)
}

// CheckResetToken returns the live password-reset challenge matching an
// emailed token.
func (v *Verifier) CheckResetToken(ctx context.Context, token string) (*models.Challenge, error) {
	return v.checkToken(ctx, models.PurposePasswordReset, token)
}

// CheckPhoneCode counts an attempt against the identity's phone challenge
// and returns it when code matches and has not expired.
func (v *Verifier) CheckPhoneCode(ctx context.Context, identity *models.Identity, code string) (*models.Challenge, error) {
	return v.checkCode(ctx, identity.ID, models.PurposePhoneVerification, code)
}

func (v *Verifier) CheckResetCode(ctx context.Context, identity *models.Identity, code string) (*models.Challenge, error) {
	return v.checkCode(ctx, identity.ID, models.PurposePasswordReset, code)
}

func (v *Verifier) store(ctx context.Context, identityID string, purpose models.ChallengePurpose, secretHash string, ttl time.Duration) error {
	now := v.now().UTC()
	err := v.challenges.Upsert(ctx, &models.Challenge{
		IdentityID: identityID,
		Purpose:    purpose,
		SecretHash: secretHash,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	})
	if err != nil {
		return internalError("storing challenge", err)
	}
	return nil
}

func (v *Verifier) checkToken(ctx context.Context, purpose models.ChallengePurpose, token string) (*models.Challenge, error) {
	if token == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	hash := auth.HashEmailToken(token)
	challenge, err := v.challenges.FindValidByHash(ctx, purpose, hash, v.now())
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, internalError("finding challenge", err)
	}
	if !auth.SecretsEqual(hash, challenge.SecretHash) || challenge.Expired(v.now()) {
		return nil, ErrInvalidOrExpiredToken
	}

	return challenge, nil
}

func (v *Verifier) checkCode(ctx context.Context, identityID string, purpose models.ChallengePurpose, code string) (*models.Challenge, error) {
	challenge, err := v.challenges.Find(ctx, identityID, purpose)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, internalError("finding challenge", err)
	}
	if challenge.Expired(v.now()) {
		return nil, ErrInvalidOrExpiredToken
	}

	attempts, err := v.challenges.IncrementAttempts(ctx, identityID, purpose, v.cfg.MaxAttempts)
	if err != nil {
		return nil, internalError("counting attempt", err)
	}
	if attempts < 0 {
		return nil, ErrTooManyAttempts
	}

	if !auth.SecretsEqual(auth.HashPhoneCode(identityID, code), challenge.SecretHash) {
		return nil, ErrInvalidOrExpiredToken
	}

	return challenge, nil
}
