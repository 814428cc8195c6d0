package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"samadhan/internal/auth"
	"samadhan/internal/db"
	"samadhan/internal/imagehost"
	"samadhan/internal/models"
)

type IdentityStore interface {
	Create(ctx context.Context, p db.CreateIdentityParams) (*models.Identity, error)
	FindByID(ctx context.Context, id string) (*models.Identity, error)
	FindByEmail(ctx context.Context, email string) (*models.Identity, error)
	FindByPhone(ctx context.Context, phone string) (*models.Identity, error)
	FindByLogin(ctx context.Context, method models.AuthMethod, key string) (*models.Identity, error)
	UpdateProfile(ctx context.Context, id string, p db.UpdateProfileParams) error
	UpdateAvatar(ctx context.Context, id string, avatar *models.Avatar) error
	SetPassword(ctx context.Context, id, passwordHash string) error
	CompleteVerification(ctx context.Context, identityID string, purpose models.ChallengePurpose, secretHash string, passwordHash *string) error
	CompletePasswordReset(ctx context.Context, identityID, secretHash, passwordHash string, verify bool) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
	SetBanned(ctx context.Context, id string, banned bool, reason *string) error
	SetRole(ctx context.Context, id string, role models.Role) error
}

type RefreshTokenStore interface {
	Create(ctx context.Context, identityID, tokenHash string, expiresAt time.Time) (*models.RefreshToken, error)
	FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, consumedTokenID, identityID, newTokenHash string, newExpiresAt time.Time) error
	Delete(ctx context.Context, identityID, tokenHash string) (int64, error)
}

type ImageHost interface {
	Upload(ctx context.Context, data, folder string) (*imagehost.Image, error)
	Delete(ctx context.Context, publicID string) error
}

const AvatarFolder = "avatars"

// Deps wires a Service. AutoVerify creates identities already verified and
// skips challenges.
type Deps struct {
	Identities    IdentityStore
	RefreshTokens RefreshTokenStore
	Verifier      *Verifier
	Tokens        *auth.TokenService
	Hasher        *auth.PasswordHasher
	Images        ImageHost
	AutoVerify    bool
}

// Service drives registration, verification, login and session rotation
// over the credential store. It holds no per-request state.
type Service struct {
	identities    IdentityStore
	refreshTokens RefreshTokenStore
	verifier      *Verifier
	tokens        *auth.TokenService
	hasher        *auth.PasswordHasher
	images        ImageHost
	validator     *inputValidator
	autoVerify    bool
	now           func() time.Time
}

func NewService(deps Deps) *Service {
	return &Service{
		identities:    deps.Identities,
		refreshTokens: deps.RefreshTokens,
		verifier:      deps.Verifier,
		tokens:        deps.Tokens,
		hasher:        deps.Hasher,
		images:        deps.Images,
		validator:     newInputValidator(),
		autoVerify:    deps.AutoVerify,
		now:           time.Now,
	}
}

// SetClock replaces the time source of the service and its verifier.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.verifier.now = now
}

type RegisterResult struct {
	UserID            string            `json:"userId"`
	AuthMethod        models.AuthMethod `json:"authMethod"`
	IsVerified        bool              `json:"isVerified"`
	NeedsVerification bool              `json:"needsVerification,omitempty"`
}

type Session struct {
	User         *models.Profile `json:"user"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	ExpiresAt    time.Time       `json:"expiresAt"`
}

// LoginResult holds either a Session or, for an unverified phone identity,
// the id a fresh code was just sent to.
type LoginResult struct {
	Session           *Session
	NeedsVerification bool
	UserID            string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	in.normalize(s.validator)
	if err := s.validator.validateWith(&in, in.contactFields()); err != nil {
		return nil, err
	}

	var passwordHash *string
	if in.Password != "" {
		hash, err := s.hashPassword("password", in.Password)
		if err != nil {
			return nil, err
		}
		passwordHash = &hash
	}

	status := models.PendingStatusFor(in.AuthMethod)
	if s.autoVerify {
		status = models.StatusVerified
	}

	identity, err := s.identities.Create(ctx, db.CreateIdentityParams{
		Name:         in.Name,
		Email:        optional(in.Email),
		Phone:        optional(in.Phone),
		PasswordHash: passwordHash,
		AuthMethod:   in.AuthMethod,
		Status:       status,
	})
	if err != nil {
		var dup *db.DuplicateError
		if errors.As(err, &dup) {
			return nil, duplicateError(dup.Field)
		}
		return nil, internalError("creating identity", err)
	}

	slog.Info("identity registered", "component", "identity", "user_id", identity.ID, "auth_method", identity.AuthMethod)

	result := &RegisterResult{
		UserID:     identity.ID,
		AuthMethod: identity.AuthMethod,
		IsVerified: identity.IsVerified(),
	}
	if identity.IsVerified() {
		return result, nil
	}

	if err := s.verifier.IssueVerification(ctx, identity, identity.AuthMethod); err != nil {
		return nil, err
	}
	result.NeedsVerification = true
	return result, nil
}

func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	in.normalize()
	if err := s.validator.validateWith(&in, in.contactFields()); err != nil {
		return nil, err
	}

	identity, err := s.identities.FindByLogin(ctx, in.AuthMethod, in.loginKey())
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, internalError("finding identity", err)
	}

	if !identity.CanAuthenticate() {
		return nil, ErrAccountDisabled
	}

	if in.AuthMethod == models.AuthMethodPhone {
		if !identity.IsVerified() {
			if err := s.verifier.IssuePhoneChallenge(ctx, identity); err != nil {
				return nil, err
			}
			return &LoginResult{NeedsVerification: true, UserID: identity.ID}, nil
		}
		if !identity.HasPassword() {
			return nil, ErrPasswordNotSet
		}
	} else if !identity.IsVerified() {
		return nil, ErrEmailNotVerified
	}

	if !s.hasher.Compare(identity.PasswordHash, in.Password) {
		return nil, ErrInvalidCredentials
	}

	session, err := s.startSession(ctx, identity)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Session: session, UserID: identity.ID}, nil
}

// VerifyPhone checks the SMS code, marks the identity verified, stores a
// deferred password if none is set and logs the identity in.
func (s *Service) VerifyPhone(ctx context.Context, in VerifyPhoneInput) (*Session, error) {
	in.Phone = normalizePhone(in.Phone)
	if err := s.validator.check(&in); err != nil {
		return nil, err
	}

	identity, err := s.identities.FindByPhone(ctx, in.Phone)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, internalError("finding identity", err)
	}
	if !identity.CanAuthenticate() {
		return nil, ErrAccountDisabled
	}
	if identity.IsVerified() {
		return nil, ErrAlreadyVerified
	}

	challenge, err := s.verifier.CheckPhoneCode(ctx, identity, in.Code)
	if err != nil {
		return nil, err
	}

	var passwordHash *string
	if in.Password != "" && !identity.HasPassword() {
		hash, err := s.hashPassword("password", in.Password)
		if err != nil {
			return nil, err
		}
		passwordHash = &hash
	}

	err = s.identities.CompleteVerification(ctx, identity.ID, models.PurposePhoneVerification, challenge.SecretHash, passwordHash)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, internalError("completing verification", err)
	}

	identity, err = s.identities.FindByID(ctx, identity.ID)
	if err != nil {
		return nil, internalError("reloading identity", err)
	}

	slog.Info("phone verified", "component", "identity", "user_id", identity.ID)
	return s.startSession(ctx, identity)
}

// VerifyEmail consumes an emailed token and marks its identity verified. No
// session is issued.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*models.Profile, error) {
	challenge, err := s.verifier.CheckEmailToken(ctx, token)
	if err != nil {
		return nil, err
	}

	err = s.identities.CompleteVerification(ctx, challenge.IdentityID, models.PurposeEmailVerification, challenge.SecretHash, nil)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, internalError("completing verification", err)
	}

	identity, err := s.identities.FindByID(ctx, challenge.IdentityID)
	if err != nil {
		return nil, internalError("reloading identity", err)
	}

	slog.Info("email verified", "component", "identity", "user_id", identity.ID)
	return identity.Profile(), nil
}

func (s *Service) ResendVerification(ctx context.Context, in ContactInput) error {
	in.normalize()
	if err := s.validator.validateWith(&in, in.contactFields()); err != nil {
		return err
	}

	identity, err := s.identities.FindByLogin(ctx, in.AuthMethod, in.key())
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return internalError("finding identity", err)
	}
	if identity.IsVerified() {
		return ErrAlreadyVerified
	}

	return s.verifier.IssueVerification(ctx, identity, in.AuthMethod)
}

// Refresh redeems a refresh token for a new pair. The presented token is
// consumed; presenting it again fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}

	claims, err := s.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	stored, err := s.refreshTokens.FindByHash(ctx, auth.HashRefreshToken(refreshToken))
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, internalError("finding refresh token", err)
	}
	if stored.IdentityID != claims.UserID || !s.now().Before(stored.ExpiresAt) {
		return nil, ErrInvalidRefreshToken
	}

	identity, err := s.identities.FindByID(ctx, stored.IdentityID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, internalError("finding identity", err)
	}
	if !identity.CanAuthenticate() {
		return nil, ErrAccountDisabled
	}

	pair, refreshHash, err := s.tokens.IssuePair(identity.ID)
	if err != nil {
		return nil, internalError("issuing tokens", err)
	}

	err = s.refreshTokens.Rotate(ctx, stored.ID, identity.ID, refreshHash, pair.RefreshExpiresAt)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, internalError("rotating refresh token", err)
	}

	return pair, nil
}

// Logout revokes one refresh token of identity. It never fails: a missing
// identity, token or row is a no-op.
func (s *Service) Logout(ctx context.Context, identity *models.Identity, refreshToken string) {
	if identity == nil || refreshToken == "" {
		return
	}

	if _, err := s.refreshTokens.Delete(ctx, identity.ID, auth.HashRefreshToken(refreshToken)); err != nil {
		slog.Error("error revoking refresh token", "component", "identity", "user_id", identity.ID, "error", err)
	}
}

// Authenticate resolves an access token to a live identity.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*models.Identity, error) {
	claims, err := s.tokens.ValidateAccessToken(accessToken)
	if errors.Is(err, auth.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, ErrInvalidToken
	}

	identity, err := s.identities.FindByID(ctx, claims.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, internalError("finding identity", err)
	}
	if !identity.CanAuthenticate() {
		return nil, ErrAccountDisabled
	}

	return identity, nil
}

func (s *Service) CurrentProfile(identity *models.Identity) *models.Profile {
	return identity.Profile()
}

func (s *Service) startSession(ctx context.Context, identity *models.Identity) (*Session, error) {
	pair, refreshHash, err := s.tokens.IssuePair(identity.ID)
	if err != nil {
		return nil, internalError("issuing tokens", err)
	}

	if _, err := s.refreshTokens.Create(ctx, identity.ID, refreshHash, pair.RefreshExpiresAt); err != nil {
		return nil, internalError("storing refresh token", err)
	}

	now := s.now().UTC()
	if err := s.identities.RecordLogin(ctx, identity.ID, now); err != nil {
		slog.Error("error recording login", "component", "identity", "user_id", identity.ID, "error", err)
	} else {
		identity.LastLoginAt = &now
	}

	return &Session{
		User:         identity.Profile(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.AccessExpiresAt,
	}, nil
}

// hashPassword reports an over-long password as a validation failure on field.
func (s *Service) hashPassword(field, password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", validationError(map[string]string{field: fmt.Sprintf("must be at most %d bytes", maxPasswordBytes)})
	}
	if err != nil {
		return "", internalError("hashing password", err)
	}
	return hash, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
