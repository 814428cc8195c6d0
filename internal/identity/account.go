package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"samadhan/internal/constants"
	"samadhan/internal/db"
	"samadhan/internal/imagehost"
	"samadhan/internal/models"
)

// ForgotPassword sends a reset challenge when the contact belongs to an
// identity. The outcome is never reported, so callers cannot enumerate
// accounts.
func (s *Service) ForgotPassword(ctx context.Context, in ContactInput) error {
	in.normalize()
	if err := s.validator.validateWith(&in, in.contactFields()); err != nil {
		return err
	}

	identity, err := s.identities.FindByLogin(ctx, in.AuthMethod, in.key())
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		slog.Error("error finding identity for reset", "component", "identity", "error", err)
		return nil
	}
	if !identity.CanAuthenticate() {
		return nil
	}

	if err := s.verifier.IssuePasswordReset(ctx, identity, in.AuthMethod); err != nil {
		slog.Error("error issuing password reset", "component", "identity", "user_id", identity.ID, "error", err)
	}
	return nil
}

// ResetPassword redeems a reset challenge, stores the new password and
// revokes every session. A pending identity whose own channel received the
// challenge becomes verified.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	in.Phone = normalizePhone(in.Phone)
	in.Token = strings.TrimSpace(in.Token)
	if err := s.validator.validateWith(&in, in.contactFields()); err != nil {
		return err
	}

	var (
		identity  *models.Identity
		challenge *models.Challenge
		err       error
	)
	if in.AuthMethod == models.AuthMethodPhone {
		identity, err = s.identities.FindByPhone(ctx, in.Phone)
		if errors.Is(err, db.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		if err != nil {
			return internalError("finding identity", err)
		}
		challenge, err = s.verifier.CheckResetCode(ctx, identity, in.Code)
		if err != nil {
			return err
		}
	} else {
		challenge, err = s.verifier.CheckResetToken(ctx, in.Token)
		if err != nil {
			return err
		}
		identity, err = s.identities.FindByID(ctx, challenge.IdentityID)
		if errors.Is(err, db.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		if err != nil {
			return internalError("finding identity", err)
		}
	}

	if !identity.CanAuthenticate() {
		return ErrAccountDisabled
	}

	hash, err := s.hashPassword("password", in.Password)
	if err != nil {
		return err
	}

	verify := identity.Status == models.PendingStatusFor(in.AuthMethod)
	err = s.identities.CompletePasswordReset(ctx, identity.ID, challenge.SecretHash, hash, verify)
	if errors.Is(err, db.ErrNotFound) {
		return ErrInvalidOrExpiredToken
	}
	if err != nil {
		return internalError("resetting password", err)
	}

	slog.Info("password reset", "component", "identity", "user_id", identity.ID, "auth_method", in.AuthMethod)
	return nil
}

// ChangePassword requires the current password when one is set, revokes
// every refresh token and returns a fresh session for the caller.
func (s *Service) ChangePassword(ctx context.Context, identity *models.Identity, in ChangePasswordInput) (*Session, error) {
	if err := s.validator.check(&in); err != nil {
		return nil, err
	}

	if identity.HasPassword() && !s.hasher.Compare(identity.PasswordHash, in.CurrentPassword) {
		return nil, ErrInvalidCredentials
	}

	hash, err := s.hashPassword("newPassword", in.NewPassword)
	if err != nil {
		return nil, err
	}

	if err := s.identities.SetPassword(ctx, identity.ID, hash); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, internalError("updating password", err)
	}
	identity.PasswordHash = &hash

	return s.startSession(ctx, identity)
}

func (s *Service) UpdateProfile(ctx context.Context, identity *models.Identity, in UpdateProfileInput) (*models.Profile, error) {
	in.normalize(s.validator)
	if err := s.validator.check(&in); err != nil {
		return nil, err
	}

	params := db.UpdateProfileParams{
		Name:          identity.Name,
		Location:      identity.Location,
		Notifications: identity.Notifications,
	}
	if in.Name != nil {
		params.Name = *in.Name
	}
	if in.Location != nil {
		params.Location = models.Location{
			City:    in.Location.City,
			State:   in.Location.State,
			Country: in.Location.Country,
		}
		if params.Location.Country == "" {
			params.Location.Country = identity.Location.Country
		}
	}
	if in.Notifications != nil {
		params.Notifications = *in.Notifications
	}

	if err := s.identities.UpdateProfile(ctx, identity.ID, params); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, internalError("updating profile", err)
	}

	return s.reloadProfile(ctx, identity.ID)
}

// UpdateAvatar uploads a base64 image, points the identity at it and drops
// the previous image. Cleanup failures are logged only.
func (s *Service) UpdateAvatar(ctx context.Context, identity *models.Identity, image string) (*models.Profile, error) {
	if strings.TrimSpace(image) == "" {
		return nil, validationError(map[string]string{"image": "is required"})
	}
	if s.images == nil {
		return nil, internalError("uploading avatar", errors.New("image host not configured"))
	}

	uploaded, err := s.images.Upload(ctx, image, AvatarFolder)
	if err != nil {
		if errors.Is(err, imagehost.ErrInvalidImage) || errors.Is(err, imagehost.ErrTooLarge) {
			e := validationError(map[string]string{"image": err.Error()})
			e.Code = constants.ErrCodeImageInvalid
			e.Message = "Invalid image"
			return nil, e
		}
		return nil, internalError("uploading avatar", err)
	}

	previous := identity.Avatar
	err = s.identities.UpdateAvatar(ctx, identity.ID, &models.Avatar{URL: uploaded.URL, PublicID: uploaded.PublicID})
	if err != nil {
		s.deleteImage(ctx, identity.ID, uploaded.PublicID)
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, internalError("storing avatar", err)
	}

	if previous != nil && previous.PublicID != "" && previous.PublicID != uploaded.PublicID {
		s.deleteImage(ctx, identity.ID, previous.PublicID)
	}

	return s.reloadProfile(ctx, identity.ID)
}

func (s *Service) deleteImage(ctx context.Context, identityID, publicID string) {
	if err := s.images.Delete(ctx, publicID); err != nil {
		slog.Warn("error deleting image", "component", "identity", "user_id", identityID, "public_id", publicID, "error", err)
	}
}

func (s *Service) GetIdentity(ctx context.Context, id string) (*models.Identity, error) {
	identity, err := s.identities.FindByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, internalError("finding identity", err)
	}
	return identity, nil
}

// LookupContact finds an identity by email when contact contains "@" and by
// phone otherwise.
func (s *Service) LookupContact(ctx context.Context, contact string) (*models.Identity, error) {
	var (
		identity *models.Identity
		err      error
	)
	if strings.Contains(contact, "@") {
		identity, err = s.identities.FindByEmail(ctx, normalizeEmail(contact))
	} else {
		identity, err = s.identities.FindByPhone(ctx, normalizePhone(contact))
	}
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, internalError("finding identity", err)
	}
	return identity, nil
}

// BanIdentity bans id and revokes all of its refresh tokens. Access tokens
// already issued stop working on their next authenticated request.
func (s *Service) BanIdentity(ctx context.Context, id, reason string) (*models.Identity, error) {
	reason = s.validator.sanitizeText(reason)
	if err := s.identities.SetBanned(ctx, id, true, optional(reason)); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, internalError("banning identity", err)
	}
	slog.Info("identity banned", "component", "identity", "user_id", id)
	return s.GetIdentity(ctx, id)
}

func (s *Service) UnbanIdentity(ctx context.Context, id string) (*models.Identity, error) {
	if err := s.identities.SetBanned(ctx, id, false, nil); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, internalError("unbanning identity", err)
	}
	slog.Info("identity unbanned", "component", "identity", "user_id", id)
	return s.GetIdentity(ctx, id)
}

func (s *Service) SetRole(ctx context.Context, id string, role models.Role) (*models.Identity, error) {
	if !role.Valid() {
		return nil, validationError(map[string]string{"role": "must be one of: citizen admin"})
	}
	if err := s.identities.SetRole(ctx, id, role); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, internalError("updating role", err)
	}
	slog.Info("identity role changed", "component", "identity", "user_id", id, "role", role)
	return s.GetIdentity(ctx, id)
}

func (s *Service) reloadProfile(ctx context.Context, id string) (*models.Profile, error) {
	identity, err := s.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	return identity.Profile(), nil
}
