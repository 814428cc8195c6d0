package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"samadhan/internal/models"
)

const identityColumns = `id, name, email, phone, password_hash, auth_method, status, role,
	is_active, is_banned, ban_reason, avatar_url, avatar_public_id,
	location_city, location_state, location_country,
	reports_count, resolved_reports_count, reputation,
	notify_email, notify_sms, notify_push,
	last_login_at, created_at, updated_at`

type IdentityRepository struct {
	db *DB
}

func NewIdentityRepository(db *DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

type CreateIdentityParams struct {
	Name         string
	Email        *string
	Phone        *string
	PasswordHash *string
	AuthMethod   models.AuthMethod
	Status       models.Status
}

// Create inserts a new identity. A unique violation on email or phone is
// returned as *DuplicateError naming the column.
func (r *IdentityRepository) Create(ctx context.Context, p CreateIdentityParams) (*models.Identity, error) {
	id, err := GenerateID("usr")
	if err != nil {
		return nil, fmt.Errorf("generating identity ID: %w", err)
	}
	now := time.Now().UTC()
	defaults := models.DefaultNotificationPreferences()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO identities (id, name, email, phone, password_hash, auth_method, status, role,
			notify_email, notify_sms, notify_push, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.Name, p.Email, p.Phone, p.PasswordHash, string(p.AuthMethod), string(p.Status), string(models.RoleCitizen),
		defaults.Email, defaults.SMS, defaults.Push, now, now,
	)
	if err != nil {
		if dup := duplicateFromError(err); dup != nil {
			return nil, dup
		}
		return nil, fmt.Errorf("creating identity: %w", err)
	}

	return &models.Identity{
		ID:            id,
		Name:          p.Name,
		Email:         p.Email,
		Phone:         p.Phone,
		PasswordHash:  p.PasswordHash,
		AuthMethod:    p.AuthMethod,
		Status:        p.Status,
		Role:          models.RoleCitizen,
		IsActive:      true,
		Location:      models.Location{Country: "India"},
		Notifications: defaults,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (r *IdentityRepository) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	return r.findOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
}

func (r *IdentityRepository) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return r.findOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = ?`, email)
}

func (r *IdentityRepository) FindByPhone(ctx context.Context, phone string) (*models.Identity, error) {
	return r.findOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE phone = ?`, phone)
}

// FindByLogin looks up an identity by the key that belongs to method.
func (r *IdentityRepository) FindByLogin(ctx context.Context, method models.AuthMethod, key string) (*models.Identity, error) {
	if method == models.AuthMethodPhone {
		return r.FindByPhone(ctx, key)
	}
	return r.FindByEmail(ctx, key)
}

type UpdateProfileParams struct {
	Name          string
	Location      models.Location
	Notifications models.NotificationPreferences
}

func (r *IdentityRepository) UpdateProfile(ctx context.Context, id string, p UpdateProfileParams) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE identities
		    SET name = ?, location_city = ?, location_state = ?, location_country = ?,
		        notify_email = ?, notify_sms = ?, notify_push = ?, updated_at = ?
		  WHERE id = ?`,
		p.Name, p.Location.City, p.Location.State, p.Location.Country,
		p.Notifications.Email, p.Notifications.SMS, p.Notifications.Push, time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *IdentityRepository) UpdateAvatar(ctx context.Context, id string, avatar *models.Avatar) error {
	var url, publicID *string
	if avatar != nil {
		url, publicID = &avatar.URL, &avatar.PublicID
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE identities SET avatar_url = ?, avatar_public_id = ?, updated_at = ? WHERE id = ?`,
		url, publicID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating avatar: %w", err)
	}
	return checkRowsAffected(result)
}

// SetPassword replaces the password hash and revokes every refresh token of
// the identity in one transaction.
func (r *IdentityRepository) SetPassword(ctx context.Context, id, passwordHash string) error {
	return withTx(ctx, r.db, func(tx DBTX) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE identities SET password_hash = ?, updated_at = ? WHERE id = ?`,
			passwordHash, time.Now().UTC(), id,
		)
		if err != nil {
			return fmt.Errorf("updating password: %w", err)
		}
		if err := checkRowsAffected(result); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE identity_id = ?`, id); err != nil {
			return fmt.Errorf("revoking refresh tokens: %w", err)
		}
		return nil
	})
}

// CompleteVerification consumes the verification challenge identified by
// purpose and secretHash, marks the identity verified and drops any other
// verification challenge it still holds. passwordHash is stored only when
// the identity has none yet. Returns ErrNotFound if the challenge was
// already consumed or replaced.
func (r *IdentityRepository) CompleteVerification(
	ctx context.Context,
	identityID string,
	purpose models.ChallengePurpose,
	secretHash string,
	passwordHash *string,
) error {
	return withTx(ctx, r.db, func(tx DBTX) error {
		if err := consumeChallenge(ctx, tx, identityID, purpose, secretHash); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE identities
			    SET status = ?, password_hash = COALESCE(password_hash, ?), updated_at = ?
			  WHERE id = ?`,
			string(models.StatusVerified), passwordHash, time.Now().UTC(), identityID,
		)
		if err != nil {
			return fmt.Errorf("marking identity verified: %w", err)
		}
		if err := checkRowsAffected(result); err != nil {
			return err
		}

		return deleteVerificationChallenges(ctx, tx, identityID)
	})
}

// CompletePasswordReset consumes the reset challenge, stores the new hash and
// revokes all refresh tokens. When verify is set the identity also becomes
// verified, since the reset proved control of its channel.
func (r *IdentityRepository) CompletePasswordReset(
	ctx context.Context,
	identityID string,
	secretHash string,
	passwordHash string,
	verify bool,
) error {
	return withTx(ctx, r.db, func(tx DBTX) error {
		if err := consumeChallenge(ctx, tx, identityID, models.PurposePasswordReset, secretHash); err != nil {
			return err
		}

		now := time.Now().UTC()
		query := `UPDATE identities SET password_hash = ?, updated_at = ? WHERE id = ?`
		args := []any{passwordHash, now, identityID}
		if verify {
			query = `UPDATE identities SET password_hash = ?, status = ?, updated_at = ? WHERE id = ?`
			args = []any{passwordHash, string(models.StatusVerified), now, identityID}
		}

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("resetting password: %w", err)
		}
		if err := checkRowsAffected(result); err != nil {
			return err
		}

		if verify {
			if err := deleteVerificationChallenges(ctx, tx, identityID); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE identity_id = ?`, identityID); err != nil {
			return fmt.Errorf("revoking refresh tokens: %w", err)
		}
		return nil
	})
}

func (r *IdentityRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE identities SET last_login_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	return checkRowsAffected(result)
}

// SetBanned bans or unbans an identity. Banning revokes all of its refresh
// tokens in the same transaction.
func (r *IdentityRepository) SetBanned(ctx context.Context, id string, banned bool, reason *string) error {
	return withTx(ctx, r.db, func(tx DBTX) error {
		if !banned {
			reason = nil
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE identities SET is_banned = ?, ban_reason = ?, updated_at = ? WHERE id = ?`,
			banned, reason, time.Now().UTC(), id,
		)
		if err != nil {
			return fmt.Errorf("updating ban state: %w", err)
		}
		if err := checkRowsAffected(result); err != nil {
			return err
		}

		if banned {
			if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE identity_id = ?`, id); err != nil {
				return fmt.Errorf("revoking refresh tokens: %w", err)
			}
		}
		return nil
	})
}

func (r *IdentityRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE identities SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating active state: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *IdentityRepository) SetRole(ctx context.Context, id string, role models.Role) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE identities SET role = ?, updated_at = ? WHERE id = ?`,
		string(role), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *IdentityRepository) findOne(ctx context.Context, query string, args ...any) (*models.Identity, error) {
	u, err := scanIdentity(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying identity: %w", err)
	}
	return u, nil
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	var u models.Identity
	var (
		email, phone, passwordHash     sql.NullString
		banReason, avatarURL, avatarID sql.NullString
		authMethod, status, role       string
		lastLoginAt                    sql.NullTime
	)

	err := row.Scan(
		&u.ID,
		&u.Name,
		&email,
		&phone,
		&passwordHash,
		&authMethod,
		&status,
		&role,
		&u.IsActive,
		&u.IsBanned,
		&banReason,
		&avatarURL,
		&avatarID,
		&u.Location.City,
		&u.Location.State,
		&u.Location.Country,
		&u.ReportsCount,
		&u.ResolvedReportsCount,
		&u.Reputation,
		&u.Notifications.Email,
		&u.Notifications.SMS,
		&u.Notifications.Push,
		&lastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Email = nullStringToPtr(email)
	u.Phone = nullStringToPtr(phone)
	u.PasswordHash = nullStringToPtr(passwordHash)
	u.BanReason = nullStringToPtr(banReason)
	u.AuthMethod = models.AuthMethod(authMethod)
	u.Status = models.Status(status)
	u.Role = models.Role(role)
	u.LastLoginAt = nullTimeToPtr(lastLoginAt)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	if avatarURL.Valid && avatarURL.String != "" {
		u.Avatar = &models.Avatar{URL: avatarURL.String, PublicID: avatarID.String}
	}

	return &u, nil
}
