package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"samadhan/internal/models"
)

// RefreshTokenRepository keeps one row per live refresh token, keyed by the
// SHA-256 of the token. Raw token values are never stored.
type RefreshTokenRepository struct {
	db *DB
}

func NewRefreshTokenRepository(db *DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, identityID, tokenHash string, expiresAt time.Time) (*models.RefreshToken, error) {
	id, err := GenerateID("rft")
	if err != nil {
		return nil, fmt.Errorf("generating refresh token ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, identity_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, identityID, tokenHash, expiresAt.UTC(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating refresh token: %w", err)
	}

	return &models.RefreshToken{
		ID:         id,
		IdentityID: identityID,
		TokenHash:  tokenHash,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	}, nil
}

func (r *RefreshTokenRepository) FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	var t models.RefreshToken

	err := r.db.QueryRowContext(ctx,
		`SELECT id, identity_id, token_hash, expires_at, created_at FROM refresh_tokens WHERE token_hash = ?`,
		tokenHash,
	).Scan(&t.ID, &t.IdentityID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying refresh token: %w", err)
	}

	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

// Rotate removes the consumed token and stores its replacement atomically.
// Returns ErrNotFound when the consumed token is already gone or expired,
// which is how a second redemption of the same token loses the race.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, consumedTokenID string, identityID string, newTokenHash string, newExpiresAt time.Time) error {
	return withTx(ctx, r.db, func(tx DBTX) error {
		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx,
			`DELETE FROM refresh_tokens
			  WHERE id = ?
			    AND identity_id = ?
			    AND expires_at > ?`,
			consumedTokenID,
			identityID,
			now,
		)
		if err != nil {
			return fmt.Errorf("removing token during rotation: %w", err)
		}

		if err := checkRowsAffected(result); err != nil {
			return err
		}

		newID, err := GenerateID("rft")
		if err != nil {
			return fmt.Errorf("generating rotated refresh token ID: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO refresh_tokens (id, identity_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
			newID,
			identityID,
			newTokenHash,
			newExpiresAt.UTC(),
			now,
		)
		if err != nil {
			return fmt.Errorf("creating rotated refresh token: %w", err)
		}

		return nil
	})
}

// Delete removes one token of identityID. Deleting an absent token is not an
// error.
func (r *RefreshTokenRepository) Delete(ctx context.Context, identityID, tokenHash string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE identity_id = ? AND token_hash = ?`,
		identityID, tokenHash,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting refresh token: %w", err)
	}

	return result.RowsAffected()
}

func (r *RefreshTokenRepository) DeleteAllForIdentity(ctx context.Context, identityID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE identity_id = ?`, identityID)
	if err != nil {
		return fmt.Errorf("deleting identity tokens: %w", err)
	}
	return nil
}

// CountActive returns how many unexpired refresh tokens identityID holds.
func (r *RefreshTokenRepository) CountActive(ctx context.Context, identityID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM refresh_tokens WHERE identity_id = ? AND expires_at > ?`,
		identityID, time.Now().UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting refresh tokens: %w", err)
	}
	return count, nil
}

func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}

	return result.RowsAffected()
}
