package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"samadhan/internal/models"
)

type ChallengeRepository struct {
	db *DB
}

func NewChallengeRepository(db *DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

// Upsert stores c as the only outstanding challenge of its identity and
// purpose, overwriting any earlier one and resetting its attempt count.
func (r *ChallengeRepository) Upsert(ctx context.Context, c *models.Challenge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verification_challenges (identity_id, purpose, secret_hash, expires_at, attempts, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT (identity_id, purpose) DO UPDATE
		    SET secret_hash = excluded.secret_hash,
		        expires_at = excluded.expires_at,
		        attempts = 0,
		        created_at = excluded.created_at`,
		c.IdentityID, string(c.Purpose), c.SecretHash, c.ExpiresAt.UTC(), c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storing challenge: %w", err)
	}
	return nil
}

func (r *ChallengeRepository) Find(ctx context.Context, identityID string, purpose models.ChallengePurpose) (*models.Challenge, error) {
	return r.findOne(ctx,
		`SELECT identity_id, purpose, secret_hash, expires_at, attempts, created_at
		   FROM verification_challenges
		  WHERE identity_id = ? AND purpose = ?`,
		identityID, string(purpose),
	)
}

// FindValidByHash returns the unexpired challenge of purpose whose secret
// hashes to secretHash.
func (r *ChallengeRepository) FindValidByHash(ctx context.Context, purpose models.ChallengePurpose, secretHash string, now time.Time) (*models.Challenge, error) {
	return r.findOne(ctx,
		`SELECT identity_id, purpose, secret_hash, expires_at, attempts, created_at
		   FROM verification_challenges
		  WHERE purpose = ? AND secret_hash = ? AND expires_at > ?`,
		string(purpose), secretHash, now.UTC(),
	)
}

// IncrementAttempts atomically increments the attempt count only if it is
// below max, and returns the new value. Returns -1 if the challenge was
// already at or above the limit (no update performed).
func (r *ChallengeRepository) IncrementAttempts(ctx context.Context, identityID string, purpose models.ChallengePurpose, max int) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`UPDATE verification_challenges
		    SET attempts = attempts + 1
		  WHERE identity_id = ? AND purpose = ? AND attempts < ?
		  RETURNING attempts`,
		identityID, string(purpose), max,
	).Scan(&attempts)

	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing attempts: %w", err)
	}

	return attempts, nil
}

func (r *ChallengeRepository) Delete(ctx context.Context, identityID string, purpose models.ChallengePurpose) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM verification_challenges WHERE identity_id = ? AND purpose = ?`,
		identityID, string(purpose),
	)
	if err != nil {
		return fmt.Errorf("deleting challenge: %w", err)
	}
	return nil
}

func (r *ChallengeRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM verification_challenges WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired challenges: %w", err)
	}

	return result.RowsAffected()
}

func (r *ChallengeRepository) findOne(ctx context.Context, query string, args ...any) (*models.Challenge, error) {
	var c models.Challenge
	var purpose string

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&c.IdentityID, &purpose, &c.SecretHash, &c.ExpiresAt, &c.Attempts, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying challenge: %w", err)
	}

	c.Purpose = models.ChallengePurpose(purpose)
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// consumeChallenge deletes exactly the challenge carrying secretHash. A
// concurrent consumer or a reissue in between leaves nothing to delete.
func consumeChallenge(ctx context.Context, tx DBTX, identityID string, purpose models.ChallengePurpose, secretHash string) error {
	result, err := tx.ExecContext(ctx,
		`DELETE FROM verification_challenges WHERE identity_id = ? AND purpose = ? AND secret_hash = ?`,
		identityID, string(purpose), secretHash,
	)
	if err != nil {
		return fmt.Errorf("consuming challenge: %w", err)
	}
	return checkRowsAffected(result)
}

func deleteVerificationChallenges(ctx context.Context, tx DBTX, identityID string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM verification_challenges WHERE identity_id = ? AND purpose IN (?, ?)`,
		identityID, string(models.PurposeEmailVerification), string(models.PurposePhoneVerification),
	)
	if err != nil {
		return fmt.Errorf("clearing verification challenges: %w", err)
	}
	return nil
}
