package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRefreshTokenRotateReplacesToken(t *testing.T) {
	database := openTestDB(t)
	identity := createEmailIdentity(t, NewIdentityRepository(database), "asha@example.com")
	tokens := NewRefreshTokenRepository(database)
	ctx := context.Background()

	original, err := tokens.Create(ctx, identity.ID, "old", time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, tokens.Rotate(ctx, original.ID, identity.ID, "new", time.Now().Add(2*time.Hour)))

	_, err = tokens.FindByHash(ctx, "old")
	require.ErrorIs(t, err, ErrNotFound)

	replacement, err := tokens.FindByHash(ctx, "new")
	require.NoError(t, err)
	require.Equal(t, identity.ID, replacement.IdentityID)

	err = tokens.Rotate(ctx, original.ID, identity.ID, "again", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshTokenRotateRejectsExpired(t *testing.T) {
	database := openTestDB(t)
	identity := createEmailIdentity(t, NewIdentityRepository(database), "asha@example.com")
	tokens := NewRefreshTokenRepository(database)
	ctx := context.Background()

	stale, err := tokens.Create(ctx, identity.ID, "stale", time.Now().Add(-time.Second))
	require.NoError(t, err)

	err = tokens.Rotate(ctx, stale.ID, identity.ID, "new", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = tokens.FindByHash(ctx, "new")
	require.ErrorIs(t, err, ErrNotFound)

	deleted, err := tokens.DeleteExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}

func TestRefreshTokenConcurrentRotateHasSingleWinner(t *testing.T) {
	database := openTestDB(t)
	identity := createEmailIdentity(t, NewIdentityRepository(database), "asha@example.com")
	tokens := NewRefreshTokenRepository(database)
	ctx := context.Background()

	original, err := tokens.Create(ctx, identity.ID, "shared", time.Now().Add(time.Hour))
	require.NoError(t, err)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		failures []error
	)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := tokens.Rotate(ctx, original.ID, identity.ID, "next-"+string(rune('a'+i)), time.Now().Add(time.Hour))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			if !errors.Is(err, ErrNotFound) {
				failures = append(failures, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, failures)
	require.Equal(t, 1, wins)

	count, err := tokens.CountActive(ctx, identity.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRefreshTokenDeleteIsScopedToIdentity(t *testing.T) {
	database := openTestDB(t)
	identities := NewIdentityRepository(database)
	owner := createEmailIdentity(t, identities, "owner@example.com")
	other := createEmailIdentity(t, identities, "other@example.com")
	tokens := NewRefreshTokenRepository(database)
	ctx := context.Background()

	_, err := tokens.Create(ctx, owner.ID, "owned", time.Now().Add(time.Hour))
	require.NoError(t, err)

	deleted, err := tokens.Delete(ctx, other.ID, "owned")
	require.NoError(t, err)
	require.Zero(t, deleted)

	deleted, err = tokens.Delete(ctx, owner.ID, "owned")
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	_, err = tokens.Create(ctx, owner.ID, "a", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = tokens.Create(ctx, owner.ID, "b", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, tokens.DeleteAllForIdentity(ctx, owner.ID))

	count, err := tokens.CountActive(ctx, owner.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}
