package db

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultCleanupInterval = 1 * time.Hour
)

// CleanupService periodically drops expired challenges and refresh tokens.
// Lookups already ignore expired rows, so this only bounds table growth.
type CleanupService struct {
	challenges    *ChallengeRepository
	refreshTokens *RefreshTokenRepository
	interval      time.Duration
}

func NewCleanupService(
	challenges *ChallengeRepository,
	refreshTokens *RefreshTokenRepository,
) *CleanupService {
	return &CleanupService{
		challenges:    challenges,
		refreshTokens: refreshTokens,
		interval:      DefaultCleanupInterval,
	}
}

func (s *CleanupService) Start(ctx context.Context) {
	slog.Info("starting token cleanup service", "component", "cleanup", "interval", s.interval)

	s.runCleanup(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping token cleanup service", "component", "cleanup")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *CleanupService) runCleanup(ctx context.Context) {
	challengesDeleted, err := s.challenges.DeleteExpired(ctx)
	if err != nil {
		slog.Error("error deleting expired challenges", "component", "cleanup", "error", err)
	} else if challengesDeleted > 0 {
		slog.Info("deleted expired challenges", "component", "cleanup", "count", challengesDeleted)
	}

	refreshDeleted, err := s.refreshTokens.DeleteExpired(ctx)
	if err != nil {
		slog.Error("error deleting expired refresh tokens", "component", "cleanup", "error", err)
	} else if refreshDeleted > 0 {
		slog.Info("deleted expired refresh tokens", "component", "cleanup", "count", refreshDeleted)
	}
}
