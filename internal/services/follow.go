package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/store"
)

// FollowService manages the follow graph and profile views.
type FollowService struct {
	follows  store.FollowStore
	profiles store.ProfileStore
}

// NewFollowService creates a new FollowService instance.
func NewFollowService(follows store.FollowStore, profiles store.ProfileStore) *FollowService {
	return &FollowService{follows: follows, profiles: profiles}
}

// Follow makes viewerID follow targetID. Following twice is not an error.
func (s *FollowService) Follow(ctx context.Context, viewerID, targetID string) error {
	if err := s.checkTarget(ctx, viewerID, targetID); err != nil {
		return err
	}
	if err := s.follows.AddFollow(ctx, viewerID, targetID); err != nil && !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("failed to follow %s: %w", targetID, err)
	}
	return nil
}

// Unfollow removes the edge from viewerID to targetID.
func (s *FollowService) Unfollow(ctx context.Context, viewerID, targetID string) error {
	if viewerID == "" || targetID == "" {
		return fmt.Errorf("%w: both users are required", ErrInvalid)
	}
	if err := s.follows.RemoveFollow(ctx, viewerID, targetID); err != nil {
		return fmt.Errorf("failed to unfollow %s: %w", targetID, err)
	}
	return nil
}

// Toggle flips the follow edge and reports whether viewerID now follows
// targetID.
func (s *FollowService) Toggle(ctx context.Context, viewerID, targetID string) (bool, error) {
	following, err := s.follows.IsFollowing(ctx, viewerID, targetID)
	if err != nil {
		return false, err
	}
	if following {
		return false, s.Unfollow(ctx, viewerID, targetID)
	}
	return true, s.Follow(ctx, viewerID, targetID)
}

// Stats returns targetID's follower counts and whether viewerID follows them.
func (s *FollowService) Stats(ctx context.Context, viewerID, targetID string) (models.FollowStats, error) {
	var stats models.FollowStats
	var err error
	if stats.Followers, err = s.follows.CountFollowers(ctx, targetID); err != nil {
		return stats, fmt.Errorf("failed to count followers: %w", err)
	}
	if stats.Following, err = s.follows.CountFollowing(ctx, targetID); err != nil {
		return stats, fmt.Errorf("failed to count following: %w", err)
	}
	if viewerID != "" && viewerID != targetID {
		if stats.ViewerFollows, err = s.follows.IsFollowing(ctx, viewerID, targetID); err != nil {
			return stats, fmt.Errorf("failed to check follow: %w", err)
		}
	}
	return stats, nil
}

// Profile returns targetID's public profile together with follow stats as
// seen by viewerID.
func (s *FollowService) Profile(ctx context.Context, viewerID, targetID string) (*models.ProfileResponse, error) {
	profile, err := s.profiles.GetProfile(ctx, targetID)
	if err != nil {
		return nil, err
	}
	stats, err := s.Stats(ctx, viewerID, targetID)
	if err != nil {
		return nil, err
	}
	return &models.ProfileResponse{Profile: *profile, Stats: stats}, nil
}

func (s *FollowService) checkTarget(ctx context.Context, viewerID, targetID string) error {
	if viewerID == "" || targetID == "" {
		return fmt.Errorf("%w: both users are required", ErrInvalid)
	}
	if viewerID == targetID {
		return fmt.Errorf("%w: cannot follow yourself", ErrInvalid)
	}
	if _, err := s.profiles.GetProfile(ctx, targetID); err != nil {
		return err
	}
	return nil
}
