package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/store"
)

// GetProfile retrieves a profile by id.
func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	var services string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, name, COALESCE(role, 'buyer'), profile_image_url, bio, jockey_services
		 FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Username, &p.Name, &p.Role, &p.ProfileImageURL, &p.Bio, &services)
	if err != nil {
		return nil, mapError(err)
	}
	if services != "" {
		if err := json.Unmarshal([]byte(services), &p.JockeyServices); err != nil {
			return nil, fmt.Errorf("decode jockey services for %s: %w", id, err)
		}
	}
	return &p, nil
}

// UpsertProfile creates or replaces a profile. Local mode has no sign-up
// flow, so profiles are seeded through this.
func (s *Store) UpsertProfile(ctx context.Context, p *models.Profile) error {
	if p.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	role := p.Role
	if role == "" {
		role = models.RoleBuyer
	}
	services, err := json.Marshal(p.JockeyServices)
	if err != nil {
		return err
	}
	if p.JockeyServices == nil {
		services = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, username, name, role, profile_image_url, bio, jockey_services)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			name = excluded.name,
			role = excluded.role,
			profile_image_url = excluded.profile_image_url,
			bio = excluded.bio,
			jockey_services = excluded.jockey_services
	`, p.ID, p.Username, p.Name, role, p.ProfileImageURL, p.Bio, string(services))
	return mapError(err)
}

// ResolveUser treats the access token as a profile id. It is only meant for
// local development where there is no auth server.
func (s *Store) ResolveUser(ctx context.Context, accessToken string) (string, error) {
	if accessToken == "" {
		return "", store.ErrUnauthenticated
	}
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM profiles WHERE id = ?`, accessToken).Scan(&id)
	if err != nil {
		if err = mapError(err); err == store.ErrNotFound {
			return "", store.ErrUnauthenticated
		}
		return "", err
	}
	return id, nil
}

// AddFollow records that followerID follows followingID.
func (s *Store) AddFollow(ctx context.Context, followerID, followingID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO follows (follower_id, following_id) VALUES (?, ?)`, followerID, followingID)
	return mapError(err)
}

// RemoveFollow deletes the follow edge if present.
func (s *Store) RemoveFollow(ctx context.Context, followerID, followingID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = ? AND following_id = ?`, followerID, followingID)
	return err
}

// IsFollowing reports whether followerID follows followingID.
func (s *Store) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM follows WHERE follower_id = ? AND following_id = ?`, followerID, followingID).Scan(&n)
	return n > 0, err
}

// CountFollowers returns how many users follow userID.
func (s *Store) CountFollowers(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM follows WHERE following_id = ?`, userID).Scan(&n)
	return n, err
}

// CountFollowing returns how many users userID follows.
func (s *Store) CountFollowing(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM follows WHERE follower_id = ?`, userID).Scan(&n)
	return n, err
}

var _ store.Backend = (*Store)(nil)
