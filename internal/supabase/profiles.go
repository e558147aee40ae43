package supabase

import (
	"context"
	"net/http"
	"net/url"

	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/store"
)

const profileColumns = "id,username,name,role,profile_image_url,bio,jockey_services"

// GetProfile retrieves a public profile by ID.
func (c *Client) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	endpoint := query(store.TableProfiles, url.Values{"id": {eq(id)}, "select": {profileColumns}})
	return fetchOne[models.Profile](ctx, c, endpoint, "profile")
}

// AddFollow records that followerID follows followingID.
func (c *Client) AddFollow(ctx context.Context, followerID, followingID string) error {
	_, err := c.doRequest(ctx, http.MethodPost, store.TableFollows, models.Follow{
		FollowerID:  followerID,
		FollowingID: followingID,
	})
	return err
}

// RemoveFollow deletes the follow edge if present.
func (c *Client) RemoveFollow(ctx context.Context, followerID, followingID string) error {
	endpoint := query(store.TableFollows, url.Values{
		"follower_id":  {eq(followerID)},
		"following_id": {eq(followingID)},
	})
	_, err := c.doRequest(ctx, http.MethodDelete, endpoint, nil)
	return err
}

// IsFollowing reports whether followerID follows followingID.
func (c *Client) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	endpoint := query(store.TableFollows, url.Values{
		"follower_id":  {eq(followerID)},
		"following_id": {eq(followingID)},
		"select":       {"follower_id"},
	})
	rows, err := fetchAll[models.Follow](ctx, c, endpoint, "follows")
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// CountFollowers returns how many users follow userID.
func (c *Client) CountFollowers(ctx context.Context, userID string) (int, error) {
	endpoint := query(store.TableFollows, url.Values{"following_id": {eq(userID)}, "select": {"follower_id"}})
	rows, err := fetchAll[models.Follow](ctx, c, endpoint, "follows")
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// CountFollowing returns how many users userID follows.
func (c *Client) CountFollowing(ctx context.Context, userID string) (int, error) {
	endpoint := query(store.TableFollows, url.Values{"follower_id": {eq(userID)}, "select": {"following_id"}})
	rows, err := fetchAll[models.Follow](ctx, c, endpoint, "follows")
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
