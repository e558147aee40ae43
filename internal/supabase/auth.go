package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/joakey/joakey/backend/internal/store"
)

type authUser struct {
	ID string `json:"id"`
}

// ResolveUser returns the id of the user owning a session access token.
func (c *Client) ResolveUser(ctx context.Context, accessToken string) (string, error) {
	if accessToken == "" {
		return "", store.ErrUnauthenticated
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create auth request: %w", err)
	}

	body, err := c.do(req, accessToken)
	if err != nil {
		return "", err
	}

	var user authUser
	if err := json.Unmarshal(body, &user); err != nil {
		return "", fmt.Errorf("failed to parse auth user: %w", err)
	}
	if user.ID == "" {
		return "", store.ErrUnauthenticated
	}
	return user.ID, nil
}
