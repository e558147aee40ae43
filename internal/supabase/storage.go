package supabase

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Upload stores an object in a Storage bucket and returns its public URL.
func (c *Client) Upload(ctx context.Context, bucket, path, contentType string, body io.Reader) (string, error) {
	path = strings.TrimLeft(path, "/")
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	if _, err := c.do(req, c.apiKey); err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	return c.PublicURL(bucket, path), nil
}

// PublicURL returns the public address of an object in a public bucket.
func (c *Client) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, bucket, strings.TrimLeft(path, "/"))
}
