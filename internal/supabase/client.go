package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joakey/joakey/backend/internal/config"
	"github.com/joakey/joakey/backend/internal/store"
)

// Client is a wrapper around the Supabase REST API.
// It uses the service role key for backend operations with elevated privileges.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Supabase client with the given configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: cfg.SupabaseURL,
		apiKey:  cfg.SupabaseKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// APIError is a non-2xx response from Supabase.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
	Body    string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("supabase error (status %d, code %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase error (status %d): %s", e.Status, e.Body)
}

// Is maps PostgREST and GoTrue failures onto the store sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case store.ErrConflict:
		// 23505 is Postgres unique_violation
		return e.Status == http.StatusConflict || e.Code == "23505"
	case store.ErrNotFound:
		// 22P02 is invalid_text_representation: an id that is not a uuid
		// cannot name any row
		return e.Status == http.StatusNotFound || e.Code == "22P02"
	case store.ErrUnauthenticated:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	}
	return false
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{}
	if err := json.Unmarshal(body, apiErr); err != nil {
		apiErr = &APIError{}
	}
	apiErr.Status = status
	apiErr.Body = string(body)
	return apiErr
}

// doRequest executes an HTTP request to the Supabase REST API.
// It automatically adds authentication headers and handles the response.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s/rest/v1/%s", c.baseURL, endpoint), reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	return c.do(req, c.apiKey)
}

// do adds Supabase authentication headers, sends req and returns the body
// of a successful response.
func (c *Client) do(req *http.Request, bearer string) ([]byte, error) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", bearer))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, newAPIError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

// fetchOne decodes a PostgREST array response holding at most one row.
func fetchOne[T any](ctx context.Context, c *Client, endpoint, what string) (*T, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var rows []T
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", what, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return &rows[0], nil
}

// fetchAll decodes a PostgREST array response.
func fetchAll[T any](ctx context.Context, c *Client, endpoint, what string) ([]T, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var rows []T
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", what, err)
	}
	return rows, nil
}

// mutateOne runs a PATCH or DELETE and reports ErrNotFound when no row matched.
func (c *Client) mutateOne(ctx context.Context, method, endpoint string, body interface{}, what string) error {
	respBody, err := c.doRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return fmt.Errorf("failed to parse %s: %w", what, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}

// query builds "table?k=v&..." with values escaped.
func query(table string, params url.Values) string {
	return table + "?" + params.Encode()
}

func eq(value string) string {
	return "eq." + value
}

// RealtimeURL returns the websocket endpoint for Supabase Realtime.
func (c *Client) RealtimeURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse supabase url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", errors.New("supabase url must be http or https")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	u.RawQuery = url.Values{"apikey": {c.apiKey}, "vsn": {"1.0.0"}}.Encode()
	return u.String(), nil
}

// APIKey returns the key realtime channels authenticate with.
func (c *Client) APIKey() string {
	return c.apiKey
}
