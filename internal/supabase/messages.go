package supabase

import (
	"context"
	"net/http"
	"net/url"

	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/store"
)

// ListMessages retrieves a conversation's messages, oldest first. Messages
// sharing a timestamp are ordered by id.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	endpoint := query(store.TableMessages, url.Values{
		"chat_id": {eq(conversationID)},
		"select":  {"*"},
		"order":   {"created_at.asc,id.asc"},
	})
	msgs, err := fetchAll[models.Message](ctx, c, endpoint, "messages")
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// GetMessage retrieves a single message by ID.
func (c *Client) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	endpoint := query(store.TableMessages, url.Values{"id": {eq(id)}, "select": {"*"}})
	return fetchOne[models.Message](ctx, c, endpoint, "message")
}

// InsertMessage inserts a new message.
func (c *Client) InsertMessage(ctx context.Context, msg *models.Message) error {
	_, err := c.doRequest(ctx, http.MethodPost, store.TableMessages, msg)
	return err
}

// UpdateMessageText replaces a message's encoded text.
func (c *Client) UpdateMessageText(ctx context.Context, id, text string) error {
	endpoint := query(store.TableMessages, url.Values{"id": {eq(id)}})
	return c.mutateOne(ctx, http.MethodPatch, endpoint, map[string]interface{}{"text": text}, "message")
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	endpoint := query(store.TableMessages, url.Values{"id": {eq(id)}})
	return c.mutateOne(ctx, http.MethodDelete, endpoint, nil, "message")
}
