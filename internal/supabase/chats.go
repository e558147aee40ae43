package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/store"
)

// FindConversation looks up the conversation between a and b in either
// stored order. Rows created by the old client carry no pair_key, so the
// lookup matches on the participant columns.
func (c *Client) FindConversation(ctx context.Context, a, b string) (*models.Conversation, error) {
	or := fmt.Sprintf("(and(user1_id.eq.%s,user2_id.eq.%s),and(user1_id.eq.%s,user2_id.eq.%s))", a, b, b, a)
	endpoint := query(store.TableChats, url.Values{
		"or":     {or},
		"select": {"*"},
		"order":  {"created_at.asc,id.asc"},
		"limit":  {"1"},
	})
	return fetchOne[models.Conversation](ctx, c, endpoint, "conversation")
}

// GetConversation retrieves a conversation by its ID.
func (c *Client) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	endpoint := query(store.TableChats, url.Values{"id": {eq(id)}, "select": {"*"}})
	return fetchOne[models.Conversation](ctx, c, endpoint, "conversation")
}

// CreateConversation inserts a new conversation. The chats table carries a
// unique constraint on pair_key, so a concurrent insert for the same pair
// fails with store.ErrConflict.
func (c *Client) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	_, err := c.doRequest(ctx, http.MethodPost, store.TableChats, conv)
	return err
}

// ListConversations retrieves every conversation.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	endpoint := query(store.TableChats, url.Values{"select": {"*"}, "order": {"created_at.asc"}})
	return fetchAll[models.Conversation](ctx, c, endpoint, "conversations")
}
