package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
)

// BroadcastInboxEvent sends a Supabase Realtime Broadcast event on the
// recipient's "inbox:<user>" topic so their conversation list can update
// without holding a change feed open for every chat.
// This uses the Supabase Realtime REST API so no WebSocket connection is needed.
func (c *Client) BroadcastInboxEvent(ctx context.Context, recipientID, conversationID, messageID string) error {
	payload := map[string]interface{}{
		"messages": []map[string]interface{}{
			{
				"topic": fmt.Sprintf("inbox:%s", recipientID),
				"event": "message",
				"payload": map[string]interface{}{
					"chat_id":    conversationID,
					"message_id": messageID,
				},
			},
		},
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast payload: %w", err)
	}

	url := fmt.Sprintf("%s/realtime/v1/api/broadcast", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create broadcast request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req, c.apiKey); err != nil {
		log.Printf("[Broadcast] Inbox event for %s failed: %v", recipientID, err)
		return fmt.Errorf("broadcast request failed: %w", err)
	}
	return nil
}
