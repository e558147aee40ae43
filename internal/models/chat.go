package models

import "time"

// Conversation pairs exactly two participants for message exchange.
// User1ID is always the lexically smaller participant id so that PairKey
// is the same whichever side created the row.
type Conversation struct {
	// ID is the unique identifier for the conversation
	ID string `json:"id"`

	User1ID string `json:"user1_id"`
	User2ID string `json:"user2_id"`

	// PairKey is the order-independent participant key, unique per pair
	PairKey string `json:"pair_key,omitempty"`

	// CreatedAt is when the conversation was first created
	CreatedAt time.Time `json:"created_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.User1ID == userID || c.User2ID == userID)
}

// Peer returns the participant that is not userID.
func (c *Conversation) Peer(userID string) string {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// ResolveChatRequest is the request body for opening a conversation
type ResolveChatRequest struct {
	PeerID string `json:"peer_id"`
}

// ResolveChatResponse is the response after opening a conversation
type ResolveChatResponse struct {
	Conversation Conversation `json:"conversation"`
	Peer         *Profile     `json:"peer,omitempty"`
}
