package models

import "time"

// ContentType tags what a message's decoded text holds.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
)

// Valid reports whether t is one of the known content types.
func (t ContentType) Valid() bool {
	switch t {
	case ContentText, ContentImage, ContentVideo:
		return true
	}
	return false
}

// Message is a chat message as persisted in the messages table.
// Text always holds ciphertext; the backend never stores plaintext.
type Message struct {
	// ID is the unique identifier for this message
	ID string `json:"id"`

	// ChatID is the conversation this message belongs to
	ChatID string `json:"chat_id"`

	// SenderID is the participant who wrote the message
	SenderID string `json:"sender_id"`

	// Text is the encoded message payload
	Text string `json:"text"`

	// Type is the content-type tag (text, image or video)
	Type ContentType `json:"type"`

	// CreatedAt orders messages within a conversation
	CreatedAt time.Time `json:"created_at"`
}

// DecodedMessage is a message with its payload decoded for display.
type DecodedMessage struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chat_id"`
	SenderID  string      `json:"sender_id"`
	Text      string      `json:"text"`
	Type      ContentType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`

	// Undecryptable is set when Text is a placeholder because the stored
	// payload could not be decoded
	Undecryptable bool `json:"undecryptable,omitempty"`
}

// SendMessageRequest is the request body for sending a message
type SendMessageRequest struct {
	Text string      `json:"text"`
	Type ContentType `json:"type,omitempty"`
}

// EditMessageRequest is the request body for editing a message
type EditMessageRequest struct {
	Text string `json:"text"`
}

// GetMessagesResponse is the response for fetching messages
type GetMessagesResponse struct {
	Messages []DecodedMessage `json:"messages"`
}
