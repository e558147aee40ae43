// Package store defines the backend capabilities the chat services consume.
// Implementations live in the supabase and sqlitestore packages.
package store

import (
	"context"
	"errors"
	"io"

	"github.com/joakey/joakey/backend/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")

	// ErrUnauthenticated is returned when an access token does not map to a user.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Table names.
const (
	TableChats    = "chats"
	TableMessages = "messages"
	TableProfiles = "profiles"
	TableFollows  = "follows"
)

// ConversationStore persists conversations.
type ConversationStore interface {
	// FindConversation returns the conversation between a and b, whichever
	// order they were stored in.
	FindConversation(ctx context.Context, a, b string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// CreateConversation returns ErrConflict when the pair already has one.
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	ListConversations(ctx context.Context) ([]models.Conversation, error)
}

// MessageStore persists messages.
type MessageStore interface {
	// ListMessages returns a conversation's messages ordered by
	// created_at ascending, then id ascending.
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	InsertMessage(ctx context.Context, msg *models.Message) error
	UpdateMessageText(ctx context.Context, id, text string) error
	DeleteMessage(ctx context.Context, id string) error
}

// ProfileStore reads public profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
}

// FollowStore persists the follow graph.
type FollowStore interface {
	// AddFollow returns ErrConflict if the edge already exists.
	AddFollow(ctx context.Context, followerID, followingID string) error
	RemoveFollow(ctx context.Context, followerID, followingID string) error
	IsFollowing(ctx context.Context, followerID, followingID string) (bool, error)
	CountFollowers(ctx context.Context, userID string) (int, error)
	CountFollowing(ctx context.Context, userID string) (int, error)
}

// MediaStore uploads objects and returns their public URL.
type MediaStore interface {
	Upload(ctx context.Context, bucket, path, contentType string, body io.Reader) (string, error)
}

// IdentityResolver maps a session access token to a participant id.
type IdentityResolver interface {
	ResolveUser(ctx context.Context, accessToken string) (string, error)
}

// Backend bundles the stores a deployment provides.
type Backend interface {
	ConversationStore
	MessageStore
	ProfileStore
	FollowStore
	IdentityResolver
}
