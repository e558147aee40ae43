package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/store"
	"golang.org/x/sync/singleflight"
)

// ConversationService resolves and authorizes two-party conversations.
type ConversationService struct {
	db    store.ConversationStore
	group singleflight.Group
}

// resolveTimeout bounds one find-or-create round trip.
const resolveTimeout = 10 * time.Second

// NewConversationService creates a new ConversationService instance.
func NewConversationService(db store.ConversationStore) *ConversationService {
	return &ConversationService{db: db}
}

// Resolve returns the conversation between viewerID and peerID, creating it
// on first contact. Resolving (A, B) and (B, A) yields the same conversation,
// including when both sides race to create it.
func (s *ConversationService) Resolve(ctx context.Context, viewerID, peerID string) (*models.Conversation, error) {
	if viewerID == "" || peerID == "" {
		return nil, fmt.Errorf("%w: both participants are required", ErrInvalid)
	}
	if viewerID == peerID {
		return nil, fmt.Errorf("%w: cannot open a conversation with yourself", ErrInvalid)
	}

	// The shared flight is not tied to any one caller's cancellation.
	results := s.group.DoChan(store.PairKey(viewerID, peerID), func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		return s.findOrCreate(flightCtx, viewerID, peerID)
	})
	select {
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		conv := *res.Val.(*models.Conversation)
		return &conv, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *ConversationService) findOrCreate(ctx context.Context, a, b string) (*models.Conversation, error) {
	conv, err := s.db.FindConversation(ctx, a, b)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}

	lo, hi := store.OrderPair(a, b)
	conv = &models.Conversation{
		ID:        uuid.New().String(),
		User1ID:   lo,
		User2ID:   hi,
		PairKey:   store.PairKey(lo, hi),
		CreatedAt: time.Now().UTC(),
	}
	err = s.db.CreateConversation(ctx, conv)
	if err == nil {
		log.Printf("[Chat] Created conversation %s for %s", conv.ID, conv.PairKey)
		return conv, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	// The peer created it first.
	conv, err = s.db.FindConversation(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read conversation after conflict: %w", err)
	}
	return conv, nil
}

// Authorize returns the conversation if userID is one of its participants.
func (s *ConversationService) Authorize(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", ErrInvalid)
	}
	conv, err := s.db.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return conv, nil
}
