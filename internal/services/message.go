package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/joakey/joakey/backend/internal/codec"
	"github.com/joakey/joakey/backend/internal/metrics"
	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/store"
	"golang.org/x/time/rate"
)

// MessageConfig bounds what a sender may write.
type MessageConfig struct {
	MaxLength   int
	Rate        float64
	Burst       int
	MediaBucket string
}

// MessageService handles message storage and retrieval.
// Text is encoded with the conversation's codec before it reaches the store
// and decoded on the way out; the store only ever sees ciphertext.
type MessageService struct {
	db    store.MessageStore
	chats *ConversationService
	keys  *codec.KeyRing
	media store.MediaStore
	cfg   MessageConfig

	// limiters holds one send limiter per sender: senderID -> limiter
	limiters map[string]*senderLimiter
	mu       sync.Mutex

	onSent    []func(conv *models.Conversation, msg *models.Message)
	onDeleted []func(conversationID, messageID string)
}

// NewMessageService creates a new MessageService instance
func NewMessageService(db store.MessageStore, chats *ConversationService, keys *codec.KeyRing, cfg MessageConfig) *MessageService {
	return &MessageService{
		db:       db,
		chats:    chats,
		keys:     keys,
		cfg:      cfg,
		limiters: make(map[string]*senderLimiter),
	}
}

// SetMediaStore enables attachments.
func (s *MessageService) SetMediaStore(media store.MediaStore) {
	s.media = media
}

// OnSent registers fn to run after every successful send.
func (s *MessageService) OnSent(fn func(conv *models.Conversation, msg *models.Message)) {
	s.onSent = append(s.onSent, fn)
}

// OnDeleted registers fn to run after every successful delete.
func (s *MessageService) OnDeleted(fn func(conversationID, messageID string)) {
	s.onDeleted = append(s.onDeleted, fn)
}

// Send encodes text and stores it as a new message from senderID.
func (s *MessageService) Send(ctx context.Context, conversationID, senderID, text string, typ models.ContentType) (*models.DecodedMessage, error) {
	conv, err := s.chats.Authorize(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if typ == "" {
		typ = models.ContentText
	}
	if err := s.validate(text, typ); err != nil {
		return nil, err
	}
	if !s.limiter(senderID).Allow() {
		metrics.MessageOps.WithLabelValues("send", "rate_limited").Inc()
		return nil, ErrRateLimited
	}

	c, err := s.keys.ForConversation(conv.ID)
	if err != nil {
		return nil, err
	}
	ciphertext, err := c.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	msg := &models.Message{
		ID:        uuid.New().String(),
		ChatID:    conv.ID,
		SenderID:  senderID,
		Text:      ciphertext,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	}
	err = s.db.InsertMessage(ctx, msg)
	metrics.MessageOps.WithLabelValues("send", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	for _, fn := range s.onSent {
		fn(conv, msg)
	}
	return &models.DecodedMessage{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Text:      text,
		Type:      msg.Type,
		CreatedAt: msg.CreatedAt,
	}, nil
}

// Edit replaces the text of one of userID's own messages. The message keeps
// its id and creation time.
func (s *MessageService) Edit(ctx context.Context, conversationID, messageID, userID, text string) (*models.DecodedMessage, error) {
	msg, err := s.ownMessage(ctx, conversationID, messageID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.validate(text, msg.Type); err != nil {
		return nil, err
	}

	c, err := s.keys.ForConversation(msg.ChatID)
	if err != nil {
		return nil, err
	}
	ciphertext, err := c.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	err = s.db.UpdateMessageText(ctx, msg.ID, ciphertext)
	metrics.MessageOps.WithLabelValues("edit", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return &models.DecodedMessage{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Text:      text,
		Type:      msg.Type,
		CreatedAt: msg.CreatedAt,
	}, nil
}

// Delete removes one of userID's own messages.
func (s *MessageService) Delete(ctx context.Context, conversationID, messageID, userID string) error {
	msg, err := s.ownMessage(ctx, conversationID, messageID, userID)
	if err != nil {
		return err
	}
	err = s.db.DeleteMessage(ctx, msg.ID)
	metrics.MessageOps.WithLabelValues("delete", metrics.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	for _, fn := range s.onDeleted {
		fn(msg.ChatID, msg.ID)
	}
	return nil
}

// List returns a conversation's messages, decoded and oldest first.
func (s *MessageService) List(ctx context.Context, conversationID, userID string) ([]models.DecodedMessage, error) {
	conv, err := s.chats.Authorize(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	c, err := s.keys.ForConversation(conv.ID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.db.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return decodeMessages(c, msgs), nil
}

// AttachMedia uploads an image or video and sends its public URL as a
// message of the matching type.
func (s *MessageService) AttachMedia(ctx context.Context, conversationID, senderID, filename, contentType string, body io.Reader) (*models.DecodedMessage, error) {
	if s.media == nil {
		return nil, ErrMediaUnavailable
	}
	var typ models.ContentType
	switch {
	case strings.HasPrefix(contentType, "image/"):
		typ = models.ContentImage
	case strings.HasPrefix(contentType, "video/"):
		typ = models.ContentVideo
	default:
		return nil, fmt.Errorf("%w: unsupported attachment type %q", ErrInvalid, contentType)
	}
	conv, err := s.chats.Authorize(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	objectPath := path.Join(conv.ID, uuid.New().String()+strings.ToLower(path.Ext(filename)))
	url, err := s.media.Upload(ctx, s.cfg.MediaBucket, objectPath, contentType, body)
	if err != nil {
		return nil, fmt.Errorf("failed to upload attachment: %w", err)
	}
	log.Printf("[Message] Uploaded %s attachment %s", typ, objectPath)
	return s.Send(ctx, conv.ID, senderID, url, typ)
}

// MigrateLegacy re-encodes a conversation's legacy passphrase ciphertexts in
// the current format and returns how many rows were rewritten. Rows that
// cannot be decoded are left as they are.
func (s *MessageService) MigrateLegacy(ctx context.Context, conversationID string) (int, error) {
	if !s.keys.HasLegacy() {
		return 0, fmt.Errorf("%w: no legacy passphrase configured", ErrInvalid)
	}
	c, err := s.keys.ForConversation(conversationID)
	if err != nil {
		return 0, err
	}
	msgs, err := s.db.ListMessages(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to list messages: %w", err)
	}

	migrated := 0
	for _, msg := range msgs {
		if !codec.IsLegacy(msg.Text) {
			continue
		}
		plaintext, err := c.Decode(msg.Text)
		if err != nil {
			log.Printf("[Message] Skipping undecodable legacy message %s: %v", msg.ID, err)
			continue
		}
		ciphertext, err := c.Encode(plaintext)
		if err != nil {
			return migrated, fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
		}
		if err := s.db.UpdateMessageText(ctx, msg.ID, ciphertext); err != nil {
			return migrated, fmt.Errorf("failed to update message %s: %w", msg.ID, err)
		}
		migrated++
	}
	return migrated, nil
}

func (s *MessageService) ownMessage(ctx context.Context, conversationID, messageID, userID string) (*models.Message, error) {
	if _, err := s.chats.Authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	msg, err := s.db.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ChatID != conversationID {
		return nil, store.ErrNotFound
	}
	if msg.SenderID != userID {
		return nil, ErrForbidden
	}
	return msg, nil
}

func (s *MessageService) validate(text string, typ models.ContentType) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: unknown message type %q", ErrInvalid, typ)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: message text is empty", ErrInvalid)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: message text is not valid UTF-8", ErrInvalid)
	}
	if len(text) > s.cfg.MaxLength {
		return fmt.Errorf("%w: message exceeds %d bytes", ErrInvalid, s.cfg.MaxLength)
	}
	return nil
}

// limiterSweepSize is how many sender limiters may accumulate before idle
// ones are pruned.
const limiterSweepSize = 1024

type senderLimiter struct {
	*rate.Limiter
	lastUsed time.Time
}

func (s *MessageService) limiter(senderID string) *rate.Limiter {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[senderID]
	if !ok {
		if len(s.limiters) >= limiterSweepSize {
			s.pruneLimitersLocked(now)
		}
		l = &senderLimiter{Limiter: rate.NewLimiter(rate.Limit(s.cfg.Rate), s.cfg.Burst)}
		s.limiters[senderID] = l
	}
	l.lastUsed = now
	return l.Limiter
}

// pruneLimitersLocked drops limiters idle long enough to have refilled their
// whole burst, since a new limiter is equivalent. s.mu must be held.
func (s *MessageService) pruneLimitersLocked(now time.Time) int {
	if s.cfg.Rate <= 0 {
		return 0
	}
	refill := time.Duration(float64(s.cfg.Burst) / s.cfg.Rate * float64(time.Second))
	pruned := 0
	for id, l := range s.limiters {
		if now.Sub(l.lastUsed) >= refill {
			delete(s.limiters, id)
			pruned++
		}
	}
	return pruned
}

// decodeMessage decodes one stored message for display. Failures become the
// placeholder text and are flagged and counted.
func decodeMessage(c *codec.Codec, msg models.Message) models.DecodedMessage {
	out := models.DecodedMessage{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		CreatedAt: msg.CreatedAt,
	}
	text, err := c.Decode(msg.Text)
	if err != nil {
		metrics.DecodeFailures.Inc()
		out.Text = codec.Placeholder
		out.Undecryptable = true
		return out
	}
	out.Text = text
	return out
}

func decodeMessages(c *codec.Codec, msgs []models.Message) []models.DecodedMessage {
	out := make([]models.DecodedMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, decodeMessage(c, msg))
	}
	return out
}
