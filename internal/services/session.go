package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/joakey/joakey/backend/internal/codec"
	"github.com/joakey/joakey/backend/internal/metrics"
	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/store"
)

const fetchTimeout = 10 * time.Second

// SessionState is the lifecycle stage of a ChatSession.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateSubscribed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// SessionOptions tunes how a ChatSession applies change events.
type SessionOptions struct {
	// FullReload re-fetches the whole list on every event instead of
	// applying changed rows by id.
	FullReload bool
}

// Snapshot is one synchronized view of a conversation.
type Snapshot struct {
	ConversationID string                  `json:"conversation_id"`
	Version        uint64                  `json:"version"`
	Messages       []models.DecodedMessage `json:"messages"`

	// Err is set when the latest fetch failed; Messages then holds the last
	// good list.
	Err error `json:"-"`
}

// ChatSession keeps one conversation's message list in sync with the store.
// It subscribes to the conversation's change feed, applies changed rows by
// id, and falls back to re-fetching the whole list for anything ambiguous.
type ChatSession struct {
	conversationID string
	db             store.MessageStore
	feed           store.ChangeFeed
	codec          *codec.Codec
	opts           SessionOptions

	// syncMu serializes fetches and event application.
	syncMu sync.Mutex
	list   []models.DecodedMessage

	mu          sync.Mutex
	state       SessionState
	sub         store.Subscription
	current     Snapshot
	watchers    map[int]chan Snapshot
	nextWatcher int
}

// NewChatSession creates an uninitialized session. Call Open to start it.
func NewChatSession(conversationID string, db store.MessageStore, feed store.ChangeFeed, c *codec.Codec, opts SessionOptions) *ChatSession {
	return &ChatSession{
		conversationID: conversationID,
		db:             db,
		feed:           feed,
		codec:          c,
		opts:           opts,
		current:        Snapshot{ConversationID: conversationID, Messages: []models.DecodedMessage{}},
		watchers:       make(map[int]chan Snapshot),
	}
}

// ConversationID returns the conversation this session follows.
func (s *ChatSession) ConversationID() string {
	return s.conversationID
}

// State returns the current lifecycle stage.
func (s *ChatSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open subscribes to the conversation's changes and loads the initial list.
// The subscription is taken before the fetch so nothing written in between
// is missed.
func (s *ChatSession) Open(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	if s.state != StateUninitialized {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot open session in state %s", state)
	}
	s.mu.Unlock()

	sub, err := s.feed.Subscribe(ctx, store.TableMessages, store.EqFilter("chat_id", s.conversationID), s.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to conversation %s: %w", s.conversationID, err)
	}

	msgs, err := s.db.ListMessages(ctx, s.conversationID)
	if err != nil {
		sub.Close()
		return fmt.Errorf("failed to load conversation %s: %w", s.conversationID, err)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		sub.Close()
		return ErrSessionClosed
	}
	s.state = StateSubscribed
	s.sub = sub
	s.mu.Unlock()

	metrics.ActiveSessions.Inc()
	s.list = decodeMessages(s.codec, msgs)
	s.publishLocked(nil)
	metrics.SessionSyncs.WithLabelValues("reload").Inc()
	return nil
}

// Snapshot returns the latest view.
func (s *ChatSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Watch returns a channel carrying the latest snapshot. Slow readers skip
// intermediate versions. The channel is closed by cancel or by Close.
func (s *ChatSession) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = ch
	if s.current.Version > 0 {
		ch <- s.current
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Refresh re-fetches the full list.
func (s *ChatSession) Refresh(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if s.State() != StateSubscribed {
		return ErrSessionClosed
	}
	return s.reloadLocked(ctx)
}

// Close cancels the subscription and closes every watcher. Fetches still in
// flight are discarded when they return.
func (s *ChatSession) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	wasSubscribed := s.state == StateSubscribed
	s.state = StateClosed
	sub := s.sub
	s.sub = nil
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	s.mu.Unlock()

	if wasSubscribed {
		metrics.ActiveSessions.Dec()
	}
	if sub != nil {
		return sub.Close()
	}
	return nil
}

// handle processes one change feed event.
func (s *ChatSession) handle(evt store.ChangeEvent) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if s.State() != StateSubscribed {
		return
	}

	if !s.opts.FullReload && s.applyLocked(evt) {
		metrics.SessionSyncs.WithLabelValues("incremental").Inc()
		s.publishLocked(nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	if err := s.reloadLocked(ctx); err != nil {
		log.Printf("[Session] Reload of %s after %s failed: %v", s.conversationID, evt.Type, err)
	}
}

// applyLocked applies a complete row change by id. It returns false when the
// event is ambiguous and the list must be re-fetched instead.
func (s *ChatSession) applyLocked(evt store.ChangeEvent) bool {
	switch evt.Type {
	case store.EventInsert, store.EventUpdate:
		var msg models.Message
		if len(evt.Record) == 0 || json.Unmarshal(evt.Record, &msg) != nil {
			return false
		}
		if msg.ID == "" || msg.ChatID != s.conversationID || msg.Text == "" || msg.CreatedAt.IsZero() {
			return false
		}
		s.upsertLocked(decodeMessage(s.codec, msg))
		return true

	case store.EventDelete:
		var old struct {
			ID string `json:"id"`
		}
		if len(evt.OldRecord) == 0 || json.Unmarshal(evt.OldRecord, &old) != nil || old.ID == "" {
			return false
		}
		s.removeLocked(old.ID)
		return true
	}
	return false
}

func (s *ChatSession) upsertLocked(msg models.DecodedMessage) {
	next := make([]models.DecodedMessage, 0, len(s.list)+1)
	for _, m := range s.list {
		if m.ID != msg.ID {
			next = append(next, m)
		}
	}
	next = append(next, msg)
	sortMessages(next)
	s.list = next
}

func (s *ChatSession) removeLocked(id string) {
	next := make([]models.DecodedMessage, 0, len(s.list))
	for _, m := range s.list {
		if m.ID != id {
			next = append(next, m)
		}
	}
	s.list = next
}

// reloadLocked replaces the list with a fresh fetch. A failed fetch keeps
// the previous list and publishes the error.
func (s *ChatSession) reloadLocked(ctx context.Context) error {
	msgs, err := s.db.ListMessages(ctx, s.conversationID)
	if s.State() != StateSubscribed {
		return ErrSessionClosed
	}
	if err != nil {
		s.publishLocked(err)
		return err
	}
	metrics.SessionSyncs.WithLabelValues("reload").Inc()
	s.list = decodeMessages(s.codec, msgs)
	s.publishLocked(nil)
	return nil
}

// publishLocked hands the current list to every watcher, replacing any
// snapshot they have not read yet. syncMu must be held.
func (s *ChatSession) publishLocked(fetchErr error) {
	msgs := make([]models.DecodedMessage, len(s.list))
	copy(msgs, s.list)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.current = Snapshot{
		ConversationID: s.conversationID,
		Version:        s.current.Version + 1,
		Messages:       msgs,
		Err:            fetchErr,
	}
	for _, ch := range s.watchers {
		select {
		case ch <- s.current:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s.current
		}
	}
}

// sortMessages orders by creation time, then id.
func sortMessages(msgs []models.DecodedMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
