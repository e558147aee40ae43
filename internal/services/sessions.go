package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/joakey/joakey/backend/internal/codec"
	"github.com/joakey/joakey/backend/internal/store"
)

// SessionManager shares one ChatSession per conversation between every
// viewer of it. Sessions are opened on first Acquire and closed when the
// last holder releases them.
type SessionManager struct {
	db   store.MessageStore
	feed store.ChangeFeed
	keys *codec.KeyRing
	opts SessionOptions

	mu       sync.Mutex
	sessions map[string]*managedSession
}

type managedSession struct {
	session *ChatSession
	refs    int
	ready   chan struct{}
	err     error
}

// NewSessionManager creates a new SessionManager instance.
func NewSessionManager(db store.MessageStore, feed store.ChangeFeed, keys *codec.KeyRing, opts SessionOptions) *SessionManager {
	return &SessionManager{
		db:       db,
		feed:     feed,
		keys:     keys,
		opts:     opts,
		sessions: make(map[string]*managedSession),
	}
}

// Acquire returns the open session for conversationID, starting it if
// needed. The caller must call release exactly once when done.
func (m *SessionManager) Acquire(ctx context.Context, conversationID string) (*ChatSession, func(), error) {
	m.mu.Lock()
	entry, ok := m.sessions[conversationID]
	if ok {
		entry.refs++
		m.mu.Unlock()
		<-entry.ready
	} else {
		entry = &managedSession{refs: 1, ready: make(chan struct{})}
		m.sessions[conversationID] = entry
		m.mu.Unlock()
		entry.session, entry.err = m.open(ctx, conversationID)
		close(entry.ready)
	}

	var once sync.Once
	release := func() {
		once.Do(func() { m.release(conversationID, entry) })
	}
	if entry.err != nil {
		release()
		return nil, nil, entry.err
	}
	return entry.session, release, nil
}

func (m *SessionManager) open(ctx context.Context, conversationID string) (*ChatSession, error) {
	c, err := m.keys.ForConversation(conversationID)
	if err != nil {
		return nil, err
	}
	session := NewChatSession(conversationID, m.db, m.feed, c, m.opts)
	if err := session.Open(ctx); err != nil {
		return nil, err
	}
	log.Printf("[Session] Opened conversation %s", conversationID)
	return session, nil
}

func (m *SessionManager) release(conversationID string, entry *managedSession) {
	m.mu.Lock()
	entry.refs--
	last := entry.refs == 0
	if last && m.sessions[conversationID] == entry {
		delete(m.sessions, conversationID)
	}
	m.mu.Unlock()

	if last && entry.session != nil {
		entry.session.Close()
		log.Printf("[Session] Closed conversation %s", conversationID)
	}
}

// Sessions returns every open session.
func (m *SessionManager) Sessions() []*ChatSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ChatSession, 0, len(m.sessions))
	for _, entry := range m.sessions {
		select {
		case <-entry.ready:
			if entry.session != nil {
				out = append(out, entry.session)
			}
		default:
		}
	}
	return out
}

// NotifyDeleted applies a delete the caller performed to the open session
// for conversationID, if any. Hosted change feeds do not deliver filtered
// deletes, so this keeps local viewers current without waiting for a resync.
func (m *SessionManager) NotifyDeleted(conversationID, messageID string) {
	m.mu.Lock()
	entry, ok := m.sessions[conversationID]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-entry.ready:
	default:
		return
	}
	if entry.session == nil {
		return
	}
	old, _ := json.Marshal(map[string]string{"id": messageID, "chat_id": conversationID})
	go entry.session.handle(store.ChangeEvent{Type: store.EventDelete, Table: store.TableMessages, OldRecord: old})
}

// Close closes every session regardless of holders.
func (m *SessionManager) Close() {
	m.mu.Lock()
	entries := m.sessions
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()

	for _, entry := range entries {
		<-entry.ready
		if entry.session != nil {
			entry.session.Close()
		}
	}
}
