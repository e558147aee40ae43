package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joakey/joakey/backend/internal/codec"
	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/store"
)

func insertEncoded(t *testing.T, env *testEnv, convID, id, sender, text string, at time.Time) {
	t.Helper()
	c, err := env.keys.ForConversation(convID)
	if err != nil {
		t.Fatalf("ForConversation failed: %v", err)
	}
	enc, err := c.Encode(text)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	msg := &models.Message{ID: id, ChatID: convID, SenderID: sender, Text: enc, Type: models.ContentText, CreatedAt: at}
	if err := env.db.InsertMessage(context.Background(), msg); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
}

func TestSessionInitialLoadIsOrdered(t *testing.T) {
	env := newTestEnv(t, "", SessionOptions{})
	conv := env.conversation(t, "alice", "bob")
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	insertEncoded(t, env, conv.ID, "c", "alice", "third", t1.Add(2*time.Second))
	insertEncoded(t, env, conv.ID, "a", "bob", "first", t1)
	insertEncoded(t, env, conv.ID, "b", "alice", "second", t1.Add(time.Second))

	session, release, err := env.sessions.Acquire(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	snap := session.Snapshot()
	if !equalStrings(texts(snap.Messages), []string{"first", "second", "third"}) {
		t.Fatalf("unexpected order %v", texts(snap.Messages))
	}
	if session.State() != StateSubscribed {
		t.Fatalf("expected subscribed, got %s", session.State())
	}
}

func runSyncScenario(t *testing.T, opts SessionOptions) {
	env := newTestEnv(t, "", opts)
	ctx := context.Background()
	conv := env.conversation(t, "alice", "bob")

	session, release, err := env.sessions.Acquire(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()
	updates, cancel := session.Watch()
	defer cancel()

	// Out-of-order arrival still renders by timestamp.
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	insertEncoded(t, env, conv.ID, "m3", "alice", "t3", t1.Add(2*time.Second))
	insertEncoded(t, env, conv.ID, "m1", "bob", "t1", t1)
	insertEncoded(t, env, conv.ID, "m2", "alice", "t2", t1.Add(time.Second))
	waitSnapshot(t, updates, func(s Snapshot) bool {
		return equalStrings(texts(s.Messages), []string{"t1", "t2", "t3"})
	})

	// A sends, B's view shows it.
	sent, err := env.messages.Send(ctx, conv.ID, "alice", "hello", "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	snap := waitSnapshot(t, updates, func(s Snapshot) bool { return len(s.Messages) == 4 })
	if last := snap.Messages[3]; last.Text != "hello" || last.ID != sent.ID {
		t.Fatalf("expected hello last, got %+v", last)
	}

	// Edit keeps the id.
	if _, err := env.messages.Edit(ctx, conv.ID, sent.ID, "alice", "hello, edited"); err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	snap = waitSnapshot(t, updates, func(s Snapshot) bool {
		return len(s.Messages) == 4 && s.Messages[3].Text == "hello, edited"
	})
	if snap.Messages[3].ID != sent.ID {
		t.Fatalf("edit produced a new id %s", snap.Messages[3].ID)
	}

	// Delete removes it with no placeholder left behind.
	if err := env.messages.Delete(ctx, conv.ID, "m1", "bob"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	snap = waitSnapshot(t, updates, func(s Snapshot) bool { return len(s.Messages) == 3 })
	for _, m := range snap.Messages {
		if m.ID == "m1" || m.Undecryptable {
			t.Fatalf("deleted message still rendered: %+v", snap.Messages)
		}
	}

	// Messages from other conversations never leak in.
	other := env.conversation(t, "alice", "carol")
	if _, err := env.messages.Send(ctx, other.ID, "carol", "elsewhere", ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := session.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if got := ids(session.Snapshot().Messages); len(got) != 3 {
		t.Fatalf("expected 3 messages, got %v", got)
	}
}

func TestSessionIncrementalSync(t *testing.T) {
	runSyncScenario(t, SessionOptions{})
}

func TestSessionFullReloadSync(t *testing.T) {
	runSyncScenario(t, SessionOptions{FullReload: true})
}

func TestSessionSameTimestampOrdersByID(t *testing.T) {
	for name, opts := range map[string]SessionOptions{
		"incremental": {},
		"fullReload":  {FullReload: true},
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, "", opts)
			ctx := context.Background()
			conv := env.conversation(t, "alice", "bob")

			session, release, err := env.sessions.Acquire(ctx, conv.ID)
			if err != nil {
				t.Fatalf("Acquire failed: %v", err)
			}
			defer release()
			updates, cancel := session.Watch()
			defer cancel()

			at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			insertEncoded(t, env, conv.ID, "z", "alice", "later id", at)
			insertEncoded(t, env, conv.ID, "a", "bob", "earlier id", at)
			waitSnapshot(t, updates, func(s Snapshot) bool {
				return equalStrings(ids(s.Messages), []string{"a", "z"})
			})

			if err := session.Refresh(ctx); err != nil {
				t.Fatalf("Refresh failed: %v", err)
			}
			if got := ids(session.Snapshot().Messages); !equalStrings(got, []string{"a", "z"}) {
				t.Fatalf("expected [a z] after reload, got %v", got)
			}
		})
	}
}

// fakeMessages is a MessageStore whose list the test controls directly.
type fakeMessages struct {
	store.MessageStore

	mu    sync.Mutex
	rows  []models.Message
	err   error
	block chan struct{}
	calls int
}

func (f *fakeMessages) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	rows := append([]models.Message(nil), f.rows...)
	err := f.err
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return rows, err
}

func (f *fakeMessages) set(rows []models.Message, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
	f.err = err
}

// fakeFeed hands events to the subscriber synchronously.
type fakeFeed struct {
	mu      sync.Mutex
	handler store.Handler
	filter  string
	closed  bool
}

func (f *fakeFeed) Subscribe(_ context.Context, table, filter string, handler store.Handler) (store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	f.filter = filter
	return f, nil
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeFeed) push(evt store.ChangeEvent) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(evt)
}

func newFakeSession(t *testing.T, db *fakeMessages, feed *fakeFeed, opts SessionOptions) (*ChatSession, func(string) models.Message) {
	t.Helper()
	keys, err := codec.NewKeyRing(testMasterKey(), "")
	if err != nil {
		t.Fatalf("NewKeyRing failed: %v", err)
	}
	c, err := keys.ForConversation("chat-1")
	if err != nil {
		t.Fatalf("ForConversation failed: %v", err)
	}
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	n := 0
	mk := func(text string) models.Message {
		n++
		enc, err := c.Encode(text)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		return models.Message{
			ID:        "m" + string(rune('0'+n)),
			ChatID:    "chat-1",
			SenderID:  "alice",
			Text:      enc,
			Type:      models.ContentText,
			CreatedAt: t1.Add(time.Duration(n) * time.Second),
		}
	}
	session := NewChatSession("chat-1", db, feed, c, opts)
	if err := session.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session, mk
}

func TestSessionSubscribesWithConversationFilter(t *testing.T) {
	feed := &fakeFeed{}
	newFakeSession(t, &fakeMessages{}, feed, SessionOptions{})
	if feed.filter != "chat_id=eq.chat-1" {
		t.Fatalf("unexpected filter %q", feed.filter)
	}
}

func TestSessionResyncEventReloads(t *testing.T) {
	db := &fakeMessages{}
	feed := &fakeFeed{}
	session, mk := newFakeSession(t, db, feed, SessionOptions{})

	// Written without a usable event; only RESYNC announces it.
	db.set([]models.Message{mk("quiet")}, nil)
	feed.push(store.ChangeEvent{Type: store.EventInsert, Table: store.TableMessages, Record: []byte(`{"id":"partial"}`)})
	if got := texts(session.Snapshot().Messages); !equalStrings(got, []string{"quiet"}) {
		t.Fatalf("incomplete record should fall back to reload, got %v", got)
	}

	db.set([]models.Message{mk("quiet"), mk("louder")}, nil)
	feed.push(store.ChangeEvent{Type: store.EventResync, Table: store.TableMessages})
	if got := len(session.Snapshot().Messages); got != 2 {
		t.Fatalf("expected reload after RESYNC, got %d messages", got)
	}
}

func TestSessionDeleteAppliesWithoutFetch(t *testing.T) {
	db := &fakeMessages{}
	feed := &fakeFeed{}
	session, _ := newFakeSession(t, db, feed, SessionOptions{})
	callsBefore := db.calls

	feed.push(store.ChangeEvent{Type: store.EventDelete, Table: store.TableMessages, OldRecord: []byte(`{"id":"nope"}`)})
	if db.calls != callsBefore {
		t.Fatalf("delete by id should not re-fetch")
	}
	if v := session.Snapshot().Version; v != 2 {
		t.Fatalf("expected version 2 after delete, got %d", v)
	}
}

func TestSessionFetchErrorKeepsLastList(t *testing.T) {
	db := &fakeMessages{}
	feed := &fakeFeed{}
	session, mk := newFakeSession(t, db, feed, SessionOptions{})

	db.set([]models.Message{mk("kept")}, nil)
	if err := session.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	boom := errors.New("backend down")
	db.set(nil, boom)
	if err := session.Refresh(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	snap := session.Snapshot()
	if !errors.Is(snap.Err, boom) {
		t.Fatalf("expected snapshot to carry the error, got %v", snap.Err)
	}
	if !equalStrings(texts(snap.Messages), []string{"kept"}) {
		t.Fatalf("expected last good list, got %v", texts(snap.Messages))
	}
}

func TestSessionDropsFetchCompletedAfterClose(t *testing.T) {
	db := &fakeMessages{}
	feed := &fakeFeed{}
	session, mk := newFakeSession(t, db, feed, SessionOptions{})
	updates, cancel := session.Watch()
	defer cancel()
	before := session.Snapshot().Version

	block := make(chan struct{})
	db.mu.Lock()
	db.block = block
	db.rows = []models.Message{mk("late")}
	db.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- session.Refresh(context.Background()) }()

	// Wait until the fetch is in flight.
	deadline := time.Now().Add(5 * time.Second)
	for {
		db.mu.Lock()
		calls := db.calls
		db.mu.Unlock()
		if calls >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("refresh never started")
		}
		time.Sleep(time.Millisecond)
	}

	session.Close()
	close(block)

	if err := <-done; !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if session.Snapshot().Version != before {
		t.Fatalf("stale fetch was applied after close")
	}
	if !feed.closed {
		t.Fatalf("subscription not released")
	}
	for range updates {
	}
	if err := session.Refresh(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after close, got %v", err)
	}
}

func TestSessionWatchLatestWins(t *testing.T) {
	db := &fakeMessages{}
	feed := &fakeFeed{}
	session, mk := newFakeSession(t, db, feed, SessionOptions{})
	updates, cancel := session.Watch()
	defer cancel()

	msgs := []models.Message{}
	for i := 0; i < 5; i++ {
		msgs = append(msgs, mk("x"))
		db.set(msgs, nil)
		if err := session.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
	}
	snap := <-updates
	if len(snap.Messages) != 5 {
		t.Fatalf("expected only the latest snapshot, got %d messages", len(snap.Messages))
	}
	select {
	case extra := <-updates:
		t.Fatalf("unexpected extra snapshot %d", extra.Version)
	default:
	}
}

func TestSessionManagerSharesAndReleases(t *testing.T) {
	env := newTestEnv(t, "", SessionOptions{})
	ctx := context.Background()
	conv := env.conversation(t, "alice", "bob")

	s1, release1, err := env.sessions.Acquire(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	s2, release2, err := env.sessions.Acquire(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected the same session for one conversation")
	}
	if n := len(env.sessions.Sessions()); n != 1 {
		t.Fatalf("expected 1 open session, got %d", n)
	}

	release1()
	release1()
	if s1.State() != StateSubscribed {
		t.Fatalf("session closed while still held")
	}
	release2()
	if s1.State() != StateClosed {
		t.Fatalf("expected session closed after last release, got %s", s1.State())
	}
	if n := len(env.sessions.Sessions()); n != 0 {
		t.Fatalf("expected no open sessions, got %d", n)
	}

	s3, release3, err := env.sessions.Acquire(ctx, conv.ID)
	if err != nil {
		t.Fatalf("re-Acquire failed: %v", err)
	}
	defer release3()
	if s3 == s1 {
		t.Fatalf("expected a fresh session after teardown")
	}
}

func TestResyncRefreshesOpenSessions(t *testing.T) {
	env := newTestEnv(t, "", SessionOptions{})
	ctx := context.Background()
	a := env.conversation(t, "alice", "bob")
	b := env.conversation(t, "alice", "carol")

	for _, id := range []string{a.ID, b.ID} {
		_, release, err := env.sessions.Acquire(ctx, id)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		defer release()
	}

	svc := NewResyncService(env.sessions, time.Hour)
	if n := svc.resync(); n != 2 {
		t.Fatalf("expected 2 refreshed sessions, got %d", n)
	}
}
