package services

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/joakey/joakey/backend/internal/codec"
	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/realtime"
	"github.com/joakey/joakey/backend/internal/sqlitestore"
)

type testEnv struct {
	db       *sqlitestore.Store
	broker   *realtime.Broker
	keys     *codec.KeyRing
	chats    *ConversationService
	messages *MessageService
	sessions *SessionManager
}

func testMasterKey() []byte {
	return bytes.Repeat([]byte{9}, codec.KeySize)
}

func newTestEnv(t *testing.T, legacyPassphrase string, opts SessionOptions) *testEnv {
	t.Helper()
	broker := realtime.NewBroker()
	db, err := sqlitestore.Open(filepath.Join(t.TempDir(), "test.db"), broker)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	keys, err := codec.NewKeyRing(testMasterKey(), legacyPassphrase)
	if err != nil {
		t.Fatalf("NewKeyRing failed: %v", err)
	}

	env := &testEnv{db: db, broker: broker, keys: keys}
	env.chats = NewConversationService(db)
	env.messages = NewMessageService(db, env.chats, keys, MessageConfig{
		MaxLength:   4000,
		Rate:        100,
		Burst:       100,
		MediaBucket: "chat-media",
	})
	env.sessions = NewSessionManager(db, broker, keys, opts)
	env.messages.OnDeleted(env.sessions.NotifyDeleted)

	t.Cleanup(func() {
		env.sessions.Close()
		broker.Close()
		db.Close()
	})

	ctx := context.Background()
	for _, p := range []models.Profile{
		{ID: "alice", Username: "alice", Name: "Alice"},
		{ID: "bob", Username: "bob", Name: "Bob"},
		{ID: "carol", Username: "carol", Name: "Carol"},
		{ID: "jockey", Username: "rankup", Name: "Rank Up", Role: models.RoleJockey, JockeyServices: []models.JockeyService{
			{Game: "Mobile Legends", FromRank: "Epic", ToRank: "Legend", Price: 150000},
			{Game: "Valorant", FromRank: "Silver", ToRank: "Gold", Price: 0},
		}},
	} {
		p := p
		if err := db.UpsertProfile(ctx, &p); err != nil {
			t.Fatalf("seed profile %s: %v", p.ID, err)
		}
	}
	return env
}

func (env *testEnv) conversation(t *testing.T, a, b string) *models.Conversation {
	t.Helper()
	conv, err := env.chats.Resolve(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Resolve(%s, %s) failed: %v", a, b, err)
	}
	return conv
}

// waitSnapshot reads snapshots until one satisfies ok.
func waitSnapshot(t *testing.T, ch <-chan Snapshot, ok func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap, open := <-ch:
			if !open {
				t.Fatalf("snapshot channel closed")
			}
			if ok(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
			return Snapshot{}
		}
	}
}

func texts(msgs []models.DecodedMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func ids(msgs []models.DecodedMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
