package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joakey/joakey/backend/internal/codec"
	"github.com/joakey/joakey/backend/internal/handlers"
	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/realtime"
	"github.com/joakey/joakey/backend/internal/services"
	"github.com/joakey/joakey/backend/internal/sqlitestore"
)

type liveEnv struct {
	srv      *httptest.Server
	hub      *Hub
	chatID   string
	sessions *services.SessionManager
}

func newLiveEnv(t *testing.T) *liveEnv {
	t.Helper()
	broker := realtime.NewBroker()
	db, err := sqlitestore.Open(filepath.Join(t.TempDir(), "ws.db"), broker)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	keys, err := codec.NewKeyRing(bytes.Repeat([]byte{2}, codec.KeySize), "")
	if err != nil {
		t.Fatalf("NewKeyRing failed: %v", err)
	}
	ctx := context.Background()
	for _, id := range []string{"alice", "bob", "carol"} {
		if err := db.UpsertProfile(ctx, &models.Profile{ID: id, Username: id}); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
	}

	chats := services.NewConversationService(db)
	messages := services.NewMessageService(db, chats, keys, services.MessageConfig{MaxLength: 4000, Rate: 100, Burst: 100})
	sessions := services.NewSessionManager(db, broker, keys, services.SessionOptions{})
	messages.OnDeleted(sessions.NotifyDeleted)

	conv, err := chats.Resolve(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	hub := NewHub()
	go hub.Run()

	srv := httptest.NewServer(handlers.NewRouter(handlers.RouterConfig{
		Backend:  "sqlite",
		Identity: db,
		Chats:    handlers.NewChatHandler(chats, db),
		Messages: handlers.NewMessageHandler(messages),
		LiveChat: NewHandler(hub, chats, sessions, messages),
	}))
	t.Cleanup(func() {
		srv.Close()
		sessions.Close()
		broker.Close()
		db.Close()
	})
	return &liveEnv{srv: srv, hub: hub, chatID: conv.ID, sessions: sessions}
}

func (env *liveEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/chats/" + env.chatID + "?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", token, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type incoming struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref"`
	Error   string          `json:"error"`
	Payload json.RawMessage `json:"payload"`
	snap    services.Snapshot
}

func readUntil(t *testing.T, conn *websocket.Conn, ok func(incoming) bool) incoming {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var in incoming
		if err := conn.ReadJSON(&in); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if in.Type == FrameMessages {
			json.Unmarshal(in.Payload, &in.snap)
		}
		if ok(in) {
			return in
		}
	}
}

func hasText(in incoming, text string) bool {
	if in.Type != FrameMessages {
		return false
	}
	for _, m := range in.snap.Messages {
		if m.Text == text {
			return true
		}
	}
	return false
}

func TestLiveViewSyncsBothParticipants(t *testing.T) {
	env := newLiveEnv(t)
	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")

	readUntil(t, alice, func(in incoming) bool { return in.Type == FrameMessages })
	readUntil(t, bob, func(in incoming) bool { return in.Type == FrameMessages })

	if err := alice.WriteJSON(Command{Type: CommandSend, Ref: "1", Text: "hello"}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	ack := readUntil(t, alice, func(in incoming) bool { return in.Type == FrameAck || in.Type == FrameError })
	if ack.Type != FrameAck || ack.Ref != "1" {
		t.Fatalf("expected ack for ref 1, got %+v", ack)
	}
	var sent models.DecodedMessage
	json.Unmarshal(ack.Payload, &sent)

	readUntil(t, bob, func(in incoming) bool { return hasText(in, "hello") })

	if err := bob.WriteJSON(Command{Type: CommandEdit, Ref: "2", MessageID: sent.ID, Text: "mine now"}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	denied := readUntil(t, bob, func(in incoming) bool { return in.Type == FrameError })
	if denied.Ref != "2" {
		t.Fatalf("expected error for ref 2, got %+v", denied)
	}

	if err := alice.WriteJSON(Command{Type: CommandDelete, Ref: "3", MessageID: sent.ID}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	readUntil(t, bob, func(in incoming) bool { return in.Type == FrameMessages && len(in.snap.Messages) == 0 })

	if n := env.hub.GetConversationClientCount(env.chatID); n != 2 {
		t.Fatalf("expected 2 clients, got %d", n)
	}
}

func TestFirstViewerGetsOneInitialSnapshot(t *testing.T) {
	env := newLiveEnv(t)
	alice := env.dial(t, "alice")

	initial := readUntil(t, alice, func(in incoming) bool { return in.Type == FrameMessages })
	if initial.snap.Version == 0 {
		t.Fatalf("expected a loaded snapshot, got version 0")
	}

	if err := alice.WriteJSON(Command{Type: CommandSend, Ref: "1", Text: "hello"}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	next := readUntil(t, alice, func(in incoming) bool { return in.Type == FrameMessages })
	if next.snap.Version <= initial.snap.Version {
		t.Fatalf("snapshot %d delivered twice", next.snap.Version)
	}
	if !hasText(next, "hello") {
		t.Fatalf("expected the sent message in the next snapshot, got %+v", next.snap.Messages)
	}
}

func TestLiveViewRejectsOutsiders(t *testing.T) {
	env := newLiveEnv(t)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/chats/" + env.chatID + "?access_token=carol"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected outsider to be rejected")
	}
	if resp == nil || resp.StatusCode != 403 {
		t.Fatalf("expected 403, got %v", resp)
	}

	url = "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/chats/" + env.chatID
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401 without token, got %v", resp)
	}
}

func TestLastViewerReleasesSession(t *testing.T) {
	env := newLiveEnv(t)
	conn := env.dial(t, "alice")
	readUntil(t, conn, func(in incoming) bool { return in.Type == FrameMessages })
	if n := len(env.sessions.Sessions()); n != 1 {
		t.Fatalf("expected 1 open session, got %d", n)
	}

	conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for len(env.sessions.Sessions()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session still open after last viewer left")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
