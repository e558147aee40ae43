package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joakey/joakey/backend/internal/codec"
	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/realtime"
	"github.com/joakey/joakey/backend/internal/services"
	"github.com/joakey/joakey/backend/internal/sqlitestore"
	"github.com/joakey/joakey/backend/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	broker := realtime.NewBroker()
	db, err := sqlitestore.Open(filepath.Join(t.TempDir(), "api.db"), broker)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	keys, err := codec.NewKeyRing(bytes.Repeat([]byte{1}, codec.KeySize), "")
	if err != nil {
		t.Fatalf("NewKeyRing failed: %v", err)
	}

	ctx := context.Background()
	for _, p := range []models.Profile{
		{ID: "alice", Username: "alice"},
		{ID: "bob", Username: "bob"},
		{ID: "carol", Username: "carol"},
		{ID: "jockey", Username: "rankup", Name: "Rank Up", Role: models.RoleJockey, JockeyServices: []models.JockeyService{
			{Game: "Mobile Legends", FromRank: "Epic", ToRank: "Legend", Price: 150000},
		}},
	} {
		p := p
		if err := db.UpsertProfile(ctx, &p); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
	}

	chats := services.NewConversationService(db)
	messages := services.NewMessageService(db, chats, keys, services.MessageConfig{MaxLength: 4000, Rate: 100, Burst: 100})
	follows := services.NewFollowService(db, db)
	orders := services.NewOrderService(db, services.PaymentConfig{VANumber: "123", AccountName: "Admin"})

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Backend:     "sqlite",
		CorsOrigins: []string{"http://localhost:5173"},
		Identity:    db,
		Chats:       NewChatHandler(chats, db),
		Messages:    NewMessageHandler(messages),
		Users:       NewUserHandler(follows),
		Orders:      NewOrderHandler(orders),
	}))
	t.Cleanup(func() {
		srv.Close()
		broker.Close()
		db.Close()
	})
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t)
	status, body := call(t, srv, http.MethodGet, "/health", "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp := decode[HealthResponse](t, body); resp.Status != "ok" || resp.Backend != "sqlite" {
		t.Fatalf("unexpected health response %+v", resp)
	}
}

func TestAPIRequiresAuthentication(t *testing.T) {
	srv := newTestServer(t)
	if status, _ := call(t, srv, http.MethodPost, "/api/chats", "", models.ResolveChatRequest{PeerID: "bob"}); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	status, body := call(t, srv, http.MethodPost, "/api/chats", "ghost", models.ResolveChatRequest{PeerID: "bob"})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", status)
	}
	if e := decode[ErrorResponse](t, body); e.Error == "" {
		t.Fatalf("expected error body")
	}
}

func TestChatAndMessageFlow(t *testing.T) {
	srv := newTestServer(t)

	status, body := call(t, srv, http.MethodPost, "/api/chats", "alice", models.ResolveChatRequest{PeerID: "bob"})
	if status != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", status, body)
	}
	resolved := decode[models.ResolveChatResponse](t, body)
	if resolved.Peer == nil || resolved.Peer.ID != "bob" {
		t.Fatalf("expected peer profile, got %+v", resolved.Peer)
	}
	chatID := resolved.Conversation.ID

	_, body = call(t, srv, http.MethodPost, "/api/chats", "bob", models.ResolveChatRequest{PeerID: "alice"})
	if again := decode[models.ResolveChatResponse](t, body); again.Conversation.ID != chatID {
		t.Fatalf("resolve is not commutative: %s vs %s", again.Conversation.ID, chatID)
	}

	if status, _ := call(t, srv, http.MethodPost, "/api/chats", "alice", models.ResolveChatRequest{PeerID: "alice"}); status != http.StatusBadRequest {
		t.Fatalf("self chat: expected 400, got %d", status)
	}
	if status, _ := call(t, srv, http.MethodPost, "/api/chats", "alice", models.ResolveChatRequest{PeerID: "ghost"}); status != http.StatusNotFound {
		t.Fatalf("unknown peer: expected 404, got %d", status)
	}

	messagesPath := fmt.Sprintf("/api/chats/%s/messages", chatID)
	status, body = call(t, srv, http.MethodPost, messagesPath, "alice", models.SendMessageRequest{Text: "hello"})
	if status != http.StatusCreated {
		t.Fatalf("send: expected 201, got %d: %s", status, body)
	}
	sent := decode[models.DecodedMessage](t, body)

	if status, _ := call(t, srv, http.MethodPost, messagesPath, "alice", models.SendMessageRequest{Text: "  "}); status != http.StatusBadRequest {
		t.Fatalf("blank send: expected 400, got %d", status)
	}

	status, body = call(t, srv, http.MethodGet, messagesPath, "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", status)
	}
	list := decode[models.GetMessagesResponse](t, body)
	if len(list.Messages) != 1 || list.Messages[0].Text != "hello" {
		t.Fatalf("unexpected list %+v", list)
	}

	if status, _ := call(t, srv, http.MethodGet, messagesPath, "carol", nil); status != http.StatusForbidden {
		t.Fatalf("outsider list: expected 403, got %d", status)
	}

	messagePath := messagesPath + "/" + sent.ID
	if status, _ := call(t, srv, http.MethodPatch, messagePath, "bob", models.EditMessageRequest{Text: "nope"}); status != http.StatusForbidden {
		t.Fatalf("foreign edit: expected 403, got %d", status)
	}
	status, body = call(t, srv, http.MethodPatch, messagePath, "alice", models.EditMessageRequest{Text: "hello again"})
	if status != http.StatusOK {
		t.Fatalf("edit: expected 200, got %d: %s", status, body)
	}
	if edited := decode[models.DecodedMessage](t, body); edited.ID != sent.ID || edited.Text != "hello again" {
		t.Fatalf("unexpected edit result %+v", edited)
	}

	if status, _ := call(t, srv, http.MethodDelete, messagePath, "alice", nil); status != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", status)
	}
	if status, _ := call(t, srv, http.MethodDelete, messagePath, "alice", nil); status != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", status)
	}
}

func TestUploadWithoutMediaStore(t *testing.T) {
	srv := newTestServer(t)
	_, body := call(t, srv, http.MethodPost, "/api/chats", "alice", models.ResolveChatRequest{PeerID: "bob"})
	chatID := decode[models.ResolveChatResponse](t, body).Conversation.ID

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "photo.png")
	part.Write([]byte("png"))
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/chats/"+chatID+"/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.StatusCode)
	}
}

func TestFollowEndpoints(t *testing.T) {
	srv := newTestServer(t)

	status, body := call(t, srv, http.MethodPut, "/api/users/jockey/follow", "alice", nil)
	if status != http.StatusOK {
		t.Fatalf("follow: expected 200, got %d: %s", status, body)
	}
	if stats := decode[models.FollowStats](t, body); stats.Followers != 1 || !stats.ViewerFollows {
		t.Fatalf("unexpected stats %+v", stats)
	}

	status, body = call(t, srv, http.MethodGet, "/api/users/jockey", "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("get user: expected 200, got %d", status)
	}
	if view := decode[models.ProfileResponse](t, body); view.Profile.Username != "rankup" || view.Stats.Followers != 1 || view.Stats.ViewerFollows {
		t.Fatalf("unexpected profile view %+v", view)
	}

	if status, _ := call(t, srv, http.MethodPut, "/api/users/alice/follow", "alice", nil); status != http.StatusBadRequest {
		t.Fatalf("self follow: expected 400, got %d", status)
	}

	status, body = call(t, srv, http.MethodDelete, "/api/users/jockey/follow", "alice", nil)
	if status != http.StatusOK {
		t.Fatalf("unfollow: expected 200, got %d", status)
	}
	if stats := decode[models.FollowStats](t, body); stats.Followers != 0 || stats.ViewerFollows {
		t.Fatalf("unexpected stats after unfollow %+v", stats)
	}

	if status, _ := call(t, srv, http.MethodGet, "/api/users/ghost", "alice", nil); status != http.StatusNotFound {
		t.Fatalf("unknown user: expected 404, got %d", status)
	}
}

func TestOrderSummaryEndpoint(t *testing.T) {
	srv := newTestServer(t)

	status, body := call(t, srv, http.MethodPost, "/api/orders/summary", "alice", models.OrderSummaryRequest{
		JockeyID: "jockey", Game: "Mobile Legends", FromRank: "Epic", ToRank: "Legend",
	})
	if status != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d: %s", status, body)
	}
	if summary := decode[models.OrderSummary](t, body); summary.Price != 150000 || summary.VANumber != "123" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if status, _ := call(t, srv, http.MethodPost, "/api/orders/summary", "alice", models.OrderSummaryRequest{JockeyID: "jockey"}); status != http.StatusBadRequest {
		t.Fatalf("incomplete order: expected 400, got %d", status)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", services.ErrInvalid), http.StatusBadRequest},
		{store.ErrUnauthenticated, http.StatusUnauthorized},
		{services.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", store.ErrNotFound), http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict},
		{services.ErrRateLimited, http.StatusTooManyRequests},
		{services.ErrMediaUnavailable, http.StatusNotImplemented},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}

	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("secret detail"))
	if strings.Contains(rec.Body.String(), "secret detail") {
		t.Fatalf("internal error details leaked: %s", rec.Body.String())
	}
}
