package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joakey/joakey/backend/internal/codec"
	"github.com/joakey/joakey/backend/internal/config"
	"github.com/joakey/joakey/backend/internal/handlers"
	"github.com/joakey/joakey/backend/internal/metrics"
	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/realtime"
	"github.com/joakey/joakey/backend/internal/services"
	"github.com/joakey/joakey/backend/internal/sqlitestore"
	"github.com/joakey/joakey/backend/internal/store"
	"github.com/joakey/joakey/backend/internal/supabase"
	"github.com/joakey/joakey/backend/internal/websocket"
)

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	keys, err := codec.NewKeyRing(cfg.MasterKey, cfg.LegacyPassphrase)
	if err != nil {
		log.Fatalf("Failed to build message keys: %v", err)
	}

	var (
		db      store.Backend
		feed    store.ChangeFeed
		closers []io.Closer
		backend string
		media   store.MediaStore
		inbox   *supabase.Client
	)
	if cfg.UseSupabase() {
		// Hosted mode: PostgREST for data, Realtime for change events
		client := supabase.NewClient(cfg)
		wsURL, err := client.RealtimeURL()
		if err != nil {
			log.Fatalf("Invalid Supabase URL: %v", err)
		}
		rt := realtime.NewClient(wsURL, client.APIKey())
		db, feed, media, inbox, backend = client, rt, client, client, "supabase"
		closers = append(closers, rt)
	} else {
		// Local mode: SQLite with an in-process change feed
		broker := realtime.NewBroker()
		local, err := sqlitestore.Open(cfg.SQLitePath, broker)
		if err != nil {
			log.Fatalf("Failed to open %s: %v", cfg.SQLitePath, err)
		}
		db, feed, backend = local, broker, "sqlite"
		closers = append(closers, broker, local)
		log.Printf("SUPABASE_URL not set, using local database %s", cfg.SQLitePath)
	}

	// Initialize services
	chatService := services.NewConversationService(db)
	messageService := services.NewMessageService(db, chatService, keys, services.MessageConfig{
		MaxLength:   cfg.MaxMessageLength,
		Rate:        cfg.MessageRate,
		Burst:       cfg.MessageBurst,
		MediaBucket: cfg.MediaBucket,
	})
	if media != nil {
		messageService.SetMediaStore(media)
	}
	if inbox != nil {
		messageService.OnSent(func(conv *models.Conversation, msg *models.Message) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := inbox.BroadcastInboxEvent(ctx, conv.Peer(msg.SenderID), conv.ID, msg.ID); err != nil {
					log.Printf("[Inbox] Broadcast for %s failed: %v", conv.ID, err)
				}
			}()
		})
	}
	followService := services.NewFollowService(db, db)
	orderService := services.NewOrderService(db, services.PaymentConfig{
		VANumber:    cfg.PaymentVANumber,
		AccountName: cfg.PaymentAccountName,
	})

	sessions := services.NewSessionManager(db, feed, keys, services.SessionOptions{})
	messageService.OnDeleted(sessions.NotifyDeleted)

	// Start background resync worker
	resyncService := services.NewResyncService(sessions, cfg.ResyncInterval)
	go resyncService.Start()

	hub := websocket.NewHub()
	go hub.Run()

	r := handlers.NewRouter(handlers.RouterConfig{
		Backend:     backend,
		CorsOrigins: cfg.CorsOrigins,
		Identity:    db,
		Chats:       handlers.NewChatHandler(chatService, db),
		Messages:    handlers.NewMessageHandler(messageService),
		Users:       handlers.NewUserHandler(followService),
		Orders:      handlers.NewOrderHandler(orderService),
		LiveChat:    websocket.NewHandler(hub, chatService, sessions, messageService),
		Metrics:     metrics.Handler(),
	})

	// Start server
	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		log.Printf("🚀 Joakey backend starting on %s (%s)", addr, backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	resyncService.Stop()
	sessions.Close()
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Printf("Close: %v", err)
		}
	}
}
