package services

import (
	"context"
	"log"
	"time"
)

// ResyncService periodically re-fetches every open chat session so that
// changes a dropped change feed never delivered still show up.
// It runs as a background goroutine.
type ResyncService struct {
	sessions *SessionManager
	interval time.Duration
	stopChan chan struct{}
}

// NewResyncService creates a new resync service.
// - interval: how often open sessions are refreshed (e.g., 1 minute)
func NewResyncService(sessions *SessionManager, interval time.Duration) *ResyncService {
	return &ResyncService{
		sessions: sessions,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background resync worker.
// This method blocks and should be called with 'go'.
func (s *ResyncService) Start() {
	log.Printf("[Resync] Service started (interval: %v)", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.resync()
		case <-s.stopChan:
			log.Println("[Resync] Service stopped")
			return
		}
	}
}

// Stop shuts down the resync worker.
func (s *ResyncService) Stop() {
	close(s.stopChan)
}

// resync refreshes every open session, returning how many succeeded.
func (s *ResyncService) resync() int {
	sessions := s.sessions.Sessions()
	ok := 0
	for _, session := range sessions {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		err := session.Refresh(ctx)
		cancel()
		if err != nil {
			if err != ErrSessionClosed {
				log.Printf("[Resync] Failed to refresh conversation %s: %v", session.ConversationID(), err)
			}
			continue
		}
		ok++
	}
	if len(sessions) > 0 {
		log.Printf("[Resync] Refreshed %d/%d open sessions", ok, len(sessions))
	}
	return ok
}
