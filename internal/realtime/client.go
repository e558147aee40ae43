// Package realtime delivers row-level change feeds, either from Supabase
// Realtime over a websocket or from an in-process broker.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joakey/joakey/backend/internal/metrics"
	"github.com/joakey/joakey/backend/internal/store"
)

const (
	defaultHeartbeat   = 25 * time.Second
	defaultJoinTimeout = 10 * time.Second
	defaultRejoinDelay = time.Second
	writeWait          = 10 * time.Second
	maxBackoff         = 30 * time.Second
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("realtime: client closed")

// Client multiplexes postgres_changes subscriptions over one Supabase
// Realtime connection. Lost connections are redialed; every channel is
// rejoined and handed a RESYNC event.
type Client struct {
	url         string
	accessToken string
	dialer      *websocket.Dialer

	heartbeat   time.Duration
	joinTimeout time.Duration
	rejoinDelay time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	connDone chan struct{}
	channels map[string]*channel
	pending  map[string]chan reply
	closed   bool

	writeMu sync.Mutex
	ref     atomic.Uint64
	topics  atomic.Uint64
}

// NewClient creates a Client for a realtime websocket URL.
func NewClient(url, accessToken string) *Client {
	return &Client{
		url:         url,
		accessToken: accessToken,
		dialer:      websocket.DefaultDialer,
		heartbeat:   defaultHeartbeat,
		joinTimeout: defaultJoinTimeout,
		rejoinDelay: defaultRejoinDelay,
		channels:    make(map[string]*channel),
		pending:     make(map[string]chan reply),
	}
}

// Subscribe joins a channel for changes on table matching filter.
func (c *Client) Subscribe(ctx context.Context, table, filter string, handler store.Handler) (store.Subscription, error) {
	if _, err := store.ParseFilter(filter); err != nil {
		return nil, err
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	topic := fmt.Sprintf("realtime:%s-%d", table, c.topics.Add(1))
	ch := newChannel(topic, table, filter, handler)

	c.mu.Lock()
	c.channels[topic] = ch
	c.mu.Unlock()

	if err := c.join(ctx, ch); err != nil {
		c.removeChannel(topic)
		return nil, err
	}
	log.Printf("[Realtime] Subscribed %s (%s %s)", topic, table, filter)
	return &subscription{client: c, topic: topic}, nil
}

// Close leaves every channel and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	channels := c.channels
	c.channels = make(map[string]*channel)
	c.mu.Unlock()

	for _, ch := range channels {
		ch.stop()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}
	return c.dialLocked(ctx)
}

// dialLocked opens a connection and starts its read and heartbeat loops.
// c.mu must be held.
func (c *Client) dialLocked(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	done := make(chan struct{})
	c.conn = conn
	c.connDone = done
	go c.readLoop(conn, done)
	go c.heartbeatLoop(conn, done)
	return nil
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

func (c *Client) send(conn *websocket.Conn, f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// join sends phx_join for ch and waits for the server's reply.
func (c *Client) join(ctx context.Context, ch *channel) error {
	conn := c.currentConn()
	if conn == nil {
		return errors.New("realtime: not connected")
	}

	payload, err := json.Marshal(newJoinPayload(ch.table, ch.filter, c.accessToken))
	if err != nil {
		return fmt.Errorf("marshal join payload: %w", err)
	}

	ref := c.nextRef()
	wait := make(chan reply, 1)
	c.mu.Lock()
	c.pending[ref] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ref)
		c.mu.Unlock()
	}()

	if err := c.send(conn, frame{Topic: ch.topic, Event: eventJoin, Payload: payload, Ref: ref, JoinRef: ref}); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	timer := time.NewTimer(c.joinTimeout)
	defer timer.Stop()
	select {
	case r, ok := <-wait:
		if !ok {
			return errors.New("realtime: connection lost while joining")
		}
		if r.Status != "ok" {
			return fmt.Errorf("realtime: join %s rejected: %s", ch.topic, string(r.Response))
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("realtime: join %s timed out", ch.topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) leave(topic string) {
	conn := c.currentConn()
	if conn == nil {
		return
	}
	if err := c.send(conn, frame{Topic: topic, Event: eventLeave, Payload: json.RawMessage(`{}`), Ref: c.nextRef()}); err != nil {
		log.Printf("[Realtime] Leave %s failed: %v", topic, err)
	}
}

func (c *Client) removeChannel(topic string) *channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.channels[topic]
	delete(c.channels, topic)
	return ch
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.route(f)
	}
}

func (c *Client) route(f frame) {
	switch f.Event {
	case eventReply:
		var r reply
		if err := json.Unmarshal(f.Payload, &r); err != nil {
			log.Printf("[Realtime] Bad reply on %s: %v", f.Topic, err)
			return
		}
		c.mu.Lock()
		wait := c.pending[f.Ref]
		c.mu.Unlock()
		if wait != nil {
			select {
			case wait <- r:
			default:
			}
		}

	case eventChanges:
		evt, err := parseChange(f.Payload)
		c.mu.Lock()
		ch := c.channels[f.Topic]
		c.mu.Unlock()
		if ch == nil {
			return
		}
		if err != nil {
			log.Printf("[Realtime] Bad change payload on %s: %v", f.Topic, err)
			ch.deliver(store.ChangeEvent{Type: store.EventResync, Table: ch.table})
			return
		}
		ch.deliver(evt)

	case eventError, eventClose:
		c.mu.Lock()
		ch := c.channels[f.Topic]
		c.mu.Unlock()
		if ch != nil {
			log.Printf("[Realtime] Channel %s reported %s", f.Topic, f.Event)
			ch.deliver(store.ChangeEvent{Type: store.EventResync, Table: ch.table})
		}
	}
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hb := frame{Topic: phoenixTopic, Event: eventHeartbeat, Payload: json.RawMessage(`{}`), Ref: c.nextRef()}
			if err := c.send(conn, hb); err != nil {
				conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

// handleDisconnect fails in-flight joins and starts reconnecting unless the
// client was closed.
func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	for ref, wait := range c.pending {
		close(wait)
		delete(c.pending, ref)
	}
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}
	log.Printf("[Realtime] Connection lost: %v", cause)
	go c.reconnect()
}

func (c *Client) reconnect() {
	backoff := time.Second
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.joinTimeout)
		err := c.dialLocked(ctx)
		cancel()
		conn := c.conn
		channels := make([]*channel, 0, len(c.channels))
		for _, ch := range c.channels {
			channels = append(channels, ch)
		}
		c.mu.Unlock()

		if err == nil {
			metrics.RealtimeReconnects.Inc()
			log.Printf("[Realtime] Reconnected, rejoining %d channels", len(channels))
			c.rejoin(conn, channels)
			return
		}

		log.Printf("[Realtime] Reconnect failed: %v (retrying in %v)", err, backoff)
		time.Sleep(backoff)
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// rejoin joins channels on conn, retrying failed joins with backoff until
// each one succeeds, its subscription is closed, or conn is replaced. Every
// channel gets a RESYNC once it is joined again.
func (c *Client) rejoin(conn *websocket.Conn, channels []*channel) {
	backoff := c.rejoinDelay
	for {
		var failed []*channel
		for _, ch := range channels {
			if !c.registered(ch) {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.joinTimeout)
			err := c.join(ctx, ch)
			cancel()
			if err != nil {
				log.Printf("[Realtime] Rejoin %s failed: %v (retrying in %v)", ch.topic, err, backoff)
				failed = append(failed, ch)
				continue
			}
			ch.deliver(store.ChangeEvent{Type: store.EventResync, Table: ch.table})
		}
		if len(failed) == 0 {
			return
		}

		time.Sleep(backoff)
		// A newer connection rejoins everything itself.
		if c.currentConn() != conn {
			return
		}
		channels = failed
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) registered(ch *channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[ch.topic] == ch
}

type subscription struct {
	client *Client
	topic  string
	once   sync.Once
}

// Close leaves the channel.
func (s *subscription) Close() error {
	s.once.Do(func() {
		if ch := s.client.removeChannel(s.topic); ch != nil {
			ch.stop()
			s.client.leave(s.topic)
		}
	})
	return nil
}
