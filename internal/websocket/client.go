package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/services"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Time allowed for one client command to complete
	commandTimeout = 15 * time.Second
)

// Client commands.
const (
	CommandSend   = "send"
	CommandEdit   = "edit"
	CommandDelete = "delete"
)

// Command is the expected format of messages from clients
type Command struct {
	Type      string             `json:"type"`
	Ref       string             `json:"ref,omitempty"`
	MessageID string             `json:"message_id,omitempty"`
	Text      string             `json:"text,omitempty"`
	Content   models.ContentType `json:"content_type,omitempty"`
}

// Client represents a single WebSocket connection viewing one conversation
type Client struct {
	hub *Hub

	// WebSocket connection
	conn *websocket.Conn

	// Buffered channel of outbound frames
	send   chan []byte
	sendMu sync.Mutex
	closed bool

	ConversationID string
	UserID         string

	session  *services.ChatSession
	release  func()
	messages *services.MessageService
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, session *services.ChatSession, release func(), messages *services.MessageService, userID string) *Client {
	return &Client{
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, 256),
		ConversationID: session.ConversationID(),
		UserID:         userID,
		session:        session,
		release:        release,
		messages:       messages,
	}
}

// enqueue queues a frame without blocking. It reports false when the buffer
// is full.
func (c *Client) enqueue(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump reads commands from the WebSocket connection and executes them.
// Results reach every viewer through the chat session; the sender only gets
// an ack or an error here.
// This runs in its own goroutine per client
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Read error from %s: %v", c.UserID, err)
			}
			break
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.reply(OutgoingFrame{Type: FrameError, Error: "invalid command"})
			continue
		}
		c.execute(cmd)
	}
}

func (c *Client) execute(cmd Command) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var (
		result interface{}
		err    error
	)
	switch cmd.Type {
	case CommandSend:
		result, err = c.messages.Send(ctx, c.ConversationID, c.UserID, cmd.Text, cmd.Content)
	case CommandEdit:
		result, err = c.messages.Edit(ctx, c.ConversationID, cmd.MessageID, c.UserID, cmd.Text)
	case CommandDelete:
		err = c.messages.Delete(ctx, c.ConversationID, cmd.MessageID, c.UserID)
	default:
		c.reply(OutgoingFrame{Type: FrameError, Ref: cmd.Ref, Error: "unknown command " + cmd.Type})
		return
	}

	if err != nil {
		log.Printf("[WebSocket] %s from %s in %s failed: %v", cmd.Type, c.UserID, c.ConversationID, err)
		c.reply(OutgoingFrame{Type: FrameError, Ref: cmd.Ref, Error: err.Error()})
		return
	}
	c.reply(OutgoingFrame{Type: FrameAck, Ref: cmd.Ref, Payload: result})
}

func (c *Client) reply(frame OutgoingFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[WebSocket] Failed to encode reply: %v", err)
		return
	}
	if !c.enqueue(data) {
		log.Printf("[WebSocket] Reply to %s dropped, buffer full", c.UserID)
	}
}

// WritePump pumps frames from the hub to the WebSocket connection
// This runs in its own goroutine per client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Each frame is a separate WebSocket message so the client can
			// parse them as JSON one by one
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
