package sqlitestore

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/store"
)

const messageColumns = `id, chat_id, sender_id, text, type, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	var msg models.Message
	var created int64
	if err := row.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Text, &msg.Type, &created); err != nil {
		return nil, mapError(err)
	}
	msg.CreatedAt = fromUnix(created)
	return &msg, nil
}

// ListMessages returns a conversation's messages ordered by creation time,
// then id.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

// GetMessage retrieves a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// InsertMessage stores msg and publishes an INSERT.
func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Type == "" {
		msg.Type = models.ContentText
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.SenderID, msg.Text, string(msg.Type), toUnix(msg.CreatedAt))
	if err != nil {
		return mapError(err)
	}
	s.publish(store.EventInsert, msg, nil)
	return nil
}

// UpdateMessageText replaces a message's text and publishes an UPDATE.
func (s *Store) UpdateMessageText(ctx context.Context, id, text string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET text = ? WHERE id = ?`, text, id)
	if err != nil {
		return mapError(err)
	}
	if err := affectedOne(res); err != nil {
		return err
	}
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		// Deleted between the update and the read; the DELETE covers it.
		return nil
	}
	s.publish(store.EventUpdate, msg, nil)
	return nil
}

// DeleteMessage removes a message and publishes a DELETE carrying the old row.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	old, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	if err := affectedOne(res); err != nil {
		return err
	}
	s.publish(store.EventDelete, nil, old)
	return nil
}

func (s *Store) publish(typ store.EventType, record, old *models.Message) {
	if s.pub == nil {
		return
	}
	evt := store.ChangeEvent{Type: typ, Table: store.TableMessages, CommitTimestamp: time.Now().UTC()}
	var err error
	if record != nil {
		evt.Record, err = json.Marshal(record)
	}
	if old != nil && err == nil {
		evt.OldRecord, err = json.Marshal(old)
	}
	if err != nil {
		log.Printf("[SQLite] Failed to encode %s change: %v", typ, err)
		return
	}
	s.pub.Publish(evt)
}
