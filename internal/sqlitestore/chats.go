package sqlitestore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/store"
)

const chatColumns = `id, user1_id, user2_id, pair_key, created_at`

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	var conv models.Conversation
	var created int64
	if err := row.Scan(&conv.ID, &conv.User1ID, &conv.User2ID, &conv.PairKey, &created); err != nil {
		return nil, mapError(err)
	}
	conv.CreatedAt = fromUnix(created)
	return &conv, nil
}

// FindConversation returns the conversation between a and b.
func (s *Store) FindConversation(ctx context.Context, a, b string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE pair_key = ?`, store.PairKey(a, b))
	return scanConversation(row)
}

// GetConversation retrieves a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id)
	return scanConversation(row)
}

// CreateConversation inserts conv, filling in id, pair key and creation
// time when unset. A second conversation for the same pair fails with
// store.ErrConflict.
func (s *Store) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	conv.User1ID, conv.User2ID = store.OrderPair(conv.User1ID, conv.User2ID)
	conv.PairKey = store.PairKey(conv.User1ID, conv.User2ID)
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (`+chatColumns+`) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.User1ID, conv.User2ID, conv.PairKey, toUnix(conv.CreatedAt))
	return mapError(err)
}

// ListConversations returns every conversation, oldest first.
func (s *Store) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chatColumns+` FROM chats ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := []models.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}
