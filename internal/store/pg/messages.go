package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zapbi/zapbi/internal/store"
)

// PGMessageStore implements store.MessageStore backed by Postgres.
// The table is append-only; rows are never updated.
type PGMessageStore struct {
	db *sql.DB
}

func NewPGMessageStore(db *sql.DB) *PGMessageStore {
	return &PGMessageStore{db: db}
}

func (s *PGMessageStore) Append(ctx context.Context, msg *store.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.Must(uuid.NewV7())
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, tenant_id, phone, content, direction, sender_label, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.TenantID, msg.Phone, msg.Content, msg.Direction, msg.SenderLabel, msg.CreatedAt); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *PGMessageStore) History(ctx context.Context, phone string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	// Fetch newest-first with LIMIT, then reverse so callers get oldest-first.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, phone, content, direction, sender_label, created_at
		 FROM messages
		 WHERE phone = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("query message history: %w", err)
	}
	defer rows.Close()

	var newest []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Phone, &m.Content, &m.Direction, &m.SenderLabel, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		newest = append(newest, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]store.Message, len(newest))
	for i, m := range newest {
		result[len(newest)-1-i] = m
	}
	return result, nil
}
