package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zapbi/zapbi/internal/store"
)

// PGModelDocStore implements store.ModelDocStore backed by Postgres.
type PGModelDocStore struct {
	db *sql.DB
}

func NewPGModelDocStore(db *sql.DB) *PGModelDocStore {
	return &PGModelDocStore{db: db}
}

func (s *PGModelDocStore) ActiveByConnection(ctx context.Context, connectionID string) (*store.ModelDoc, error) {
	var doc store.ModelDoc
	err := s.db.QueryRowContext(ctx,
		`SELECT id, connection_id, content, active
		 FROM model_docs
		 WHERE connection_id = $1 AND active = TRUE
		 ORDER BY updated_at DESC
		 LIMIT 1`, connectionID,
	).Scan(&doc.ID, &doc.ConnectionID, &doc.Content, &doc.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query model doc: %w", err)
	}
	return &doc, nil
}
