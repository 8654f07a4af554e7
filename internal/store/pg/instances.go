package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zapbi/zapbi/internal/store"
)

// PGChannelInstanceStore implements store.ChannelInstanceStore backed by Postgres.
type PGChannelInstanceStore struct {
	db *sql.DB
}

func NewPGChannelInstanceStore(db *sql.DB) *PGChannelInstanceStore {
	return &PGChannelInstanceStore{db: db}
}

func (s *PGChannelInstanceStore) Get(ctx context.Context, id uuid.UUID) (*store.ChannelInstance, error) {
	var ci store.ChannelInstance
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, endpoint, credential, connected
		 FROM channel_instances WHERE id = $1`, id,
	).Scan(&ci.ID, &ci.Name, &ci.Endpoint, &ci.Credential, &ci.Connected)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query channel instance: %w", err)
	}
	return &ci, nil
}
