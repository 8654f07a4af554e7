package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zapbi/zapbi/internal/store"
)

// PGContextStore implements store.ContextStore backed by Postgres.
//
// Upserts take a per-phone advisory lock inside the transaction so that
// concurrent webhook deliveries for the same sender serialize instead of
// racing on the single context row.
type PGContextStore struct {
	db *sql.DB
}

func NewPGContextStore(db *sql.DB) *PGContextStore {
	return &PGContextStore{db: db}
}

func (s *PGContextStore) Get(ctx context.Context, phone string) (*store.ConversationContext, error) {
	var cc store.ConversationContext
	var instanceID uuid.NullUUID
	var connID, dsID, dsName sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT phone, channel_instance_id, connection_id, dataset_id, dataset_name,
		        created_at, expires_at
		 FROM conversation_contexts
		 WHERE phone = $1 AND expires_at > NOW()`, phone,
	).Scan(&cc.Phone, &instanceID, &connID, &dsID, &dsName, &cc.CreatedAt, &cc.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation context: %w", err)
	}

	if instanceID.Valid {
		cc.ChannelInstanceID = instanceID.UUID
	}
	if connID.Valid && dsID.Valid {
		cc.Dataset = &store.DatasetRef{
			ConnectionID: connID.String,
			DatasetID:    dsID.String,
			DatasetName:  dsName.String,
		}
	}
	return &cc, nil
}

func (s *PGContextStore) Upsert(ctx context.Context, cc *store.ConversationContext) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin context upsert: %w", err)
	}
	defer tx.Rollback()

	// Serialize per-phone writers. Released at commit/rollback.
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, cc.Phone); err != nil {
		return fmt.Errorf("acquire phone lock: %w", err)
	}

	var instanceID uuid.NullUUID
	if cc.ChannelInstanceID != uuid.Nil {
		instanceID = uuid.NullUUID{UUID: cc.ChannelInstanceID, Valid: true}
	}
	var connID, dsID, dsName sql.NullString
	if cc.Dataset != nil {
		connID = sql.NullString{String: cc.Dataset.ConnectionID, Valid: true}
		dsID = sql.NullString{String: cc.Dataset.DatasetID, Valid: true}
		dsName = sql.NullString{String: cc.Dataset.DatasetName, Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_contexts
		   (phone, channel_instance_id, connection_id, dataset_id, dataset_name, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (phone) DO UPDATE SET
		   channel_instance_id = EXCLUDED.channel_instance_id,
		   connection_id = EXCLUDED.connection_id,
		   dataset_id = EXCLUDED.dataset_id,
		   dataset_name = EXCLUDED.dataset_name,
		   created_at = EXCLUDED.created_at,
		   expires_at = EXCLUDED.expires_at`,
		cc.Phone, instanceID, connID, dsID, dsName, cc.CreatedAt, cc.ExpiresAt); err != nil {
		return fmt.Errorf("upsert conversation context: %w", err)
	}

	return tx.Commit()
}

func (s *PGContextStore) Delete(ctx context.Context, phone string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_contexts WHERE phone = $1`, phone); err != nil {
		return fmt.Errorf("delete conversation context: %w", err)
	}
	return nil
}
