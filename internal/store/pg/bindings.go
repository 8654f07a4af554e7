package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/zapbi/zapbi/internal/store"
)

// PGBindingStore implements store.BindingStore backed by Postgres.
type PGBindingStore struct {
	db *sql.DB
}

func NewPGBindingStore(db *sql.DB) *PGBindingStore {
	return &PGBindingStore{db: db}
}

func (s *PGBindingStore) DatasetsForContact(ctx context.Context, contactID uuid.UUID) ([]store.DatasetRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT connection_id, dataset_id, dataset_name
		 FROM dataset_bindings
		 WHERE contact_id = $1
		 ORDER BY position, dataset_name`, contactID)
	if err != nil {
		return nil, fmt.Errorf("query dataset bindings: %w", err)
	}
	defer rows.Close()

	var result []store.DatasetRef
	for rows.Next() {
		var ref store.DatasetRef
		if err := rows.Scan(&ref.ConnectionID, &ref.DatasetID, &ref.DatasetName); err != nil {
			return nil, fmt.Errorf("scan dataset binding row: %w", err)
		}
		result = append(result, ref)
	}
	return result, rows.Err()
}
