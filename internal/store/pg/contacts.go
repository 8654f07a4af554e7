package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zapbi/zapbi/internal/store"
)

// PGContactStore implements store.ContactStore backed by Postgres.
type PGContactStore struct {
	db *sql.DB
}

func NewPGContactStore(db *sql.DB) *PGContactStore {
	return &PGContactStore{db: db}
}

func (s *PGContactStore) ActiveByPhone(ctx context.Context, phone string) ([]store.AuthorizedContact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phone, tenant_id, channel_instance_id, active
		 FROM authorized_contacts
		 WHERE phone = $1 AND active = TRUE
		 ORDER BY created_at, id`, phone)
	if err != nil {
		return nil, fmt.Errorf("query contacts for phone: %w", err)
	}
	defer rows.Close()

	var result []store.AuthorizedContact
	for rows.Next() {
		var c store.AuthorizedContact
		if err := rows.Scan(&c.ID, &c.Phone, &c.TenantID, &c.ChannelInstanceID, &c.Active); err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
