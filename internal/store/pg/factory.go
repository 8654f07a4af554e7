package pg

import (
	"database/sql"
	"fmt"

	"github.com/zapbi/zapbi/internal/store"
)

// NewPGStores opens Postgres and wires all stores.
func NewPGStores(dsn string) (*store.Stores, *sql.DB, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}

	return &store.Stores{
		Contacts:  NewPGContactStore(db),
		Instances: NewPGChannelInstanceStore(db),
		Contexts:  NewPGContextStore(db),
		Bindings:  NewPGBindingStore(db),
		Messages:  NewPGMessageStore(db),
		ModelDocs: NewPGModelDocStore(db),
	}, db, nil
}
