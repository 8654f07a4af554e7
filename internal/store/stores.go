package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("store: not found")

// ContactStore looks up sender authorizations.
type ContactStore interface {
	// ActiveByPhone returns all active grants for a phone, in a stable order.
	ActiveByPhone(ctx context.Context, phone string) ([]AuthorizedContact, error)
}

// ChannelInstanceStore looks up messaging gateway connections.
type ChannelInstanceStore interface {
	Get(ctx context.Context, id uuid.UUID) (*ChannelInstance, error)
}

// ContextStore reads and upserts the per-phone conversation context.
// Upsert is keyed by phone: writing twice for the same phone converges on
// one row. Implementations serialize concurrent upserts per phone.
type ContextStore interface {
	Get(ctx context.Context, phone string) (*ConversationContext, error)
	Upsert(ctx context.Context, cc *ConversationContext) error
	Delete(ctx context.Context, phone string) error
}

// BindingStore looks up dataset bindings for an authorized contact.
type BindingStore interface {
	DatasetsForContact(ctx context.Context, contactID uuid.UUID) ([]DatasetRef, error)
}

// MessageStore appends to and reads from the message log.
type MessageStore interface {
	Append(ctx context.Context, msg *Message) error
	// History returns the most recent messages for a phone, oldest first.
	History(ctx context.Context, phone string, limit int) ([]Message, error)
}

// ModelDocStore reads the grounding documentation for a connection.
type ModelDocStore interface {
	// ActiveByConnection returns the active doc, or ErrNotFound.
	ActiveByConnection(ctx context.Context, connectionID string) (*ModelDoc, error)
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Contacts  ContactStore
	Instances ChannelInstanceStore
	Contexts  ContextStore
	Bindings  BindingStore
	Messages  MessageStore
	ModelDocs ModelDocStore
}
