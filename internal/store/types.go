package store

import (
	"time"

	"github.com/google/uuid"
)

// AuthorizedContact grants a phone number permission to talk through one
// channel instance on behalf of one tenant. A phone may hold several grants
// (many-to-many), which is what triggers the channel disambiguation menu.
type AuthorizedContact struct {
	ID                uuid.UUID
	Phone             string
	TenantID          uuid.UUID
	ChannelInstanceID uuid.UUID
	Active            bool
}

// ChannelInstance is one configured connection to the messaging gateway.
type ChannelInstance struct {
	ID         uuid.UUID
	Name       string
	Endpoint   string
	Credential string
	Connected  bool
}

// DatasetRef points at one queryable dataset inside an analytics connection.
type DatasetRef struct {
	ConnectionID string `json:"connection_id"`
	DatasetID    string `json:"dataset_id"`
	DatasetName  string `json:"dataset_name"`
}

// DatasetBinding lists the datasets one authorized contact may query,
// in the order they are shown in the selection menu.
type DatasetBinding struct {
	ContactID uuid.UUID
	Datasets  []DatasetRef
}

// ConversationContext is the per-phone ephemeral selection record.
// At most one live row per phone; expires at the end of the calendar day
// it was written.
type ConversationContext struct {
	Phone             string
	ChannelInstanceID uuid.UUID  // uuid.Nil when no channel selected yet
	Dataset           *DatasetRef // nil when no dataset bound yet
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// Expired reports whether the context is past its end-of-day boundary.
func (c *ConversationContext) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// EndOfDay returns the first instant of the next calendar day in loc,
// the expiry boundary for context selections made at now.
func EndOfDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// Direction of a logged message.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Message is one append-only message-log row.
type Message struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Phone       string
	Content     string
	Direction   string // "in" or "out"
	SenderLabel string
	CreatedAt   time.Time
}

// ModelDoc is the per-connection free-text knowledge blob used to ground
// the model. At most one active doc is consulted per turn.
type ModelDoc struct {
	ID           uuid.UUID
	ConnectionID string
	Content      string
	Active       bool
}
