package source

import (
	"context"
	"errors"
	"time"

	"recordstore.service/internal/core/model"
)

// ErrNoFeed is returned by Subscribe when the source was built without a
// change-feed provider.
var ErrNoFeed = errors.New("remote source has no change feed configured")

// EventType classifies a change-feed notification.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one push notification from the store's change feed.
// Delete events may carry only the row identity. OccurredAt is the store's
// change time; the merge buffer compares it against edit submission times,
// which is what provides effective ordering over an at-least-once,
// unordered feed.
type ChangeEvent struct {
	Type       EventType    `json:"eventType"`
	Table      string       `json:"table"`
	Row        model.RawRow `json:"row"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// Filter restricts a Select. The zero value selects every row.
type Filter struct {
	Identity  string
	SubjectID string
}

// RemoteSource is the tabular store every view reads and writes through.
// It is injected rather than imported as a global so tests and local dev
// can substitute the in-memory implementation.
type RemoteSource interface {
	// Select returns wire rows matching the filter, join-expanded with
	// display fields. orderBy is a store-side hint; callers re-order
	// through the projector regardless.
	Select(ctx context.Context, table string, f Filter, orderBy string) ([]model.RawRow, error)
	// Insert creates a row and returns the confirmed row, including the
	// store-assigned identity.
	Insert(ctx context.Context, table string, row model.RawRow) (model.RawRow, error)
	// Update applies partial wire-column overrides to one row and
	// returns the confirmed row.
	Update(ctx context.Context, table string, identity string, fields map[string]any) (model.RawRow, error)
	// Delete removes one row.
	Delete(ctx context.Context, table string, identity string) error
	// Subscribe opens the change feed for a table. The stream closes
	// when ctx is cancelled or the feed fails; callers resubscribe.
	Subscribe(ctx context.Context, table string, events []EventType) (<-chan ChangeEvent, error)
}

// Feed is the change-feed half of a source, split out so the Postgres
// implementation can delegate to an SQS-backed provider.
type Feed interface {
	Subscribe(ctx context.Context, table string, events []EventType) (<-chan ChangeEvent, error)
}
