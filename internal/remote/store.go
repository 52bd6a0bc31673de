// Package remote is the collaborator boundary to the durable store for
// authenticated users: table CRUD keyed by snake_case row maps, upserts
// with an explicit conflict-key specification, and a subscribe
// primitive delivering change notifications scoped to a user.
package remote

import (
	"context"
	"errors"
)

// ErrUnavailable marks network or backend failure on a read or write.
var ErrUnavailable = errors.New("remote unavailable")

// Table names understood by the store.
const (
	TableSubjects = "subjects"
	TableSlots    = "lecture_slots"
	TableLogs     = "attendance_logs"
	TableSettings = "user_settings"
)

// Row is a table row keyed by snake_case column names.
type Row map[string]any

// ChangeType is the kind of change pushed over the realtime channel.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is one pushed notification.
type Change struct {
	Type  ChangeType `json:"type"`
	Table string     `json:"table"`
	Row   Row        `json:"row"`
}

// Store is the remote store contract the sync coordinator depends on.
type Store interface {
	// SelectAll fetches every row of a table belonging to a user.
	SelectAll(ctx context.Context, table, userID string) ([]Row, error)
	// Upsert writes a row, resolving conflicts on the given columns by
	// replacing the existing row.
	Upsert(ctx context.Context, table string, row Row, conflictCols []string) error
	// Delete removes a row by id ("user_id" for user_settings).
	Delete(ctx context.Context, table, id string) error
	// Subscribe opens a change feed filtered by user id. The channel
	// closes when ctx is cancelled.
	Subscribe(ctx context.Context, userID string) (<-chan Change, error)
}
