package server

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by a Backend when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Kind distinguishes the two synced record types.
type Kind string

const (
	KindCategory Kind = "category"
	KindEntry    Kind = "entry"
)

// Record is a stored category or entry. Body is the record's JSON as last
// accepted; Updated is the absolute modification time derived from the age
// the writer sent.
type Record struct {
	Kind    Kind
	UUID    string
	Body    json.RawMessage
	Updated int64
	Deleted bool
}

// Change is one row of the updates manifest.
type Change struct {
	Kind    Kind
	UUID    string
	Updated int64
	Deleted bool
}

// Backend persists records and per-client sync bookkeeping.
type Backend interface {
	// Put stores rec unless the stored copy is strictly newer. It reports
	// whether rec was written.
	Put(ctx context.Context, writer string, rec Record, writtenAt int64) (bool, error)
	Get(ctx context.Context, kind Kind, uuid string) (Record, error)
	// Changes lists records written at or after since by anyone but reader.
	Changes(ctx context.Context, reader string, since int64) ([]Change, error)
	// LastSync returns zero for a client that never completed a sync.
	LastSync(ctx context.Context, clientID string) (int64, error)
	SetLastSync(ctx context.Context, clientID string, t int64) error
}
