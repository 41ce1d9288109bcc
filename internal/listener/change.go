// Package listener tails a document database change stream, transforms raw
// change records into typed domain events, and dispatches them to handlers
// and the event processor. Its resume token is persisted so a restarted
// listener continues from the last acknowledged position.
package listener

import (
	"context"
	"errors"
	"time"
)

// ErrHistoryLost is returned by a cursor when its resume position has aged
// out of the source's oplog. The stored token is useless at that point; the
// listener clears it and restarts from the current position.
var ErrHistoryLost = errors.New("speedlayer: change stream history lost")

// Operation names follow the source database's change stream vocabulary.
const (
	OpInsert  = "insert"
	OpUpdate  = "update"
	OpReplace = "replace"
	OpDelete  = "delete"
)

// Change is one raw mutation pulled from the change stream, already decoded
// out of the driver's native representation.
type Change struct {
	// Token is the opaque resume position after this change.
	Token          string
	Collection     string
	DocumentID     string
	Operation      string
	Document       map[string]any
	BeforeDocument map[string]any
	ChangedFields  []string
	Timestamp      time.Time
}

// WatchOptions filters the stream server-side where the source supports it.
type WatchOptions struct {
	// Collections is the allow-list of collections to watch. Empty watches
	// everything.
	Collections []string
	// Operations is the allow-list of operation names. Empty allows all.
	Operations []string
	// ResumeToken is the position to resume from. Empty starts from now.
	ResumeToken string
}

// ChangeCursor is a tailing cursor over a change stream.
type ChangeCursor interface {
	// TryNext polls for the next change without blocking indefinitely.
	// (nil, nil) means no change is currently available.
	TryNext(ctx context.Context) (*Change, error)
	Close(ctx context.Context) error
}

// ChangeSource opens cursors against a change-capable database.
type ChangeSource interface {
	Watch(ctx context.Context, opts WatchOptions) (ChangeCursor, error)
}
