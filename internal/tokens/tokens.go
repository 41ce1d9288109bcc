// Package tokens persists change-stream resume tokens so a listener can
// continue from its last acknowledged position after a restart. Tokens are
// keyed by stream id; one listener owns one stream id.
package tokens

import (
	"context"
	"sync"
	"time"
)

// ResumeToken is the durable cursor of a change stream. Token is the opaque
// driver-provided position; LastEventID records the last event emitted from
// that position for diagnostics.
type ResumeToken struct {
	StreamID    string    `json:"stream_id"`
	Token       string    `json:"token"`
	Timestamp   time.Time `json:"timestamp"`
	LastEventID string    `json:"last_event_id,omitempty"`
}

// Store loads and saves resume tokens. Load returns (nil, nil) when no token
// exists for the stream, which callers treat as "start from now".
type Store interface {
	Load(ctx context.Context, streamID string) (*ResumeToken, error)
	Save(ctx context.Context, token *ResumeToken) error
	Clear(ctx context.Context, streamID string) error
}

// MemoryStore keeps tokens in process memory. Suitable for tests and for
// deployments that accept restarting from the current position.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]ResumeToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]ResumeToken)}
}

func (s *MemoryStore) Load(ctx context.Context, streamID string) (*ResumeToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[streamID]
	if !ok {
		return nil, nil
	}
	out := tok
	return &out, nil
}

func (s *MemoryStore) Save(ctx context.Context, token *ResumeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.StreamID] = *token
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, streamID)
	return nil
}
