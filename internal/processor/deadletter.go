package processor

import (
	"context"
	"sync"
)

// DeadLetterStore holds envelopes that exhausted their retry budget so they
// can be inspected or replayed manually.
type DeadLetterStore interface {
	Add(ctx context.Context, env *Envelope) error
	List(ctx context.Context) ([]*Envelope, error)
	Remove(ctx context.Context, eventID string) bool
}

// MemoryDeadLetterStore is the default single-process store.
type MemoryDeadLetterStore struct {
	mu        sync.Mutex
	envelopes []*Envelope
}

func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{}
}

func (s *MemoryDeadLetterStore) Add(ctx context.Context, env *Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, env)
	return nil
}

func (s *MemoryDeadLetterStore) List(ctx context.Context) ([]*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Envelope, len(s.envelopes))
	copy(out, s.envelopes)
	return out, nil
}

func (s *MemoryDeadLetterStore) Remove(ctx context.Context, eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, env := range s.envelopes {
		if env.Event != nil && env.Event.Meta().EventID == eventID {
			s.envelopes = append(s.envelopes[:i:i], s.envelopes[i+1:]...)
			return true
		}
	}
	return false
}
