package store

import (
	"context"
	"sync"
	"time"

	"github.com/jsayol/qr-signin/internal/core"
)

// MemoryStore keeps token records in process memory. It is used by tests
// and local CLI operations. Records are held in their marshalled wire form
// so the codec path matches the real backends.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
	}
}

func (s *MemoryStore) Create(_ context.Context, token core.Token) error {
	data, err := core.MarshalToken(token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[token.ID]; ok {
		return core.ErrAlreadyExists
	}
	s.records[token.ID] = data
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (core.Token, error) {
	s.mu.RLock()
	data, ok := s.records[id]
	s.mu.RUnlock()

	if !ok {
		return core.Token{}, core.ErrNotFound
	}
	return core.UnmarshalToken(id, data)
}

func (s *MemoryStore) ConditionalUpdate(_ context.Context, id string, predicate func(core.Token) bool, mutate func(*core.Token)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.records[id]
	if !ok {
		return core.ErrNotFound
	}

	token, err := core.UnmarshalToken(id, data)
	if err != nil {
		return err
	}
	if !predicate(token) {
		return core.ErrPredicateFailed
	}

	mutate(&token)
	updated, err := core.MarshalToken(token)
	if err != nil {
		return err
	}
	s.records[id] = updated
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}

// ScanExpired walks every record. That is fine for the in-memory flavor;
// the networked backends use indexed range queries instead.
func (s *MemoryStore) ScanExpired(_ context.Context, before time.Time, filter core.StateFilter) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, data := range s.records {
		token, err := core.UnmarshalToken(id, data)
		if err != nil {
			// undecodable records are garbage, sweep them regardless of filter
			ids = append(ids, id)
			continue
		}
		if token.ExpiresAt.After(before) {
			continue
		}
		if matchesFilter(token.State, filter) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) BatchDelete(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Close() error { return nil }

// Corrupt overwrites a record with undecodable bytes. Test hook.
func (s *MemoryStore) Corrupt(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = []byte("{not json")
}

func matchesFilter(state core.TokenState, filter core.StateFilter) bool {
	switch filter {
	case core.OnlyPending:
		return state == core.StatePending
	case core.OnlyClaimed:
		return state == core.StateClaimed
	default:
		return true
	}
}
