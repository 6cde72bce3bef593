// Package memory holds process-local implementations of core ports.
package memory

import (
	"context"
	"sync"
	"time"
)

const defaultPromptTTL = 24 * time.Hour

type promptRecord struct {
	messageID string
	expires   time.Time
}

// PromptStore keeps member → prompt message records in memory with a bounded
// lifetime. Records are lost on restart; verification then falls back to
// scanning channel history.
type PromptStore struct {
	mu      sync.Mutex
	records map[string]promptRecord
	ttl     time.Duration
	now     func() time.Time
}

// NewPromptStore creates a PromptStore whose records expire after ttl.
// If ttl <= 0, defaultPromptTTL is used.
func NewPromptStore(ttl time.Duration) *PromptStore {
	if ttl <= 0 {
		ttl = defaultPromptTTL
	}
	return &PromptStore{
		records: make(map[string]promptRecord),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *PromptStore) Put(_ context.Context, memberID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
	s.records[memberID] = promptRecord{messageID: messageID, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *PromptStore) Get(_ context.Context, memberID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[memberID]
	if !ok {
		return "", false, nil
	}
	if !s.now().Before(rec.expires) {
		delete(s.records, memberID)
		return "", false, nil
	}
	return rec.messageID, true, nil
}

func (s *PromptStore) Delete(_ context.Context, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, memberID)
	return nil
}

// Len reports the number of live records.
func (s *PromptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
	return len(s.records)
}

func (s *PromptStore) evictExpiredLocked() {
	now := s.now()
	for id, rec := range s.records {
		if !now.Before(rec.expires) {
			delete(s.records, id)
		}
	}
}
