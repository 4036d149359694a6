package storage

import (
	"context"
	"sync"
	"time"

	"github.com/xaenox/midas/internal/models"
)

// MemoryHistory is a process-local HistoryStore, used when no durable
// storage is configured and in tests.
type MemoryHistory struct {
	mu      sync.RWMutex
	entries []models.AnalysisHistoryEntry
	now     func() time.Time
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{now: time.Now}
}

func (s *MemoryHistory) WithClock(now func() time.Time) *MemoryHistory {
	s.now = now
	return s
}

func (s *MemoryHistory) Load(ctx context.Context) []models.AnalysisHistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AnalysisHistoryEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *MemoryHistory) Append(ctx context.Context, a models.Analysis) (models.AnalysisHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := freeEntry(a, s.now(), s.entries)
	s.entries = prepend(s.entries, entry)
	return entry, nil
}

func (s *MemoryHistory) RemoveByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, ok := withoutID(s.entries, id)
	if !ok {
		return ErrNotFound
	}
	s.entries = out
	return nil
}

func (s *MemoryHistory) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	return nil
}

func (s *MemoryHistory) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
