// Package storage persists the analysis history.
//
// Writers are serialized inside one process only. Two processes sharing a
// file or database can still interleave load/append/persist and lose an
// update; the last writer wins.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/midas/internal/models"
)

// MaxHistory is the number of analyses kept; older ones are evicted.
const MaxHistory = 100

// ErrNotFound is returned by RemoveByID when no entry has the id.
var ErrNotFound = errors.New("storage: not found")

type HistoryStore interface {
	// Load returns the history, most recent first. Missing or corrupt state
	// yields an empty list rather than an error.
	Load(ctx context.Context) []models.AnalysisHistoryEntry
	// Append stamps a with an id and save time, stores it in front of the
	// history and returns the stored entry.
	Append(ctx context.Context, a models.Analysis) (models.AnalysisHistoryEntry, error)
	// RemoveByID deletes the entry with id, or returns ErrNotFound.
	RemoveByID(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Close() error
}

func newEntry(a models.Analysis, now time.Time) models.AnalysisHistoryEntry {
	return models.AnalysisHistoryEntry{
		ID:       models.HistoryID(a.Symbol, now),
		SavedAt:  now.UTC(),
		Analysis: a,
	}
}

// freeEntry stamps a like newEntry, moving the save time forward one
// millisecond at a time while the resulting id is taken. Two analyses of
// one symbol within a millisecond are both kept.
func freeEntry(a models.Analysis, now time.Time, entries []models.AnalysisHistoryEntry) models.AnalysisHistoryEntry {
	taken := make(map[string]bool, len(entries))
	for _, e := range entries {
		taken[e.ID] = true
	}
	e := newEntry(a, now)
	for taken[e.ID] {
		now = now.Add(time.Millisecond)
		e = newEntry(a, now)
	}
	return e
}

// prepend puts e in front of entries and truncates to MaxHistory.
func prepend(entries []models.AnalysisHistoryEntry, e models.AnalysisHistoryEntry) []models.AnalysisHistoryEntry {
	out := make([]models.AnalysisHistoryEntry, 0, min(len(entries)+1, MaxHistory))
	out = append(out, e)
	for _, old := range entries {
		if len(out) == MaxHistory {
			break
		}
		out = append(out, old)
	}
	return out
}

// withoutID drops the entry with id. ok is false when there was none.
func withoutID(entries []models.AnalysisHistoryEntry, id string) (out []models.AnalysisHistoryEntry, ok bool) {
	out = make([]models.AnalysisHistoryEntry, 0, len(entries))
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out, len(out) < len(entries)
}
