package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/models"
)

type historyDocument struct {
	Analyses []models.AnalysisHistoryEntry `json:"analyses"`
}

// rawDocument is decoded first so one bad record does not discard the rest.
type rawDocument struct {
	Analyses []json.RawMessage `json:"analyses"`
}

// FileHistory keeps the history as one JSON document on disk.
type FileHistory struct {
	path   string
	now    func() time.Time
	logger *zap.Logger
	mu     sync.Mutex
}

func NewFileHistory(path string, logger *zap.Logger) *FileHistory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileHistory{path: path, now: time.Now, logger: logger}
}

// WithClock replaces the clock used to stamp new entries.
func (s *FileHistory) WithClock(now func() time.Time) *FileHistory {
	s.now = now
	return s
}

func (s *FileHistory) Load(ctx context.Context) []models.AnalysisHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileHistory) load() []models.AnalysisHistoryEntry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("history unreadable", zap.Error(err), zap.String("path", s.path))
		}
		return []models.AnalysisHistoryEntry{}
	}
	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("history corrupt, starting empty", zap.Error(err), zap.String("path", s.path))
		return []models.AnalysisHistoryEntry{}
	}
	out := make([]models.AnalysisHistoryEntry, 0, len(doc.Analyses))
	for i, raw := range doc.Analyses {
		var e models.AnalysisHistoryEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			s.logger.Warn("Skipping corrupt history entry", zap.Error(err), zap.Int("index", i))
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *FileHistory) persist(entries []models.AnalysisHistoryEntry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	data, err := json.MarshalIndent(historyDocument{Analyses: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}

func (s *FileHistory) Append(ctx context.Context, a models.Analysis) (models.AnalysisHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()
	entry := freeEntry(a, s.now(), entries)
	if err := s.persist(prepend(entries, entry)); err != nil {
		return models.AnalysisHistoryEntry{}, err
	}
	return entry, nil
}

func (s *FileHistory) RemoveByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := withoutID(s.load(), id)
	if !ok {
		return ErrNotFound
	}
	return s.persist(out)
}

func (s *FileHistory) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist([]models.AnalysisHistoryEntry{})
}

func (s *FileHistory) Close() error {
	return nil
}
