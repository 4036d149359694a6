// Package alerts watches the agent's output for new errors and forwards
// them as push notifications.
package alerts

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/classifier"
	"github.com/xaenox/midas/internal/models"
	"github.com/xaenox/midas/internal/notify"
	"github.com/xaenox/midas/internal/offline"
)

const scanLimit = 50

type Pusher interface {
	Push(ctx context.Context, payload []byte) (offline.Notification, error)
}

// Scanner pushes error entries that were not present in the previous scan.
// The first scan only records what is already there.
type Scanner struct {
	pipeline *classifier.Pipeline
	pusher   Pusher
	enabled  func() bool
	logger   *zap.Logger

	mu     sync.Mutex
	primed bool
	seen   map[string]struct{}
}

func NewScanner(p *classifier.Pipeline, pusher Pusher, enabled func() bool, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		pipeline: p,
		pusher:   pusher,
		enabled:  enabled,
		logger:   logger,
		seen:     make(map[string]struct{}),
	}
}

// entry ids change on every poll, so identity is level plus message plus
// the line's own timestamp. Lines without one are stamped at poll time and
// are keyed on level and message only.
func key(e models.LogEntry) string {
	if !e.Structured {
		return string(e.Level) + "|" + e.Message
	}
	return string(e.Level) + "|" + e.Timestamp.Format("15:04:05") + "|" + e.Message
}

// Scan returns the number of alerts pushed.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	if s.enabled != nil && !s.enabled() {
		return 0, nil
	}
	entries, err := s.pipeline.Recent(ctx, scanLimit, "")
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	current := make(map[string]struct{}, len(entries))
	var fresh []models.LogEntry
	for _, e := range entries {
		if e.Level != models.LevelError {
			continue
		}
		k := key(e)
		current[k] = struct{}{}
		if _, ok := s.seen[k]; !ok && s.primed {
			fresh = append(fresh, e)
		}
	}
	s.seen = current
	s.primed = true
	s.mu.Unlock()

	pushed := 0
	for _, e := range fresh {
		payload, err := json.Marshal(map[string]string{
			"title": "Midas " + string(e.Type) + " error",
			"body":  e.Message,
			"url":   "/control",
		})
		if err != nil {
			return pushed, err
		}
		if _, err := s.pusher.Push(ctx, payload); err != nil {
			s.logger.Warn("alert push failed", zap.Error(err))
			continue
		}
		pushed++
	}
	return pushed, nil
}

// TelegramDisplayer shows worker notifications as Telegram messages.
type TelegramDisplayer struct {
	Notifier *notify.Notifier
}

func (d TelegramDisplayer) Show(ctx context.Context, n offline.Notification) error {
	return d.Notifier.Notify(ctx, notify.Alert{Title: n.Title, Body: n.Body, URL: n.Data})
}

// Close is a no-op; sent messages stay in the chat.
func (d TelegramDisplayer) Close(context.Context, offline.Notification) error { return nil }
