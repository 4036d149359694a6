// Package settings persists the dashboard's user settings: the paper
// trading flag and the alert channels. Secrets are masked on the way out and
// kept when the UI sends the mask back.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/models"
)

var ErrInvalidTelegram = errors.New("invalid Telegram bot token or chat ID")

// TelegramValidator checks that a bot token can reach chatID.
type TelegramValidator interface {
	ValidateChat(ctx context.Context, botToken, chatID string) bool
}

type Update struct {
	PaperMode *bool           `json:"paperMode"`
	Telegram  *TelegramUpdate `json:"telegram"`
	Email     *EmailUpdate    `json:"email"`
}

type TelegramUpdate struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	ChatID   string `json:"chatId"`
}

type EmailUpdate struct {
	Enabled   *bool   `json:"enabled"`
	SMTPHost  *string `json:"smtpHost"`
	SMTPPort  *int    `json:"smtpPort"`
	Username  *string `json:"username"`
	Password  *string `json:"password"`
	Recipient *string `json:"recipient"`
}

type Store struct {
	path      string
	validator TelegramValidator
	logger    *zap.Logger
	mu        sync.Mutex
}

func NewStore(path string, validator TelegramValidator, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, validator: validator, logger: logger}
}

// Load returns the stored settings over the defaults. Unreadable files
// yield the defaults.
func (s *Store) Load() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() models.Settings {
	out := models.DefaultSettings()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("settings unreadable", zap.Error(err), zap.String("path", s.path))
		}
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.Warn("settings corrupt, using defaults", zap.Error(err), zap.String("path", s.path))
		return models.DefaultSettings()
	}
	return out
}

func (s *Store) save(v models.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Apply merges u into the stored settings and persists the result. A new
// Telegram token is only accepted once it has been validated.
func (s *Store) Apply(ctx context.Context, u Update) (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.load()
	if u.PaperMode != nil {
		cur.PaperMode = *u.PaperMode
	}

	if tg := u.Telegram; tg != nil {
		if tg.Enabled && tg.BotToken != "" && tg.BotToken != models.MaskedSecret {
			if s.validator == nil || !s.validator.ValidateChat(ctx, tg.BotToken, tg.ChatID) {
				return models.Settings{}, ErrInvalidTelegram
			}
			cur.Alerts.Telegram.BotToken = tg.BotToken
		}
		cur.Alerts.Telegram.Enabled = tg.Enabled
		if tg.ChatID != "" {
			cur.Alerts.Telegram.ChatID = tg.ChatID
		}
	}

	if em := u.Email; em != nil {
		e := &cur.Alerts.Email
		if em.Enabled != nil {
			e.Enabled = *em.Enabled
		}
		if em.SMTPHost != nil {
			e.SMTPHost = *em.SMTPHost
		}
		if em.SMTPPort != nil {
			e.SMTPPort = *em.SMTPPort
		}
		if em.Username != nil {
			e.Username = *em.Username
		}
		if em.Recipient != nil {
			e.Recipient = *em.Recipient
		}
		if em.Password != nil && *em.Password != "" && *em.Password != models.MaskedSecret {
			e.Password = *em.Password
		}
	}

	if err := s.save(cur); err != nil {
		return models.Settings{}, err
	}
	return cur, nil
}
