// Package notify delivers alert messages over Telegram and validates the
// bot token/chat pairs users enter in settings.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("telegram alerts not configured")

type Telegram struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewTelegram returns a client against the public Bot API. endpoint may be
// overridden with a "%s/%s" template (token, method) for self-hosted servers.
func NewTelegram(endpoint string, timeout time.Duration, logger *zap.Logger) *Telegram {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (t *Telegram) api(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, t.endpoint, t.client)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return api, nil
}

func chatConfig(chatID string) (tgbotapi.ChatConfig, error) {
	chatID = strings.TrimSpace(chatID)
	if strings.HasPrefix(chatID, "@") {
		return tgbotapi.ChatConfig{SuperGroupUsername: chatID}, nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return tgbotapi.ChatConfig{}, fmt.Errorf("invalid chat id %q", chatID)
	}
	return tgbotapi.ChatConfig{ChatID: id}, nil
}

// ValidateChat reports whether botToken is accepted by Telegram and can see
// chatID.
func (t *Telegram) ValidateChat(_ context.Context, botToken, chatID string) bool {
	cc, err := chatConfig(chatID)
	if err != nil {
		t.logger.Info("telegram validation rejected", zap.Error(err))
		return false
	}
	api, err := t.api(botToken)
	if err != nil {
		t.logger.Info("telegram validation rejected", zap.Error(err))
		return false
	}
	if _, err := api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: cc}); err != nil {
		t.logger.Info("telegram chat lookup failed", zap.Error(err), zap.String("chat_id", chatID))
		return false
	}
	return true
}

// Send posts a MarkdownV2 alert: title in bold, then the body, then link.
func (t *Telegram) Send(_ context.Context, botToken, chatID string, a Alert) error {
	if botToken == "" || chatID == "" {
		return ErrNotConfigured
	}
	cc, err := chatConfig(chatID)
	if err != nil {
		return err
	}
	api, err := t.api(botToken)
	if err != nil {
		return err
	}

	msg := tgbotapi.MessageConfig{
		BaseChat: tgbotapi.BaseChat{
			ChatID:          cc.ChatID,
			ChannelUsername: cc.SuperGroupUsername,
		},
		Text:      a.Format(),
		ParseMode: tgbotapi.ModeMarkdownV2,
	}
	if _, err := api.Send(msg); err != nil {
		t.logger.Error("Failed to send alert",
			zap.Error(err),
			zap.String("chat_id", chatID))
		return fmt.Errorf("send alert: %w", err)
	}
	return nil
}

type Alert struct {
	Title string
	Body  string
	URL   string
}

func (a Alert) Format() string {
	text := fmt.Sprintf("*%s*\n%s", escapeMarkdown(a.Title), escapeMarkdown(a.Body))
	if a.URL != "" && a.URL != "/" {
		text += "\n" + escapeMarkdown(a.URL)
	}
	return text
}

// Escapes the MarkdownV2 reserved characters.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

// SettingsSource returns the current telegram alert configuration.
type SettingsSource func() (enabled bool, botToken, chatID string)

// Notifier sends alerts to whichever chat the settings currently name.
type Notifier struct {
	tg       *Telegram
	settings SettingsSource
}

func NewNotifier(tg *Telegram, settings SettingsSource) *Notifier {
	return &Notifier{tg: tg, settings: settings}
}

func (n *Notifier) Enabled() bool {
	enabled, token, chat := n.settings()
	return enabled && token != "" && chat != ""
}

func (n *Notifier) Notify(ctx context.Context, a Alert) error {
	enabled, token, chat := n.settings()
	if !enabled {
		return ErrNotConfigured
	}
	return n.tg.Send(ctx, token, chat, a)
}
