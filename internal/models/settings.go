package models

// MaskedSecret replaces stored secrets in settings read by the UI.
const MaskedSecret = "***configured***"

type Settings struct {
	PaperMode bool           `json:"paperMode"`
	Alerts    AlertsSettings `json:"alerts"`
}

type AlertsSettings struct {
	Telegram TelegramSettings `json:"telegram"`
	Email    EmailSettings    `json:"email"`
}

type TelegramSettings struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	ChatID   string `json:"chatId"`
}

type EmailSettings struct {
	Enabled   bool   `json:"enabled"`
	SMTPHost  string `json:"smtpHost"`
	SMTPPort  int    `json:"smtpPort"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Recipient string `json:"recipient"`
}

// DefaultSettings mirrors a fresh install: paper trading, no alerts.
func DefaultSettings() Settings {
	return Settings{
		PaperMode: true,
		Alerts: AlertsSettings{
			Email: EmailSettings{
				SMTPHost: "smtp.gmail.com",
				SMTPPort: 587,
			},
		},
	}
}

// Masked returns a copy safe to hand to the UI.
func (s Settings) Masked() Settings {
	out := s
	if out.Alerts.Telegram.BotToken != "" {
		out.Alerts.Telegram.BotToken = MaskedSecret
	}
	if out.Alerts.Email.Password != "" {
		out.Alerts.Email.Password = MaskedSecret
	}
	return out
}
