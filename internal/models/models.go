package models

import "time"

// LogLevel is the severity assigned to a classified agent log line.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
	LevelSuccess LogLevel = "success"
)

// LogTopic is the category a classified agent log line belongs to.
type LogTopic string

const (
	TopicAnalysis LogTopic = "analysis"
	TopicTrade    LogTopic = "trade"
	TopicSignal   LogTopic = "signal"
	TopicSystem   LogTopic = "system"
)

// ParseLogTopic reports whether s names a known topic.
func ParseLogTopic(s string) (LogTopic, bool) {
	switch t := LogTopic(s); t {
	case TopicAnalysis, TopicTrade, TopicSignal, TopicSystem:
		return t, true
	}
	return "", false
}

// LogEntry represents one classified line of agent output. Entries are
// rebuilt on every poll and never persisted.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Type      LogTopic  `json:"type"`
	Message   string    `json:"message"`
	// Structured is set when Timestamp was read from the line itself rather
	// than taken from the classification clock.
	Structured bool `json:"-"`
}

// BotStatus is the control page summary of the agent container.
type BotStatus struct {
	Running       bool       `json:"running"`
	Uptime        int64      `json:"uptime"`
	LastActivity  *time.Time `json:"lastActivity"`
	TotalTrades   int        `json:"totalTrades"`
	TodayPnl      float64    `json:"todayPnl"`
	Capital       float64    `json:"capital"`
	OpenPositions int        `json:"openPositions"`
	Version       string     `json:"version,omitempty"`
}

// Trade is a single executed order as reported by the backend.
type Trade struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Size      float64   `json:"size"`
	Price     float64   `json:"price"`
	Pnl       *float64  `json:"pnl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Position is an open holding enriched with the latest price.
type Position struct {
	Symbol            string   `json:"symbol"`
	Side              string   `json:"side"`
	Size              float64  `json:"size"`
	EntryPrice        float64  `json:"entryPrice"`
	CurrentPrice      float64  `json:"currentPrice"`
	Pnl               float64  `json:"pnl"`
	PnlPercent        float64  `json:"pnlPercent"`
	OpenedAt          string   `json:"openedAt,omitempty"`
	StopLoss          *float64 `json:"stopLoss,omitempty"`
	TakeProfit        *float64 `json:"takeProfit,omitempty"`
	ScoreAtEntry      *float64 `json:"scoreAtEntry,omitempty"`
	PillarTechnical   *float64 `json:"pillarTechnical,omitempty"`
	PillarFundamental *float64 `json:"pillarFundamental,omitempty"`
	PillarSentiment   *float64 `json:"pillarSentiment,omitempty"`
	PillarNews        *float64 `json:"pillarNews,omitempty"`
	Reasoning         string   `json:"reasoning,omitempty"`
	PositionValue     float64  `json:"positionValue"`
	CompanyName       string   `json:"companyName,omitempty"`
	Sector            string   `json:"sector,omitempty"`
	Industry          string   `json:"industry,omitempty"`
}

// PortfolioSnapshot is one point on the portfolio value curve.
type PortfolioSnapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	TotalValue float64   `json:"totalValue"`
	Pnl        float64   `json:"pnl"`
}

// Portfolio is the aggregated view served to the portfolio page.
type Portfolio struct {
	TotalValue       float64             `json:"totalValue"`
	AvailableCapital float64             `json:"availableCapital"`
	InvestedCapital  float64             `json:"investedCapital"`
	TotalPnl         float64             `json:"totalPnl"`
	TotalPnlPercent  float64             `json:"totalPnlPercent"`
	Positions        []Position          `json:"positions"`
	OpenPositions    int                 `json:"openPositions"`
	History          []PortfolioSnapshot `json:"history"`
	Error            string              `json:"error,omitempty"`
}
