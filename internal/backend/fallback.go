package backend

import (
	"math"
	"math/rand"
	"time"

	"github.com/xaenox/midas/internal/models"
)

const (
	FallbackCapital  = 15000.0
	HistoryBaseValue = 10000.0
	historySeed      = 20240601
)

func FallbackPortfolio() models.Portfolio {
	return models.Portfolio{
		TotalValue:       FallbackCapital,
		AvailableCapital: FallbackCapital,
		Positions:        []models.Position{},
		History:          []models.PortfolioSnapshot{},
		Error:            "Backend unavailable",
	}
}

func MockTrades(now time.Time) []models.Trade {
	return []models.Trade{
		{
			ID:        "1",
			Symbol:    "BTC/USDT",
			Side:      "buy",
			Size:      0.1,
			Price:     42000,
			Timestamp: now.Add(-time.Hour).UTC(),
			Reason:    "Strong bullish signal",
		},
		{
			ID:        "2",
			Symbol:    "ETH/USDT",
			Side:      "buy",
			Size:      1.5,
			Price:     2200,
			Timestamp: now.Add(-2 * time.Hour).UTC(),
			Reason:    "Multi-pillar analysis positive",
		},
	}
}

// historyShape maps a period to its point count and spacing. Unknown
// periods use the 30 day shape.
func historyShape(period string) (int, time.Duration) {
	switch period {
	case "24h":
		return 24, time.Hour
	case "7d":
		return 7 * 4, 6 * time.Hour
	default:
		return 30, 24 * time.Hour
	}
}

// MockPortfolioHistory generates a placeholder value curve ending at now.
// The walk is seeded, so the same period always yields the same values.
func MockPortfolioHistory(period string, now time.Time) []models.PortfolioSnapshot {
	points, interval := historyShape(period)
	r := rand.New(rand.NewSource(historySeed))
	value := HistoryBaseValue
	out := make([]models.PortfolioSnapshot, points)
	for i := range out {
		change := (r.Float64() - 0.48) * 100
		value = math.Max(value+change, HistoryBaseValue*0.9)
		out[i] = models.PortfolioSnapshot{
			Timestamp:  now.Add(-time.Duration(points-1-i) * interval).UTC(),
			TotalValue: value,
			Pnl:        value - HistoryBaseValue,
		}
	}
	return out
}
