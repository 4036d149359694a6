package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/models"
)

type summary struct {
	AvailableCapital float64 `json:"available_capital"`
}

type openTrade struct {
	Symbol            string   `json:"symbol"`
	Shares            float64  `json:"shares"`
	EntryPrice        float64  `json:"entry_price"`
	EntryDate         string   `json:"entry_date"`
	StopLoss          *float64 `json:"stop_loss"`
	TakeProfit        *float64 `json:"take_profit"`
	ScoreAtEntry      *float64 `json:"score_at_entry"`
	PillarTechnical   *float64 `json:"pillar_technical"`
	PillarFundamental *float64 `json:"pillar_fundamental"`
	PillarSentiment   *float64 `json:"pillar_sentiment"`
	PillarNews        *float64 `json:"pillar_news"`
	Reasoning         string   `json:"reasoning"`
	PositionValue     float64  `json:"position_value"`
	CompanyName       string   `json:"company_name"`
	Sector            string   `json:"sector"`
	Industry          string   `json:"industry"`
}

type priceDoc struct {
	Price float64 `json:"price"`
}

// Price returns the last price for symbol, or false when the backend has
// none.
func (c *Client) Price(ctx context.Context, symbol string) (float64, bool) {
	var doc priceDoc
	path := fmt.Sprintf("/api/v1/stock/%s/price", url.PathEscape(symbol))
	if err := c.getJSON(ctx, path, nil, &doc); err != nil || doc.Price == 0 {
		return 0, false
	}
	return doc.Price, true
}

func (c *Client) prices(ctx context.Context, trades []openTrade) []float64 {
	out := make([]float64, len(trades))
	var wg sync.WaitGroup
	for i, t := range trades {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			if p, ok := c.Price(ctx, symbol); ok {
				out[i] = p
			}
		}(i, t.Symbol)
	}
	wg.Wait()
	return out
}

// Portfolio builds the portfolio view from the summary, the open trades and
// a live price per symbol. A missing price falls back to the entry price.
// Only an unreachable backend is an error; a non-2xx summary counts as zero
// cash and a failed trades call as no positions.
func (c *Client) Portfolio(ctx context.Context) (models.Portfolio, error) {
	var sum summary
	if err := c.getJSON(ctx, "/api/v1/portfolio/summary", nil, &sum); err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return models.Portfolio{}, err
		}
		c.logger.Warn("portfolio summary rejected", zap.Int("status", apiErr.Status))
	}

	var trades []openTrade
	if err := c.getJSON(ctx, "/api/v1/trades", url.Values{"status": {"open"}}, &trades); err != nil {
		c.logger.Warn("open trades fetch failed", zap.Error(err))
		trades = nil
	}
	return aggregate(sum.AvailableCapital, trades, c.prices(ctx, trades)), nil
}

func aggregate(cash float64, trades []openTrade, prices []float64) models.Portfolio {
	var (
		totalPnl      = decimal.Zero
		totalInvested = decimal.Zero
		currentValue  = decimal.Zero
		positions     = make([]models.Position, 0, len(trades))
	)
	for i, t := range trades {
		entry := decimal.NewFromFloat(t.EntryPrice)
		shares := decimal.NewFromFloat(t.Shares)
		current := entry
		if prices[i] != 0 {
			current = decimal.NewFromFloat(prices[i])
		}
		invested := entry.Mul(shares)
		pnl := current.Sub(entry).Mul(shares)
		pnlPercent := decimal.Zero
		if !entry.IsZero() {
			pnlPercent = current.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100))
		}

		totalPnl = totalPnl.Add(pnl)
		totalInvested = totalInvested.Add(invested)
		currentValue = currentValue.Add(current.Mul(shares))

		positionValue := t.PositionValue
		if positionValue == 0 {
			positionValue = invested.InexactFloat64()
		}
		positions = append(positions, models.Position{
			Symbol:            t.Symbol,
			Side:              "long",
			Size:              t.Shares,
			EntryPrice:        t.EntryPrice,
			CurrentPrice:      current.InexactFloat64(),
			Pnl:               pnl.InexactFloat64(),
			PnlPercent:        pnlPercent.InexactFloat64(),
			OpenedAt:          t.EntryDate,
			StopLoss:          t.StopLoss,
			TakeProfit:        t.TakeProfit,
			ScoreAtEntry:      t.ScoreAtEntry,
			PillarTechnical:   t.PillarTechnical,
			PillarFundamental: t.PillarFundamental,
			PillarSentiment:   t.PillarSentiment,
			PillarNews:        t.PillarNews,
			Reasoning:         t.Reasoning,
			PositionValue:     positionValue,
			CompanyName:       t.CompanyName,
			Sector:            t.Sector,
			Industry:          t.Industry,
		})
	}

	totalPnlPercent := decimal.Zero
	if totalInvested.IsPositive() {
		totalPnlPercent = totalPnl.Div(totalInvested).Mul(decimal.NewFromInt(100))
	}
	cashDec := decimal.NewFromFloat(cash)
	return models.Portfolio{
		TotalValue:       cashDec.Add(currentValue).InexactFloat64(),
		AvailableCapital: cash,
		InvestedCapital:  totalInvested.InexactFloat64(),
		TotalPnl:         totalPnl.InexactFloat64(),
		TotalPnlPercent:  totalPnlPercent.InexactFloat64(),
		Positions:        positions,
		OpenPositions:    len(positions),
		History:          []models.PortfolioSnapshot{},
	}
}
