package backend

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newBackend(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second}, nil)
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestPortfolio_Aggregates(t *testing.T) {
	c := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/api/v1/portfolio/summary":
			w.Write([]byte(`{"available_capital":1000}`))
		case "/api/v1/trades":
			if r.URL.Query().Get("status") != "open" {
				http.Error(w, "bad", http.StatusBadRequest)
				return
			}
			w.Write([]byte(`[
				{"symbol":"AAPL","shares":10,"entry_price":100,"entry_date":"2026-01-02"},
				{"symbol":"MC.PA","shares":2,"entry_price":50,"position_value":120}
			]`))
		case "/api/v1/stock/AAPL/price":
			w.Write([]byte(`{"price":110}`))
		default:
			http.NotFound(w, r)
		}
	})

	p, err := c.Portfolio(context.Background())
	if err != nil {
		t.Fatalf("Portfolio: %v", err)
	}
	if p.OpenPositions != 2 || len(p.Positions) != 2 {
		t.Fatalf("positions=%d", len(p.Positions))
	}
	aapl, mc := p.Positions[0], p.Positions[1]
	if !approx(aapl.CurrentPrice, 110) || !approx(aapl.Pnl, 100) || !approx(aapl.PnlPercent, 10) {
		t.Fatalf("aapl=%+v", aapl)
	}
	if !approx(aapl.PositionValue, 1000) || aapl.Side != "long" {
		t.Fatalf("aapl=%+v", aapl)
	}
	if !approx(mc.CurrentPrice, 50) || !approx(mc.Pnl, 0) || !approx(mc.PositionValue, 120) {
		t.Fatalf("mc=%+v", mc)
	}
	if !approx(p.InvestedCapital, 1100) || !approx(p.TotalPnl, 100) {
		t.Fatalf("invested=%v pnl=%v", p.InvestedCapital, p.TotalPnl)
	}
	if !approx(p.TotalValue, 1000+1100+100) {
		t.Fatalf("total=%v", p.TotalValue)
	}
	if !approx(p.TotalPnlPercent, 100.0/1100*100) {
		t.Fatalf("pct=%v", p.TotalPnlPercent)
	}
}

func TestPortfolio_Degraded(t *testing.T) {
	c := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	p, err := c.Portfolio(context.Background())
	if err != nil {
		t.Fatalf("non-2xx should degrade, got %v", err)
	}
	if p.TotalValue != 0 || len(p.Positions) != 0 || p.Positions == nil {
		t.Fatalf("p=%+v", p)
	}

	dead := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, nil)
	if _, err := dead.Portfolio(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err=%v want ErrUnavailable", err)
	}
}

func TestPassThrough(t *testing.T) {
	c := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/portfolio/history":
			w.Write([]byte(`{"period":"` + r.URL.Query().Get("period") + `"}`))
		case "/position/history":
			w.Write([]byte(`{"symbol":"` + r.URL.Query().Get("symbol") + `"}`))
		case "/trades":
			w.Write([]byte(`not json`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	raw, err := c.PortfolioHistory(ctx, "7d")
	if err != nil || string(raw) != `{"period":"7d"}` {
		t.Fatalf("raw=%s err=%v", raw, err)
	}
	raw, err = c.PositionHistory(ctx, "MC.PA")
	if err != nil || string(raw) != `{"symbol":"MC.PA"}` {
		t.Fatalf("raw=%s err=%v", raw, err)
	}
	if _, err := c.Trades(ctx); err == nil {
		t.Fatalf("invalid JSON accepted")
	}
	var apiErr *APIError
	if _, err := c.TradeHistory(ctx); !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("err=%v", err)
	}
}

func TestMockPortfolioHistory(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		period   string
		points   int
		interval time.Duration
	}{
		{"24h", 24, time.Hour},
		{"7d", 28, 6 * time.Hour},
		{"30d", 30, 24 * time.Hour},
		{"bogus", 30, 24 * time.Hour},
	}
	for _, tt := range tests {
		got := MockPortfolioHistory(tt.period, now)
		if len(got) != tt.points {
			t.Fatalf("%s: points=%d want %d", tt.period, len(got), tt.points)
		}
		if !got[len(got)-1].Timestamp.Equal(now) {
			t.Fatalf("%s: last=%v", tt.period, got[len(got)-1].Timestamp)
		}
		if d := got[1].Timestamp.Sub(got[0].Timestamp); d != tt.interval {
			t.Fatalf("%s: interval=%v", tt.period, d)
		}
		for _, s := range got {
			if s.TotalValue < HistoryBaseValue*0.9 || !approx(s.Pnl, s.TotalValue-HistoryBaseValue) {
				t.Fatalf("%s: bad point %+v", tt.period, s)
			}
		}
	}

	a, _ := json.Marshal(MockPortfolioHistory("7d", now))
	b, _ := json.Marshal(MockPortfolioHistory("7d", now))
	if string(a) != string(b) {
		t.Fatalf("mock history not deterministic")
	}
}

func TestFallbacks(t *testing.T) {
	p := FallbackPortfolio()
	if p.TotalValue != 15000 || p.AvailableCapital != 15000 || p.Error != "Backend unavailable" {
		t.Fatalf("p=%+v", p)
	}
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	trades := MockTrades(now)
	if len(trades) != 2 || !trades[0].Timestamp.Equal(now.Add(-time.Hour)) {
		t.Fatalf("trades=%+v", trades)
	}
}

func TestExport(t *testing.T) {
	c := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/trades":
			w.Write([]byte(`{"trades":[{"id":"1","symbol":"AAPL","side":"buy","size":10,"price":182.5,"timestamp":"2026-03-14T09:30:00Z","reason":"breakout, volume"}]}`))
		case "/analysis/latest":
			w.Write([]byte(`{"analyses":[{"symbol":"AAPL","finalScore":72,"decision":"BUY","confidence":80,"timestamp":"t","summary":"said \"strong\""}]}`))
		}
	})
	ctx := context.Background()

	got, err := c.Export(ctx, ExportTrades)
	if err != nil {
		t.Fatal(err)
	}
	want := "ID,Symbol,Side,Size,Price,Timestamp,Reason\n1,AAPL,buy,10,182.5,2026-03-14T09:30:00Z,\"breakout, volume\"\n"
	if string(got) != want {
		t.Fatalf("got=%q want=%q", got, want)
	}

	got, err = c.Export(ctx, ExportAnalysis)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(got), "AAPL,72,BUY,80,t,\"said \"\"strong\"\"\"\n") {
		t.Fatalf("got=%q", got)
	}
}
