package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AnalysisPillar is one weighted sub-score of an analysis decision.
type AnalysisPillar struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Weight  float64 `json:"weight"`
	Details string  `json:"details"`
}

// Analysis is the payload produced by the agent's detailed analysis script.
// Fields the dashboard does not know about are kept in Extra so that they
// survive a round trip through the history store.
type Analysis struct {
	Symbol       string           `json:"symbol"`
	Timestamp    string           `json:"timestamp,omitempty"`
	FinalScore   float64          `json:"finalScore"`
	Decision     string           `json:"decision"`
	Confidence   float64          `json:"confidence"`
	Pillars      []AnalysisPillar `json:"pillars"`
	Summary      string           `json:"summary,omitempty"`
	Text         string           `json:"analysis,omitempty"`
	CurrentPrice float64          `json:"currentPrice"`
	Fallback     bool             `json:"fallback,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type analysisAlias Analysis

func (a Analysis) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(analysisAlias(a))
	if err != nil || len(a.Extra) == 0 {
		return base, err
	}
	merged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	// A known key only lands in Extra when its value did not fit the typed
	// field, so the original value wins.
	for k, v := range a.Extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes known fields one by one. A value of the wrong type
// leaves the field zero and is kept verbatim in Extra; only a payload that
// is not a JSON object is an error.
func (a *Analysis) UnmarshalJSON(b []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	if all == nil {
		return fmt.Errorf("analysis: not an object")
	}
	var out Analysis
	take(all, "symbol", &out.Symbol)
	take(all, "timestamp", &out.Timestamp)
	take(all, "finalScore", &out.FinalScore)
	take(all, "decision", &out.Decision)
	take(all, "confidence", &out.Confidence)
	take(all, "pillars", &out.Pillars)
	take(all, "summary", &out.Summary)
	take(all, "analysis", &out.Text)
	take(all, "currentPrice", &out.CurrentPrice)
	take(all, "fallback", &out.Fallback)
	if len(all) > 0 {
		out.Extra = all
	}
	*a = out
	return nil
}

func take[T any](all map[string]json.RawMessage, key string, dst *T) {
	raw, ok := all[key]
	if !ok {
		return
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return
	}
	*dst = v
	delete(all, key)
}

// AnalysisHistoryEntry is a persisted analysis: the upstream payload plus
// the id and save time assigned by the history store.
type AnalysisHistoryEntry struct {
	ID      string
	SavedAt time.Time
	Analysis
}

// HistoryID builds the `{symbol}_{epochMillis}` identifier.
func HistoryID(symbol string, at time.Time) string {
	return fmt.Sprintf("%s_%d", symbol, at.UnixMilli())
}

func (e AnalysisHistoryEntry) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(e.Analysis)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	if fields["id"], err = json.Marshal(e.ID); err != nil {
		return nil, err
	}
	if fields["savedAt"], err = json.Marshal(e.SavedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

func (e *AnalysisHistoryEntry) UnmarshalJSON(b []byte) error {
	var a Analysis
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	var out AnalysisHistoryEntry
	if raw, ok := a.Extra["id"]; ok {
		if err := json.Unmarshal(raw, &out.ID); err != nil {
			return fmt.Errorf("history entry id: %w", err)
		}
		delete(a.Extra, "id")
	}
	if raw, ok := a.Extra["savedAt"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("history entry savedAt: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("history entry savedAt: %w", err)
		}
		out.SavedAt = t
		delete(a.Extra, "savedAt")
	}
	if len(a.Extra) == 0 {
		a.Extra = nil
	}
	out.Analysis = a
	*e = out
	return nil
}

// FallbackAnalysis is served when the agent cannot analyze symbol, so the
// UI always has something renderable.
func FallbackAnalysis(symbol string, now time.Time) Analysis {
	const unavailable = "Indisponible"
	return Analysis{
		Symbol:     symbol,
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
		FinalScore: 50,
		Decision:   "HOLD",
		Confidence: 50,
		Text:       "Analyse temporairement indisponible. Veuillez réessayer.",
		Pillars: []AnalysisPillar{
			{Name: "Technical", Score: 50, Weight: 30, Details: unavailable},
			{Name: "Fundamental", Score: 50, Weight: 25, Details: unavailable},
			{Name: "Sentiment", Score: 50, Weight: 20, Details: unavailable},
			{Name: "News", Score: 50, Weight: 10, Details: unavailable},
			{Name: "ML Adaptive", Score: 50, Weight: 15, Details: unavailable},
		},
		Fallback: true,
	}
}
