package backend

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
)

const (
	ExportTrades   = "trades"
	ExportAnalysis = "analysis"
)

var (
	tradeColumns    = []string{"ID", "Symbol", "Side", "Size", "Price", "Timestamp", "Reason"}
	tradeKeys       = []string{"id", "symbol", "side", "size", "price", "timestamp", "reason"}
	analysisColumns = []string{"Symbol", "Score", "Decision", "Confidence", "Timestamp", "Summary"}
	analysisKeys    = []string{"symbol", "finalScore", "decision", "confidence", "timestamp", "summary"}
)

// Export renders the backend's trades or latest analyses as CSV. Any kind
// other than "trades" exports analyses.
func (c *Client) Export(ctx context.Context, kind string) ([]byte, error) {
	var (
		rows []map[string]any
		err  error
	)
	if kind == ExportTrades {
		rows, err = c.TradeRows(ctx)
	} else {
		rows, err = c.LatestAnalyses(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", kind, err)
	}
	if kind == ExportTrades {
		return toCSV(tradeColumns, tradeKeys, rows)
	}
	return toCSV(analysisColumns, analysisKeys, rows)
}

func toCSV(header, keys []string, rows []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	rec := make([]string, len(keys))
	for _, row := range rows {
		for i, k := range keys {
			rec[i] = cell(row[k])
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
