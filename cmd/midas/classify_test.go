package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/xaenox/midas/internal/classifier"
	"github.com/xaenox/midas/internal/models"
)

const sample = `09:15:02 | INFO | scanner | Starting market scan
09:15:04 | ERROR | executor | Order rejected by broker
noise
Bullish sentiment on NVDA from grok feed
`

func decodeLines(t *testing.T, out string) []models.LogEntry {
	t.Helper()
	var entries []models.LogEntry
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var e models.LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestClassify(t *testing.T) {
	clf := classifier.NewWithClock(func() time.Time { return time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC) })

	cases := []struct {
		name  string
		topic string
		limit int
		want  []string
	}{
		{"all", "all", 10, []string{"Bullish sentiment on NVDA from grok feed", "Order rejected by broker", "Starting market scan"}},
		{"limit", "", 1, []string{"Bullish sentiment on NVDA from grok feed"}},
		{"trade", "trade", 10, []string{"Order rejected by broker"}},
		{"signal", "signal", 10, []string{"Bullish sentiment on NVDA from grok feed"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := classify(strings.NewReader(sample), &out, clf, tc.topic, tc.limit); err != nil {
				t.Fatalf("classify: %v", err)
			}
			got := decodeLines(t, out.String())
			if len(got) != len(tc.want) {
				t.Fatalf("got=%d entries want=%d: %+v", len(got), len(tc.want), got)
			}
			for i, e := range got {
				if e.Message != tc.want[i] {
					t.Fatalf("entry %d got=%q want=%q", i, e.Message, tc.want[i])
				}
			}
		})
	}
}

func TestClassify_UnknownTopic(t *testing.T) {
	var out bytes.Buffer
	if err := classify(strings.NewReader(sample), &out, classifier.New(), "weather", 10); err == nil {
		t.Fatalf("expected error for unknown topic")
	}
}
