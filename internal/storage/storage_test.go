package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xaenox/midas/internal/models"
)

type tick struct{ t time.Time }

func (c *tick) Now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func stores(t *testing.T) map[string]HistoryStore {
	clock := func() func() time.Time {
		c := &tick{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
		return c.Now
	}
	path := filepath.Join(t.TempDir(), "nested", "data", "analysis_history.json")
	return map[string]HistoryStore{
		"file":   NewFileHistory(path, nil).WithClock(clock()),
		"memory": NewMemoryHistory().WithClock(clock()),
	}
}

func TestHistory_CapAndOrder(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var first, last models.AnalysisHistoryEntry
			for i := 0; i < MaxHistory+1; i++ {
				e, err := s.Append(ctx, models.Analysis{Symbol: fmt.Sprintf("S%d", i), FinalScore: float64(i)})
				if err != nil {
					t.Fatalf("Append %d: %v", i, err)
				}
				if i == 0 {
					first = e
				}
				last = e
			}
			got := s.Load(ctx)
			if len(got) != MaxHistory {
				t.Fatalf("len=%d want=%d", len(got), MaxHistory)
			}
			if got[0].ID != last.ID {
				t.Fatalf("head=%s want=%s", got[0].ID, last.ID)
			}
			for _, e := range got {
				if e.ID == first.ID {
					t.Fatalf("oldest entry %s not evicted", first.ID)
				}
			}
			if got[MaxHistory-1].Symbol != "S1" {
				t.Fatalf("tail=%s want=S1", got[MaxHistory-1].Symbol)
			}
		})
	}
}

func TestHistory_IDAndSavedAt(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			e, err := s.Append(context.Background(), models.Analysis{Symbol: "AAPL"})
			if err != nil {
				t.Fatalf("Append: %v", err)
			}
			want := time.Date(2026, 5, 1, 12, 0, 0, int(time.Millisecond), time.UTC)
			if e.ID != fmt.Sprintf("AAPL_%d", want.UnixMilli()) {
				t.Fatalf("id=%s", e.ID)
			}
			if !e.SavedAt.Equal(want) {
				t.Fatalf("savedAt=%s want=%s", e.SavedAt, want)
			}
		})
	}
}

func TestHistory_RemoveAndClear(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, _ := s.Append(ctx, models.Analysis{Symbol: "AAPL"})
			b, _ := s.Append(ctx, models.Analysis{Symbol: "MSFT"})

			if err := s.RemoveByID(ctx, a.ID); err != nil {
				t.Fatalf("RemoveByID: %v", err)
			}
			got := s.Load(ctx)
			if len(got) != 1 || got[0].ID != b.ID {
				t.Fatalf("after remove=%+v", got)
			}
			if err := s.RemoveByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("removing a missing id: err=%v want=%v", err, ErrNotFound)
			}
			if got := s.Load(ctx); len(got) != 1 {
				t.Fatalf("missing id changed history: len=%d", len(got))
			}
			if err := s.Clear(ctx); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if got := s.Load(ctx); len(got) != 0 {
				t.Fatalf("after clear len=%d", len(got))
			}
		})
	}
}

func TestFileHistory_MissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")
	s := NewFileHistory(path, nil)

	if got := s.Load(context.Background()); got == nil || len(got) != 0 {
		t.Fatalf("missing file load=%v", got)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := s.Load(context.Background()); len(got) != 0 {
		t.Fatalf("corrupt file load=%v", got)
	}
	if _, err := s.Append(context.Background(), models.Analysis{Symbol: "NVDA"}); err != nil {
		t.Fatalf("append over corrupt file: %v", err)
	}
	if got := s.Load(context.Background()); len(got) != 1 {
		t.Fatalf("len=%d want=1", len(got))
	}
}

func TestFileHistory_PreservesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s := NewFileHistory(path, nil)

	var a models.Analysis
	raw := `{"symbol":"MC.PA","finalScore":71,"decision":"BUY","pillars":[],"sector":"Luxury","targets":{"tp":820}}`
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Analyses []map[string]any `json:"analyses"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	got := doc.Analyses[0]
	if got["sector"] != "Luxury" || got["id"] == nil || got["savedAt"] == nil || got["decision"] != "BUY" {
		t.Fatalf("persisted=%v", got)
	}

	loaded := s.Load(context.Background())
	if string(loaded[0].Extra["sector"]) != `"Luxury"` {
		t.Fatalf("extra=%v", loaded[0].Extra)
	}
	if _, ok := loaded[0].Extra["id"]; ok {
		t.Fatalf("id leaked into extra fields")
	}
}

func TestHistory_SameMillisecondKeepsBoth(t *testing.T) {
	frozen := func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	path := filepath.Join(t.TempDir(), "history.json")
	for name, s := range map[string]HistoryStore{
		"file":   NewFileHistory(path, nil).WithClock(frozen),
		"memory": NewMemoryHistory().WithClock(frozen),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, err := s.Append(ctx, models.Analysis{Symbol: "AAPL", FinalScore: 60})
			if err != nil {
				t.Fatalf("Append: %v", err)
			}
			b, err := s.Append(ctx, models.Analysis{Symbol: "AAPL", FinalScore: 70})
			if err != nil {
				t.Fatalf("Append: %v", err)
			}
			if a.ID == b.ID {
				t.Fatalf("duplicate id %s", a.ID)
			}
			if want := fmt.Sprintf("AAPL_%d", frozen().UnixMilli()+1); b.ID != want {
				t.Fatalf("second id=%s want=%s", b.ID, want)
			}
			got := s.Load(ctx)
			if len(got) != 2 || got[0].FinalScore != 70 || got[1].FinalScore != 60 {
				t.Fatalf("history=%+v", got)
			}
		})
	}
}

func TestFileHistory_SkipsMistypedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	doc := `{"analyses":[
		{"id":"AAPL_1","savedAt":"2026-05-01T12:00:00Z","symbol":"AAPL","finalScore":71,"confidence":"high"},
		{"id":"MSFT_2","savedAt":"not a time","symbol":"MSFT"},
		"garbage",
		{"id":"NVDA_3","savedAt":"2026-05-01T11:00:00Z","symbol":"NVDA","finalScore":55,"timestamp":1714561200}
	]}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewFileHistory(path, nil)
	ctx := context.Background()

	got := s.Load(ctx)
	if len(got) != 2 || got[0].ID != "AAPL_1" || got[1].ID != "NVDA_3" {
		t.Fatalf("loaded=%+v", got)
	}
	if got[0].FinalScore != 71 || string(got[0].Extra["confidence"]) != `"high"` {
		t.Fatalf("mistyped field not kept: %+v", got[0])
	}

	if _, err := s.Append(ctx, models.Analysis{Symbol: "TSLA"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := s.Load(ctx); len(got) != 3 {
		t.Fatalf("after append len=%d want=3", len(got))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var persisted struct {
		Analyses []map[string]any `json:"analyses"`
	}
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatal(err)
	}
	if persisted.Analyses[1]["confidence"] != "high" || persisted.Analyses[2]["timestamp"] != float64(1714561200) {
		t.Fatalf("persisted=%v", persisted.Analyses)
	}
}
