package alerts

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/xaenox/midas/internal/classifier"
	"github.com/xaenox/midas/internal/offline"
)

type lineSource struct{ text string }

func (s *lineSource) GetLogs(context.Context, int) (string, error) { return s.text, nil }

type recordingPusher struct{ payloads []map[string]string }

func (p *recordingPusher) Push(_ context.Context, payload []byte) (offline.Notification, error) {
	var m map[string]string
	json.Unmarshal(payload, &m)
	p.payloads = append(p.payloads, m)
	return offline.BuildNotification(payload)
}

func TestScanner(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC) }
	src := &lineSource{text: strings.Join([]string{
		"14:03:21 | ERROR | executor | Order failed: insufficient funds",
		"14:03:25 | INFO | scanner | Scanning 40 symbols",
	}, "\n")}
	p := &classifier.Pipeline{Source: src, Classifier: classifier.NewWithClock(now)}
	pusher := &recordingPusher{}
	enabled := true
	s := NewScanner(p, pusher, func() bool { return enabled }, nil)
	ctx := context.Background()

	if n, err := s.Scan(ctx); err != nil || n != 0 {
		t.Fatalf("priming scan pushed n=%d err=%v", n, err)
	}

	src.text += "\n14:04:00 | ERROR | executor | Broker rejected order"
	n, err := s.Scan(ctx)
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	got := pusher.payloads[0]
	if got["body"] != "Broker rejected order" || got["title"] != "Midas trade error" || got["url"] != "/control" {
		t.Fatalf("payload=%v", got)
	}

	if n, _ := s.Scan(ctx); n != 0 {
		t.Fatalf("repeat scan pushed %d", n)
	}

	enabled = false
	src.text += "\n14:05:00 | ERROR | executor | Another failure"
	if n, _ := s.Scan(ctx); n != 0 {
		t.Fatalf("disabled scanner pushed %d", n)
	}
}

func TestScanner_UnstructuredLineAcrossScans(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	now := func() time.Time { return at }
	src := &lineSource{text: "ConnectionError: broker unreachable, retrying"}
	p := &classifier.Pipeline{Source: src, Classifier: classifier.NewWithClock(now)}
	pusher := &recordingPusher{}
	s := NewScanner(p, pusher, func() bool { return true }, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if n, err := s.Scan(ctx); err != nil || n != 0 {
			t.Fatalf("scan %d: n=%d err=%v want=0", i+1, n, err)
		}
		at = at.Add(time.Minute)
	}

	src.text += "\nTraceback: TimeoutError: order book stale"
	if n, _ := s.Scan(ctx); n != 1 {
		t.Fatalf("new unstructured error: pushed=%d want=1", n)
	}
	if n, _ := s.Scan(ctx); n != 0 {
		t.Fatalf("repeat after new error: pushed=%d want=0", n)
	}
	if len(pusher.payloads) != 1 || pusher.payloads[0]["body"] != "Traceback: TimeoutError: order book stale" {
		t.Fatalf("payloads=%v", pusher.payloads)
	}
}
