package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xaenox/midas/internal/agent"
	cronrunner "github.com/xaenox/midas/internal/cron"
	"github.com/xaenox/midas/internal/models"
	"github.com/xaenox/midas/internal/offline"
	"github.com/xaenox/midas/internal/storage"
	"github.com/xaenox/midas/pkg/config"
)

type stubAgent struct {
	logs string
}

func (a *stubAgent) GetLogs(context.Context, int) (string, error) { return a.logs, nil }
func (a *stubAgent) RunScript(context.Context, string, []string, time.Duration) (string, error) {
	return "", agent.ErrTimeout
}
func (a *stubAgent) GetState(context.Context) (agent.State, error) { return agent.State{}, nil }
func (a *stubAgent) Inspect(context.Context) (agent.Inspection, error) {
	return agent.Inspection{}, errors.New("no docker")
}
func (a *stubAgent) Start(context.Context) error                  { return nil }
func (a *stubAgent) Stop(context.Context) error                   { return nil }
func (a *stubAgent) Restart(context.Context) error                { return nil }
func (a *stubAgent) RunDetached(context.Context, agent.Job) error { return nil }
func (a *stubAgent) LatestReport(context.Context) (string, error) { return "{}", nil }
func (a *stubAgent) ContainerLogs(context.Context, string, int) (agent.ContainerLogs, error) {
	return agent.ContainerLogs{}, agent.ErrUnknownContainer
}

// blockedPrepareAgent never finishes a preparation run.
type blockedPrepareAgent struct {
	stubAgent
	release chan struct{}
}

func (a *blockedPrepareAgent) RunScript(context.Context, string, []string, time.Duration) (string, error) {
	<-a.release
	return "", nil
}

type downBackend struct{}

var errDown = errors.New("down")

func (downBackend) Portfolio(context.Context) (models.Portfolio, error) {
	return models.Portfolio{}, errDown
}
func (downBackend) Trades(context.Context) (json.RawMessage, error)       { return nil, errDown }
func (downBackend) TradeHistory(context.Context) (json.RawMessage, error) { return nil, errDown }
func (downBackend) PortfolioHistory(context.Context, string) (json.RawMessage, error) {
	return nil, errDown
}
func (downBackend) PositionHistory(context.Context, string) (json.RawMessage, error) {
	return nil, errDown
}
func (downBackend) Export(context.Context, string) ([]byte, error) { return nil, errDown }

type pageFetcher struct{ fail bool }

func (f *pageFetcher) Fetch(_ context.Context, req *offline.Request) (*offline.Response, error) {
	if f.fail {
		return nil, errors.New("upstream down")
	}
	return &offline.Response{Status: 200, Body: []byte("page " + req.URL)}, nil
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Server:    config.ServerConfig{HTTPAddr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		Agent:     config.AgentConfig{AnalysisTimeout: time.Second, ReportTimeout: time.Second},
		History:   config.HistoryConfig{Driver: "memory"},
		Settings:  config.SettingsConfig{Path: filepath.Join(dir, "settings.json")},
		RateLimit: config.RateLimitConfig{Window: time.Minute, Analysis: 20, Control: 2, Narrative: 10},
		Offline:   config.OfflineConfig{Enabled: true, CacheName: "midas-v1", Cache: "memory"},
		Narrative: config.NarrativeConfig{Provider: "agent"},
		Cron:      config.CronConfig{RateLimitGC: "@every 5m", AlertsScan: "@every 1m"},
		Prepare: config.PrepareConfig{
			ResultsPath:  filepath.Join(dir, "results.json"),
			ProgressPath: filepath.Join(dir, "progress.json"),
			Timeout:      time.Second,
		},
	}
}

func build(t *testing.T, cfg *config.Config, deps Deps) *Server {
	t.Helper()
	if deps.Agent == nil {
		deps.Agent = &stubAgent{}
	}
	if deps.Backend == nil {
		deps.Backend = downBackend{}
	}
	if deps.History == nil {
		deps.History = storage.NewMemoryHistory()
	}
	s, err := Build(cfg, nil, deps)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func get(s *Server, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestBuild_RoutesAndFallbacks(t *testing.T) {
	s := build(t, testConfig(t), Deps{UI: &pageFetcher{}})

	cases := []struct {
		target string
		want   string
	}{
		{"/healthz", `"status":"ok"`},
		{"/api/portfolio", `"error":"Backend unavailable"`},
		{"/api/bot", `"capital":1500`},
		{"/api/analysis?symbol=AAPL", `"fallback":true`},
		{"/api/prepare", `"status":"idle"`},
		{"/api/settings", `"paperMode":true`},
		{"/api/offline", `"state":"installing"`},
	}
	for _, tc := range cases {
		w := get(s, tc.target)
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), tc.want) {
			t.Fatalf("%s: status=%d body=%s want substring %s", tc.target, w.Code, w.Body, tc.want)
		}
	}
}

func TestBuild_ControlLimitFromConfig(t *testing.T) {
	s := build(t, testConfig(t), Deps{})
	for i := 0; i < 2; i++ {
		if w := get(s, "/api/bot"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status=%d", i+1, w.Code)
		}
	}
	if w := get(s, "/api/bot"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("3rd request: status=%d want=429", w.Code)
	}
}

func TestPruneLimiters(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := build(t, testConfig(t), Deps{Now: func() time.Time { return now }})

	get(s, "/api/bot")
	get(s, "/api/analysis?symbol=AAPL")
	if n := s.pruneLimiters(); n != 0 {
		t.Fatalf("pruned=%d inside window want=0", n)
	}
	now = now.Add(2 * time.Minute)
	if n := s.pruneLimiters(); n != 2 {
		t.Fatalf("pruned=%d after window want=2", n)
	}
}

func TestWarm_ProxiesThroughWorker(t *testing.T) {
	ui := &pageFetcher{}
	s := build(t, testConfig(t), Deps{UI: ui})
	s.Warm(context.Background())
	if got := s.worker.State(); got != offline.StateActive {
		t.Fatalf("state=%s want=active", got)
	}

	ui.fail = true
	w := get(s, "/portfolio")
	if w.Code != http.StatusOK || w.Body.String() != "page /portfolio" {
		t.Fatalf("cached page: status=%d body=%s", w.Code, w.Body)
	}
	if w := get(s, "/never-seen"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("uncached page: status=%d want=503", w.Code)
	}
}

func TestWarm_InstallFailureKeepsInstalling(t *testing.T) {
	s := build(t, testConfig(t), Deps{UI: &pageFetcher{fail: true}})
	s.Warm(context.Background())
	if got := s.worker.State(); got != offline.StateInstalling {
		t.Fatalf("state=%s want=installing", got)
	}
}

func TestBuild_NoUpstreamDisablesProxy(t *testing.T) {
	s := build(t, testConfig(t), Deps{})
	if s.proxy {
		t.Fatalf("proxy enabled without an upstream")
	}
	s.Warm(context.Background())
	if w := get(s, "/portfolio"); w.Code != http.StatusNotFound {
		t.Fatalf("status=%d want=404", w.Code)
	}
}

func TestBuild_UnknownNarrativeProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Narrative.Provider = "oracle"
	if _, err := Build(cfg, nil, Deps{Agent: &stubAgent{}, Backend: downBackend{}, History: storage.NewMemoryHistory()}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func newTestRunner() *cronrunner.Runner {
	return cronrunner.New(nil, context.Background())
}

func TestScheduleJobs(t *testing.T) {
	s := build(t, testConfig(t), Deps{})
	runner := newTestRunner()
	if err := s.scheduleJobs(runner); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if runner.Len() != 2 {
		t.Fatalf("jobs=%d want=2", runner.Len())
	}

	s.cfg.Cron.AlertsScan = "every tuesday"
	if err := s.scheduleJobs(newTestRunner()); err == nil {
		t.Fatalf("expected error for bad schedule")
	}
}

func TestClose_AbandonsInFlightPrepare(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.ShutdownTimeout = 50 * time.Millisecond
	ag := &blockedPrepareAgent{release: make(chan struct{})}
	defer close(ag.release)
	s := build(t, cfg, Deps{Agent: ag})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/prepare", strings.NewReader(`{}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("start=%d %s", w.Code, w.Body)
	}

	start := time.Now()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if d := time.Since(start); d < cfg.Server.ShutdownTimeout || d > 2*time.Second {
		t.Fatalf("Close took %s", d)
	}
	if body := get(s, "/api/prepare").Body.String(); !strings.Contains(body, `"status":"error"`) || !strings.Contains(body, "interrupted by shutdown") {
		t.Fatalf("results=%s", body)
	}
}
