// Package prepare launches the agent's trade preparation run in the
// background and exposes its status through two JSON files that the UI
// polls.
package prepare

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/agent"
)

const (
	DefaultMinScore = 60
	RunTimeout      = 30 * time.Minute
)

type Options struct {
	MaxStocks *int     `json:"maxStocks"`
	MaxPrice  *float64 `json:"maxPrice"`
	MinScore  *float64 `json:"minScore"`
}

func (o Options) normalized() Options {
	out := o
	if out.MaxStocks != nil && *out.MaxStocks <= 0 {
		out.MaxStocks = nil
	}
	if out.MaxPrice != nil && *out.MaxPrice <= 0 {
		out.MaxPrice = nil
	}
	if out.MinScore == nil || *out.MinScore <= 0 {
		v := float64(DefaultMinScore)
		out.MinScore = &v
	}
	return out
}

func (o Options) args() []string {
	var args []string
	if o.MaxStocks != nil {
		args = append(args, "--max-stocks", strconv.Itoa(*o.MaxStocks))
	}
	if o.MaxPrice != nil {
		args = append(args, "--max-price", strconv.FormatFloat(*o.MaxPrice, 'f', -1, 64))
	}
	if o.MinScore != nil {
		args = append(args, "--min-score", strconv.FormatFloat(*o.MinScore, 'f', -1, 64))
	}
	return args
}

type Status struct {
	RunID      string            `json:"runId,omitempty"`
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp,omitempty"`
	Candidates []json.RawMessage `json:"candidates"`
	Config     *Options          `json:"config,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type Runner struct {
	runtime      agent.Runtime
	resultsPath  string
	progressPath string
	timeout      time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu sync.Mutex
	// latest is the run whose status the results file shows. Only that run
	// may write its outcome.
	latest  string
	running bool
	wg      sync.WaitGroup
}

func NewRunner(rt agent.Runtime, resultsPath, progressPath string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		runtime:      rt,
		resultsPath:  resultsPath,
		progressPath: progressPath,
		timeout:      RunTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

func (r *Runner) WithTimeout(d time.Duration) *Runner {
	r.timeout = d
	return r
}

// Start records a running status and launches the preparation script. The
// script keeps running after ctx is done; Wait blocks until it finishes.
func (r *Runner) Start(ctx context.Context, opts Options) (Status, error) {
	opts = opts.normalized()
	st := Status{
		RunID:      uuid.New().String(),
		Status:     "running",
		Timestamp:  r.now().UTC().Format(time.RFC3339),
		Candidates: []json.RawMessage{},
		Config:     &opts,
	}
	if err := r.claim(st); err != nil {
		return Status{}, err
	}

	runCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(runCtx, st.RunID, opts)
	}()
	return st, nil
}

func (r *Runner) run(ctx context.Context, runID string, opts Options) {
	out, err := r.runtime.RunScript(ctx, agent.ScriptPrepareTrades, opts.args(), r.timeout)
	if err != nil {
		r.logger.Error("prepare run failed", zap.Error(err), zap.String("run_id", runID))
		if werr := r.finish(runID, r.errorStatus(runID, err.Error())); werr != nil {
			r.logger.Error("write prepare status", zap.Error(werr))
		}
		return
	}
	out = strings.TrimSpace(out)
	r.logger.Info("prepare run finished", zap.String("run_id", runID))
	var result []byte
	if out != "" {
		result = []byte(out)
	}
	if err := r.finish(runID, result); err != nil {
		r.logger.Error("write prepare results", zap.Error(err))
	}
}

func (r *Runner) Wait() { r.wg.Wait() }

// WaitTimeout is Wait bounded by d. It reports whether every run finished.
func (r *Runner) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Abandon marks the current run as failed when it is still running, so the
// results file does not read "running" after the process is gone. A result
// that arrives later still replaces it.
func (r *Runner) Abandon(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	if err := r.writeLocked(r.errorStatus(r.latest, reason)); err != nil {
		r.logger.Error("write prepare status", zap.Error(err))
	}
}

func (r *Runner) errorStatus(runID, msg string) []byte {
	if len(msg) > 200 {
		msg = msg[:200]
	}
	b, _ := json.Marshal(Status{
		RunID:     runID,
		Status:    "error",
		Error:     msg,
		Timestamp: r.now().UTC().Format(time.RFC3339),
	})
	return b
}

// claim writes st and makes its run the current one.
func (r *Runner) claim(st Status) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writeLocked(b); err != nil {
		return err
	}
	r.latest = st.RunID
	r.running = true
	return nil
}

// finish writes the outcome of runID unless a newer run has been started
// since. A nil b leaves the file to the script.
func (r *Runner) finish(runID string, b []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if runID != r.latest {
		r.logger.Info("prepare result superseded", zap.String("run_id", runID), zap.String("latest", r.latest))
		return nil
	}
	r.running = false
	if b == nil {
		return nil
	}
	return r.writeLocked(b)
}

func (r *Runner) writeLocked(b []byte) error {
	if err := os.MkdirAll(filepath.Dir(r.resultsPath), 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	if err := os.WriteFile(r.resultsPath, b, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

var (
	idleResults   = json.RawMessage(`{"status":"idle","candidates":[]}`)
	emptyProgress = json.RawMessage(`{"current":0,"total":0,"percent":0}`)
)

// Results returns the results document, or an idle status when there is no
// readable one.
func (r *Runner) Results() json.RawMessage {
	return r.read(r.resultsPath, idleResults)
}

// Progress returns the script's progress document, or zero progress.
func (r *Runner) Progress() json.RawMessage {
	return r.read(r.progressPath, emptyProgress)
}

func (r *Runner) read(path string, fallback json.RawMessage) json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := os.ReadFile(path)
	if err != nil || !json.Valid(b) {
		return fallback
	}
	return json.RawMessage(b)
}
