// Package offline is the server-side rendition of the dashboard's offline
// worker: it pre-caches the static shell, serves non-API requests
// network-first with a cache fallback, and turns push payloads into
// notifications.
//
// The worker moves through installing -> installed -> active and ends in
// superseded once a newer generation takes over. Exactly one cache
// generation survives activation.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	CacheName  = "midas-v1"
	APIMarker  = "/api/"
	SyncTrades = "sync-trades"

	DefaultTitle = "Midas Alert"
	DefaultBody  = "New trading signal"
	DefaultURL   = "/"
	Icon         = "/midas-logo.png"
)

var (
	StaticAssets = []string{
		"/",
		"/portfolio",
		"/control",
		"/analysis",
		"/manifest.json",
		"/midas-logo.png",
	}

	VibratePattern = []int{100, 50, 100}
)

var (
	ErrNoCachedResponse = errors.New("network failed and no cached response")
	ErrInvalidState     = errors.New("invalid worker state")
	ErrUnknownSyncTag   = errors.New("unknown sync tag")
	ErrBadPushPayload   = errors.New("push payload is not valid JSON")
)

type State int

const (
	StateInstalling State = iota
	StateInstalled
	StateActive
	StateSuperseded
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActive:
		return "active"
	case StateSuperseded:
		return "superseded"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Key identifies the request inside a cache generation.
func (r *Request) Key() string {
	return r.URL
}

func (r *Request) cacheable() bool {
	return r.Method == "" || r.Method == http.MethodGet
}

type Response struct {
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body"`
}

func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

func (r *Response) Clone() *Response {
	return &Response{
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   append([]byte(nil), r.Body...),
	}
}

type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// CacheStorage holds named cache generations.
type CacheStorage interface {
	Names(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, name string, entries map[string]*Response) error
	Match(ctx context.Context, name, key string) (*Response, bool, error)
}

type Clients interface {
	Claim(ctx context.Context) error
	OpenWindow(ctx context.Context, url string) error
}

type Notification struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Icon    string `json:"icon"`
	Badge   string `json:"badge"`
	Vibrate []int  `json:"vibrate"`
	Data    string `json:"data"`
}

type Displayer interface {
	Show(ctx context.Context, n Notification) error
	Close(ctx context.Context, n Notification) error
}

// SyncHandler runs when a background sync tag fires.
type SyncHandler interface {
	Sync(ctx context.Context) error
}

type SyncFunc func(ctx context.Context) error

func (f SyncFunc) Sync(ctx context.Context) error { return f(ctx) }

// NopSync is registered for sync-trades until offline trade replay exists.
var NopSync SyncHandler = SyncFunc(func(context.Context) error { return nil })

type Config struct {
	CacheName string
	Assets    []string
	Fetcher   Fetcher
	Caches    CacheStorage
	Clients   Clients
	Displayer Displayer
}

type Worker struct {
	name    string
	assets  []string
	fetcher Fetcher
	caches  CacheStorage
	clients Clients
	display Displayer
	logger  *zap.Logger

	mu    sync.RWMutex
	state State
	syncs map[string]SyncHandler
}

func New(cfg Config, logger *zap.Logger) *Worker {
	if cfg.CacheName == "" {
		cfg.CacheName = CacheName
	}
	if cfg.Assets == nil {
		cfg.Assets = StaticAssets
	}
	if cfg.Caches == nil {
		cfg.Caches = NewMemoryCache()
	}
	if cfg.Clients == nil {
		cfg.Clients = nopClients{}
	}
	if cfg.Displayer == nil {
		cfg.Displayer = nopDisplayer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		name:    cfg.CacheName,
		assets:  cfg.Assets,
		fetcher: cfg.Fetcher,
		caches:  cfg.Caches,
		clients: cfg.Clients,
		display: cfg.Displayer,
		logger:  logger,
		state:   StateInstalling,
		syncs:   map[string]SyncHandler{SyncTrades: NopSync},
	}
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) CacheName() string { return w.name }

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidState, from, to, w.state)
	}
	w.state = to
	return nil
}

// Install fetches every static asset and stores them in one batch. A single
// failed asset fails the whole install and nothing is written.
func (w *Worker) Install(ctx context.Context) error {
	if s := w.State(); s != StateInstalling {
		return fmt.Errorf("%w: install in state %s", ErrInvalidState, s)
	}
	entries := make(map[string]*Response, len(w.assets))
	for _, asset := range w.assets {
		req := &Request{Method: http.MethodGet, URL: asset}
		resp, err := w.fetcher.Fetch(ctx, req)
		if err != nil {
			return fmt.Errorf("install %s: %w", asset, err)
		}
		if !resp.OK() {
			return fmt.Errorf("install %s: status %d", asset, resp.Status)
		}
		entries[req.Key()] = resp.Clone()
	}
	if err := w.caches.PutAll(ctx, w.name, entries); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	w.logger.Info("offline worker installed",
		zap.String("cache", w.name),
		zap.Int("assets", len(entries)))
	return w.transition(StateInstalling, StateInstalled)
}

// staleGenerations lists every cache name other than current.
func staleGenerations(names []string, current string) []string {
	var stale []string
	for _, n := range names {
		if n != current {
			stale = append(stale, n)
		}
	}
	return stale
}

// Activate drops every other cache generation and claims open clients.
func (w *Worker) Activate(ctx context.Context) error {
	if s := w.State(); s != StateInstalled {
		return fmt.Errorf("%w: activate in state %s", ErrInvalidState, s)
	}
	names, err := w.caches.Names(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}
	for _, name := range staleGenerations(names, w.name) {
		if err := w.caches.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete cache %s: %w", name, err)
		}
		w.logger.Info("deleted stale cache", zap.String("cache", name))
	}
	if err := w.transition(StateInstalled, StateActive); err != nil {
		return err
	}
	if err := w.clients.Claim(ctx); err != nil {
		w.logger.Warn("claim clients failed", zap.Error(err))
	}
	return nil
}

// Supersede retires the worker; later fetches go straight to the network.
func (w *Worker) Supersede() {
	w.mu.Lock()
	w.state = StateSuperseded
	w.mu.Unlock()
}

// Intercepts reports whether a request for url goes through the cache.
func Intercepts(state State, url string) bool {
	return state == StateActive && !strings.Contains(url, APIMarker)
}

// Fetch serves req network-first. Successful responses refresh the cache;
// network errors fall back to the cached copy. API requests bypass the
// cache in both directions.
func (w *Worker) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if !Intercepts(w.State(), req.URL) {
		return w.fetcher.Fetch(ctx, req)
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err == nil {
		if resp.OK() && req.cacheable() {
			entry := map[string]*Response{req.Key(): resp.Clone()}
			if perr := w.caches.PutAll(ctx, w.name, entry); perr != nil {
				w.logger.Warn("cache put failed", zap.Error(perr), zap.String("url", req.URL))
			}
		}
		return resp, nil
	}

	cached, ok, merr := w.caches.Match(ctx, w.name, req.Key())
	if merr != nil {
		w.logger.Warn("cache match failed", zap.Error(merr), zap.String("url", req.URL))
	}
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNoCachedResponse, err)
	}
	return cached, nil
}

type pushData struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// BuildNotification turns an optional JSON push payload into the
// notification to display.
func BuildNotification(payload []byte) (Notification, error) {
	var d pushData
	if len(strings.TrimSpace(string(payload))) > 0 {
		if err := json.Unmarshal(payload, &d); err != nil {
			return Notification{}, fmt.Errorf("%w: %v", ErrBadPushPayload, err)
		}
	}
	n := Notification{
		Title:   d.Title,
		Body:    d.Body,
		Icon:    Icon,
		Badge:   Icon,
		Vibrate: append([]int(nil), VibratePattern...),
		Data:    d.URL,
	}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.Body == "" {
		n.Body = DefaultBody
	}
	if n.Data == "" {
		n.Data = DefaultURL
	}
	return n, nil
}

func (w *Worker) Push(ctx context.Context, payload []byte) (Notification, error) {
	n, err := BuildNotification(payload)
	if err != nil {
		return Notification{}, err
	}
	if err := w.display.Show(ctx, n); err != nil {
		return n, fmt.Errorf("show notification: %w", err)
	}
	return n, nil
}

// NotificationClick closes n and opens a window at its target URL.
func (w *Worker) NotificationClick(ctx context.Context, n Notification) error {
	if err := w.display.Close(ctx, n); err != nil {
		w.logger.Warn("close notification failed", zap.Error(err))
	}
	url := n.Data
	if url == "" {
		url = DefaultURL
	}
	return w.clients.OpenWindow(ctx, url)
}

func (w *Worker) RegisterSync(tag string, h SyncHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.syncs[tag] = h
}

func (w *Worker) Sync(ctx context.Context, tag string) error {
	w.mu.RLock()
	h, ok := w.syncs[tag]
	w.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSyncTag, tag)
	}
	return h.Sync(ctx)
}

type nopClients struct{}

func (nopClients) Claim(context.Context) error              { return nil }
func (nopClients) OpenWindow(context.Context, string) error { return nil }

type nopDisplayer struct{}

func (nopDisplayer) Show(context.Context, Notification) error  { return nil }
func (nopDisplayer) Close(context.Context, Notification) error { return nil }
