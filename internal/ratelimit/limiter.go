// Package ratelimit implements the fixed-window, per-client admission gate
// shared by the expensive endpoints.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Policy is the admission budget of one endpoint category.
type Policy struct {
	Max    int
	Window time.Duration
}

var (
	// AnalysisPolicy guards analysis triggers.
	AnalysisPolicy = Policy{Max: 20, Window: time.Minute}
	// ControlPolicy guards bot control actions.
	ControlPolicy = Policy{Max: 30, Window: time.Minute}
	// NarrativePolicy guards narrative generation, the most expensive call.
	NarrativePolicy = Policy{Max: 10, Window: time.Minute}
)

// Record is the per-client counter for the current window.
type Record struct {
	Count     int
	ResetTime time.Time
}

// Limiter is safe for concurrent use.
type Limiter struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	records map[string]*Record
}

func New(policy Policy) *Limiter {
	return NewWithClock(policy, time.Now)
}

func NewWithClock(policy Policy, now func() time.Time) *Limiter {
	return &Limiter{
		policy:  policy,
		now:     now,
		records: make(map[string]*Record),
	}
}

func (l *Limiter) Policy() Policy {
	return l.policy
}

// Admit reports whether one more request from clientKey fits in its window.
// A rejected request does not count against the window.
func (l *Limiter) Admit(clientKey string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[clientKey]
	if !ok || now.After(rec.ResetTime) {
		l.records[clientKey] = &Record{Count: 1, ResetTime: now.Add(l.policy.Window)}
		return true
	}
	if rec.Count >= l.policy.Max {
		return false
	}
	rec.Count++
	return true
}

// Lookup returns a copy of the record held for clientKey.
func (l *Limiter) Lookup(clientKey string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[clientKey]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// RetryAfter is how long clientKey has to wait for its window to reset.
// It is zero when the client has no live record.
func (l *Limiter) RetryAfter(clientKey string) time.Duration {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[clientKey]
	if !ok || now.After(rec.ResetTime) {
		return 0
	}
	return rec.ResetTime.Sub(now)
}

// Prune drops records whose window has ended and returns how many were
// removed. Without it the map grows with every distinct client.
func (l *Limiter) Prune() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, rec := range l.records {
		if now.After(rec.ResetTime) {
			delete(l.records, key)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// ClientKey returns the client address of r: the first X-Forwarded-For hop,
// then X-Real-IP, then the connection's remote host.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	return host
}
