// Package classifier turns raw agent output into structured log entries.
//
// Lines in the agent's structured format
//
//	HH:MM:SS | LEVEL | MODULE | MESSAGE
//
// are split into their fields; anything else is classified from the whole
// line. Level and topic are decided by ordered rule tables where the first
// matching rule wins.
package classifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xaenox/midas/internal/models"
)

// MinLineLength is the shortest line considered to carry information.
const MinLineLength = 10

// SuccessGlyph marks successful operations in agent output.
const SuccessGlyph = "✅"

type Classifier interface {
	Classify(line string, position int) *models.LogEntry
}

var structuredLine = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2})\s*\|\s*(\w+)\s*\|\s*([^|]+)\s*\|\s*(.+)$`)

// fields is what the rules look at. For unstructured lines only line is set.
type fields struct {
	level   string // lowercased LEVEL token
	module  string // lowercased MODULE
	message string // MESSAGE as written
	msg     string // lowercased MESSAGE
	line    string // lowercased raw line
}

// levelRule maps a predicate over a line's fields to a level.
type levelRule struct {
	Name  string
	Match func(f fields) bool
	Level models.LogLevel
}

// topicRule maps a predicate over a line's fields to a topic.
type topicRule struct {
	Name  string
	Match func(f fields) bool
	Topic models.LogTopic
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

var structuredLevels = []levelRule{
	{"level-error", func(f fields) bool { return strings.Contains(f.level, "error") }, models.LevelError},
	{"level-warn", func(f fields) bool { return strings.Contains(f.level, "warn") }, models.LevelWarning},
	{"message-success", func(f fields) bool {
		return strings.Contains(f.message, SuccessGlyph) || strings.Contains(f.msg, "success")
	}, models.LevelSuccess},
}

var structuredTopics = []topicRule{
	{"analysis", func(f fields) bool {
		return containsAny(f.module, "reasoning", "pillar") || containsAny(f.msg, "score", "analysis")
	}, models.TopicAnalysis},
	{"trade", func(f fields) bool {
		return containsAny(f.msg, "buy", "sell", "trade", "order")
	}, models.TopicTrade},
	{"signal", func(f fields) bool {
		return containsAny(f.msg, "signal", "alert", "sentiment") || strings.Contains(f.module, "grok")
	}, models.TopicSignal},
}

var fallbackLevels = []levelRule{
	{"line-error", func(f fields) bool { return strings.Contains(f.line, "error") }, models.LevelError},
	{"line-warn", func(f fields) bool { return strings.Contains(f.line, "warn") }, models.LevelWarning},
	{"line-success", func(f fields) bool { return strings.Contains(f.line, SuccessGlyph) }, models.LevelSuccess},
}

var fallbackTopics = []topicRule{
	{"signal", func(f fields) bool {
		return containsAny(f.line, "grok", "sentiment", "bullish", "bearish")
	}, models.TopicSignal},
	{"analysis", func(f fields) bool {
		return containsAny(f.line, "score", "analysis", "pillar")
	}, models.TopicAnalysis},
	{"trade", func(f fields) bool {
		return containsAny(f.line, "trade", "buy", "sell")
	}, models.TopicTrade},
}

func levelOf(rules []levelRule, f fields) models.LogLevel {
	for _, r := range rules {
		if r.Match(f) {
			return r.Level
		}
	}
	return models.LevelInfo
}

func topicOf(rules []topicRule, f fields) models.LogTopic {
	for _, r := range rules {
		if r.Match(f) {
			return r.Topic
		}
	}
	return models.TopicSystem
}

// RuleClassifier is the table driven Classifier. The zero value is not
// usable; build it with New or NewWithClock.
type RuleClassifier struct {
	now func() time.Time
}

func New() *RuleClassifier {
	return NewWithClock(time.Now)
}

func NewWithClock(now func() time.Time) *RuleClassifier {
	return &RuleClassifier{now: now}
}

// Classify returns nil for blank lines and lines shorter than
// MinLineLength. position is the index of the line within its batch and
// keeps ids unique when many lines are classified in the same millisecond.
func (c *RuleClassifier) Classify(line string, position int) *models.LogEntry {
	if strings.TrimSpace(line) == "" || utf8.RuneCountInString(line) < MinLineLength {
		return nil
	}
	now := c.now()
	entry := &models.LogEntry{
		ID:        fmt.Sprintf("log-%d-%d", now.UnixMilli(), position),
		Timestamp: now,
		Level:     models.LevelInfo,
		Type:      models.TopicSystem,
		Message:   strings.TrimSpace(line),
	}

	if m := structuredLine.FindStringSubmatch(line); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		s, _ := strconv.Atoi(m[3])
		// Agent lines carry a time of day only; they are assumed to be from today.
		entry.Timestamp = time.Date(now.Year(), now.Month(), now.Day(), h, mi, s, 0, now.Location())
		entry.Structured = true

		msg := strings.TrimSpace(m[6])
		f := fields{
			level:   strings.ToLower(m[4]),
			module:  strings.ToLower(strings.TrimSpace(m[5])),
			message: msg,
			msg:     strings.ToLower(msg),
		}
		entry.Message = msg
		entry.Level = levelOf(structuredLevels, f)
		entry.Type = topicOf(structuredTopics, f)
		return entry
	}

	f := fields{line: strings.ToLower(line)}
	entry.Level = levelOf(fallbackLevels, f)
	entry.Type = topicOf(fallbackTopics, f)
	return entry
}
