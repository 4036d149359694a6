package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/xaenox/midas/internal/models"
)

// DefaultLimit is used when a caller does not ask for a specific amount.
const DefaultLimit = 100

// MaxLimit bounds how much agent output one request can pull.
const MaxLimit = 1000

// LogSource yields the most recent raw output of the agent.
type LogSource interface {
	GetLogs(ctx context.Context, limit int) (string, error)
}

// Pipeline reads raw agent output and returns classified entries.
type Pipeline struct {
	Source     LogSource
	Classifier Classifier
}

// Recent fetches 2*limit raw lines, classifies them, keeps the entries of
// topic (all topics when topic is empty) and returns at most limit of them,
// most recent first.
func (p *Pipeline) Recent(ctx context.Context, limit int, topic models.LogTopic) ([]models.LogEntry, error) {
	limit = ClampLimit(limit)
	raw, err := p.Source.GetLogs(ctx, limit*2)
	if err != nil {
		return nil, fmt.Errorf("fetch agent logs: %w", err)
	}
	return Latest(ClassifyText(p.Classifier, raw), limit, topic), nil
}

// ClampLimit maps non-positive limits to DefaultLimit and caps at MaxLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// ClassifyText classifies every non-empty line of text in order, dropping
// noise. The returned slice is chronological.
func ClassifyText(c Classifier, text string) []models.LogEntry {
	lines := strings.Split(text, "\n")
	out := make([]models.LogEntry, 0, len(lines))
	position := 0
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if e := c.Classify(line, position); e != nil {
			out = append(out, *e)
		}
		position++
	}
	return out
}

// Latest filters chronological entries by topic and returns the last limit
// of them in reverse order.
func Latest(entries []models.LogEntry, limit int, topic models.LogTopic) []models.LogEntry {
	filtered := entries
	if topic != "" {
		filtered = make([]models.LogEntry, 0, len(entries))
		for _, e := range entries {
			if e.Type == topic {
				filtered = append(filtered, e)
			}
		}
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	out := make([]models.LogEntry, len(filtered))
	for i, e := range filtered {
		out[len(filtered)-1-i] = e
	}
	return out
}
