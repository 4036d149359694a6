// Package agent controls the external trading agent and reads its output.
// DockerRuntime drives it through the docker CLI.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrTimeout          = errors.New("agent: command timed out")
	ErrUnknownScript    = errors.New("agent: script not allowed")
	ErrInvalidArgument  = errors.New("agent: invalid script argument")
	ErrUnknownContainer = errors.New("agent: container not allowed")
)

// Runtime is what the log pipeline and the analysis endpoints need.
type Runtime interface {
	GetLogs(ctx context.Context, limit int) (string, error)
	RunScript(ctx context.Context, name string, args []string, timeout time.Duration) (string, error)
	GetState(ctx context.Context) (State, error)
}

// Job is a background task launched inside the agent.
type Job string

const (
	JobScan     Job = "scan"
	JobFeedback Job = "feedback"
)

// Agent adds lifecycle control to Runtime.
type Agent interface {
	Runtime
	Inspect(ctx context.Context) (Inspection, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	RunDetached(ctx context.Context, job Job) error
	LatestReport(ctx context.Context) (string, error)
	ContainerLogs(ctx context.Context, container string, lines int) (ContainerLogs, error)
}

// State is the agent's own bookkeeping file. Unknown fields are ignored.
type State struct {
	CurrentCapital float64           `json:"current_capital"`
	InitialCapital float64           `json:"initial_capital"`
	OpenPositions  []json.RawMessage `json:"open_positions"`
}

// DefaultCapital is reported when the agent state does not say otherwise.
const DefaultCapital = 1500

// Capital returns current capital, falling back to the initial capital and
// then DefaultCapital.
func (s State) Capital() float64 {
	switch {
	case s.CurrentCapital != 0:
		return s.CurrentCapital
	case s.InitialCapital != 0:
		return s.InitialCapital
	}
	return DefaultCapital
}

// Inspection is the container state as seen by the runtime.
type Inspection struct {
	Running   bool
	StartedAt time.Time
	Status    string
}

// Uptime is zero when the container is not running.
func (i Inspection) Uptime(now time.Time) time.Duration {
	if !i.Running || i.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(i.StartedAt)
}

// ContainerLogs is the raw tail of one container.
type ContainerLogs struct {
	Container string
	Status    string
	Logs      string
}
