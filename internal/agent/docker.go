package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/symbol"
)

// Scripts the dashboard may run inside the agent container.
const (
	ScriptDetailedAnalyze   = "detailed_analyze.py"
	ScriptGenerateNarrative = "generate_narrative.py"
	ScriptReportGenerator   = "report_generator.py"
	ScriptPrepareTrades     = "prepare_trades.py"
)

var defaultScripts = []string{
	ScriptDetailedAnalyze,
	ScriptGenerateNarrative,
	ScriptReportGenerator,
	ScriptPrepareTrades,
}

var scriptArg = regexp.MustCompile(`^[A-Za-z0-9._=-]{1,64}$`)

// symbolScripts take a canonical ticker as their first argument.
var symbolScripts = map[string]bool{
	ScriptDetailedAnalyze:   true,
	ScriptGenerateNarrative: true,
}

var detachedJobs = map[Job]string{
	JobScan: `cd /app && python -c "import asyncio; from src.agents.orchestrator import MarketAgent; ` +
		`agent = MarketAgent(); asyncio.run(agent.run_discovery_phase())" > /app/logs/scan.log 2>&1`,
	JobFeedback: `cd /app && python -c "import asyncio; from src.learning.feedback_loop import get_feedback_loop; ` +
		`from src.learning.market_learner import get_market_learner; fl = get_feedback_loop(); ml = get_market_learner(); ` +
		`results = asyncio.run(fl.run_daily_feedback()); ml.learn_from_feedback(results); print(ml.get_learning_summary())" ` +
		`> /app/logs/feedback.log 2>&1`,
}

const latestReportCmd = `ls -t /app/data/reports/*.json 2>/dev/null | head -1 | xargs cat 2>/dev/null || echo {}`

type DockerConfig struct {
	Binary            string
	Container         string
	ScriptDir         string
	StatePath         string
	Python            string
	CommandTimeout    time.Duration
	AllowedContainers []string
}

// DockerRuntime drives the agent container through the docker CLI. Every
// call runs under a timeout; expiry is reported as ErrTimeout.
type DockerRuntime struct {
	cfg     DockerConfig
	scripts map[string]bool
	logger  *zap.Logger
}

func NewDockerRuntime(cfg DockerConfig, logger *zap.Logger) *DockerRuntime {
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	if cfg.Container == "" {
		cfg.Container = "tradingbot-agent"
	}
	if cfg.ScriptDir == "" {
		cfg.ScriptDir = "/app"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "/app/data/agent_state.json"
	}
	if cfg.Python == "" {
		cfg.Python = "python"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	scripts := make(map[string]bool, len(defaultScripts))
	for _, s := range defaultScripts {
		scripts[s] = true
	}
	return &DockerRuntime{cfg: cfg, scripts: scripts, logger: logger}
}

func (d *DockerRuntime) run(ctx context.Context, timeout time.Duration, merge bool, args ...string) (string, error) {
	if timeout <= 0 {
		timeout = d.cfg.CommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.cfg.Binary, args...)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if merge {
		cmd.Stderr = &stdout
	}

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			d.logger.Warn("docker command timed out",
				zap.String("command", args[0]),
				zap.Duration("timeout", timeout))
			return "", fmt.Errorf("docker %s: %w", args[0], ErrTimeout)
		}
		out := strings.TrimSpace(stderr.String())
		if merge {
			out = strings.TrimSpace(stdout.String())
		}
		if len(out) > 200 {
			out = out[:200]
		}
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, out)
	}
	d.logger.Debug("docker command finished",
		zap.String("command", args[0]),
		zap.Duration("elapsed", time.Since(start)))
	return stdout.String(), nil
}

func (d *DockerRuntime) GetLogs(ctx context.Context, limit int) (string, error) {
	return d.run(ctx, d.cfg.CommandTimeout, true, "logs", d.cfg.Container, "--tail", strconv.Itoa(limit))
}

// RunScript runs one of the allowed agent scripts and returns its stdout.
// Arguments are passed as argv, never through a shell, and must still be
// plain tokens.
func (d *DockerRuntime) RunScript(ctx context.Context, name string, args []string, timeout time.Duration) (string, error) {
	if !d.scripts[name] {
		return "", fmt.Errorf("%w: %s", ErrUnknownScript, name)
	}
	if symbolScripts[name] && (len(args) == 0 || !symbol.Valid(args[0])) {
		return "", fmt.Errorf("%w: %s needs a ticker, got %q", ErrInvalidArgument, name, args)
	}
	for _, a := range args {
		if !scriptArg.MatchString(a) {
			return "", fmt.Errorf("%w: %q", ErrInvalidArgument, a)
		}
	}
	argv := append([]string{"exec", d.cfg.Container, d.cfg.Python, d.cfg.ScriptDir + "/" + name}, args...)
	return d.run(ctx, timeout, false, argv...)
}

// GetState reads the agent's state file. A file that does not parse is
// treated as an empty state.
func (d *DockerRuntime) GetState(ctx context.Context) (State, error) {
	out, err := d.run(ctx, d.cfg.CommandTimeout, false, "exec", d.cfg.Container, "cat", d.cfg.StatePath)
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &st); err != nil {
		d.logger.Warn("agent state unreadable", zap.Error(err))
		return State{}, nil
	}
	return st, nil
}

func (d *DockerRuntime) Inspect(ctx context.Context) (Inspection, error) {
	out, err := d.run(ctx, d.cfg.CommandTimeout, false,
		"inspect", "-f", "{{.State.Running}}|{{.State.StartedAt}}|{{.State.Status}}", d.cfg.Container)
	if err != nil {
		return Inspection{}, err
	}
	return parseInspection(out), nil
}

func parseInspection(out string) Inspection {
	parts := strings.SplitN(strings.TrimSpace(out), "|", 3)
	var ins Inspection
	ins.Running = parts[0] == "true"
	if len(parts) > 1 {
		if t, err := time.Parse(time.RFC3339Nano, parts[1]); err == nil {
			ins.StartedAt = t
		}
	}
	if len(parts) > 2 {
		ins.Status = parts[2]
	}
	return ins
}

func (d *DockerRuntime) Start(ctx context.Context) error {
	_, err := d.run(ctx, time.Minute, true, "start", d.cfg.Container)
	return err
}

func (d *DockerRuntime) Stop(ctx context.Context) error {
	_, err := d.run(ctx, time.Minute, true, "stop", d.cfg.Container)
	return err
}

func (d *DockerRuntime) Restart(ctx context.Context) error {
	_, err := d.run(ctx, time.Minute, true, "restart", d.cfg.Container)
	return err
}

// RunDetached launches job in the background inside the container and
// returns once docker has accepted it.
func (d *DockerRuntime) RunDetached(ctx context.Context, job Job) error {
	script, ok := detachedJobs[job]
	if !ok {
		return fmt.Errorf("agent: unknown job %q", job)
	}
	_, err := d.run(ctx, d.cfg.CommandTimeout, true, "exec", "-d", d.cfg.Container, "bash", "-c", script)
	return err
}

func (d *DockerRuntime) LatestReport(ctx context.Context) (string, error) {
	return d.run(ctx, d.cfg.CommandTimeout, false, "exec", d.cfg.Container, "bash", "-c", latestReportCmd)
}

func (d *DockerRuntime) allowedContainer(name string) bool {
	if name == d.cfg.Container {
		return true
	}
	for _, c := range d.cfg.AllowedContainers {
		if c == name {
			return true
		}
	}
	return false
}

// ContainerLogs tails any allowed container, not only the agent.
func (d *DockerRuntime) ContainerLogs(ctx context.Context, container string, lines int) (ContainerLogs, error) {
	if !d.allowedContainer(container) {
		return ContainerLogs{}, fmt.Errorf("%w: %s", ErrUnknownContainer, container)
	}
	res := ContainerLogs{Container: container, Status: "not found"}
	status, err := d.run(ctx, d.cfg.CommandTimeout, false, "inspect", "-f",
		"{{.State.Status}}{{if .State.Health}} ({{.State.Health.Status}}){{end}}", container)
	if err == nil {
		res.Status = strings.TrimSpace(status)
	}
	logs, err := d.run(ctx, d.cfg.CommandTimeout, true, "logs", container, "--tail", strconv.Itoa(lines))
	if err != nil {
		return res, err
	}
	res.Logs = logs
	if res.Logs == "" {
		res.Logs = "No logs available"
	}
	return res, nil
}
