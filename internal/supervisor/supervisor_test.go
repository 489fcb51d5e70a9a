package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/netra-systems/zen-sub010/internal/budget"
	"github.com/netra-systems/zen-sub010/internal/events"
)

// memSink collects emitted events in memory for assertions.
type memSink struct {
	mu     sync.Mutex
	events []events.RunEvent
}

func (m *memSink) Emit(ev events.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memSink) Close() error { return nil }

func (m *memSink) byType(typ events.EventType) []events.RunEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.RunEvent
	for _, ev := range m.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// usageLine is a worker output line reporting 150 cumulative tokens for one
// message along with a Bash tool invocation.
const usageLine = `{"type":"assistant","message":{"id":"m1","usage":{"input_tokens":100,"output_tokens":50},"content":[{"type":"tool_use","name":"Bash"}]}}`

// resultLine closes a worker run with a reported cost.
const resultLine = `{"type":"result","total_cost_usd":0.05}`

func testLogger() (*log.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return log.New(&buf, "", 0), &buf
}

// scriptSupervisor builds a supervisor whose workers run the given shell
// script instead of the real worker binary.
func scriptSupervisor(cfg Config, ledger budget.Ledger, sink events.Sink, script string) (*Supervisor, *bytes.Buffer) {
	logger, buf := testLogger()
	s := New(cfg, ledger, logger, sink)
	s.runCommand = func(ctx context.Context, inst *Instance) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
	return s, buf
}

func TestLaunchAllCompletes(t *testing.T) {
	ledger := budget.NewTokenLedger(budget.ModeWarn, 0, nil)
	sink := &memSink{}
	script := fmt.Sprintf("echo '%s'; echo '%s'", usageLine, resultLine)

	s, _ := scriptSupervisor(Config{Silent: true, StartupDelay: time.Millisecond}, ledger, sink, script)
	s.SetSessionID("sess-test")
	s.Add(&Instance{Command: "review", Prompt: "review the diff"})
	s.Add(&Instance{Command: "triage", Prompt: "triage the issue"})

	summary, err := s.LaunchAll(context.Background())
	if err != nil {
		t.Fatalf("LaunchAll: %v", err)
	}

	if summary.Completed != 2 || summary.Failed != 0 {
		t.Fatalf("summary = %d completed, %d failed; want 2 and 0", summary.Completed, summary.Failed)
	}
	if summary.TotalTokens.Total != 300 {
		t.Errorf("TotalTokens.Total = %d, want 300", summary.TotalTokens.Total)
	}
	if summary.TotalToolCalls != 2 {
		t.Errorf("TotalToolCalls = %d, want 2", summary.TotalToolCalls)
	}
	if summary.TotalCostUSD != 0.10 {
		t.Errorf("TotalCostUSD = %v, want 0.10", summary.TotalCostUSD)
	}

	// Auto-assigned IDs and per-instance results.
	for i, res := range summary.Instances {
		wantID := fmt.Sprintf("instance-%d", i+1)
		if res.ID != wantID {
			t.Errorf("instance %d ID = %q, want %q", i, res.ID, wantID)
		}
		if res.Status != StatusCompleted {
			t.Errorf("instance %d status = %s (%s)", i, res.Status, res.Error)
		}
		if res.Tokens.Input != 100 || res.Tokens.Output != 50 {
			t.Errorf("instance %d tokens = %+v", i, res.Tokens)
		}
		if res.CostUSD != 0.05 {
			t.Errorf("instance %d cost = %v", i, res.CostUSD)
		}
	}

	// The shared ledger saw both instances' consumption under their own keys.
	if got := ledger.TotalUsed(); got != 300 {
		t.Errorf("ledger TotalUsed() = %v, want 300", got)
	}
	snap := ledger.Snapshot()
	if snap.Commands["review"].Used != 150 || snap.Commands["triage"].Used != 150 {
		t.Errorf("per-command usage = %+v", snap.Commands)
	}

	// Lifecycle and tool events were emitted with the session ID.
	launched := sink.byType(events.EventInstanceLaunched)
	completed := sink.byType(events.EventInstanceCompleted)
	tools := sink.byType(events.EventToolUse)
	if len(launched) != 2 || len(completed) != 2 || len(tools) != 2 {
		t.Errorf("events = %d launched, %d completed, %d tool_use; want 2 each",
			len(launched), len(completed), len(tools))
	}
	for _, ev := range launched {
		if ev.SessionID != "sess-test" {
			t.Errorf("event session = %q, want sess-test", ev.SessionID)
		}
	}
}

func TestLaunchAllEmpty(t *testing.T) {
	ledger := budget.NewTokenLedger(budget.ModeWarn, 0, nil)
	s, _ := scriptSupervisor(Config{Silent: true}, ledger, nil, "true")
	if _, err := s.LaunchAll(context.Background()); err == nil {
		t.Error("expected error with no instances")
	}
}

func TestAdmissionDeniedInBlockMode(t *testing.T) {
	ledger := budget.NewTokenLedger(budget.ModeBlock, 100, nil)
	sink := &memSink{}

	started := false
	logger, _ := testLogger()
	s := New(Config{Silent: true}, ledger, logger, sink)
	s.runCommand = func(ctx context.Context, inst *Instance) *exec.Cmd {
		started = true
		return exec.CommandContext(ctx, "true")
	}
	s.Add(&Instance{Command: "review", EstimatedCost: 500})

	summary, err := s.LaunchAll(context.Background())
	if err != nil {
		t.Fatalf("LaunchAll: %v", err)
	}
	if started {
		t.Error("denied instance must never start a subprocess")
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want one failure", summary)
	}

	_, _, _, _, _, _, instErr := s.instances[0].snapshot()
	if !errors.Is(instErr, ErrAdmissionDenied) {
		t.Errorf("instance error = %v, want ErrAdmissionDenied", instErr)
	}
	if len(sink.byType(events.EventInstanceFailed)) != 1 {
		t.Error("expected an instance_failed event for the denial")
	}
}

func TestAdmissionWarnsInWarnMode(t *testing.T) {
	// Same over-budget estimate, warn mode: the instance still runs.
	ledger := budget.NewTokenLedger(budget.ModeWarn, 100, nil)
	sink := &memSink{}
	s, _ := scriptSupervisor(Config{Silent: true}, ledger, sink, "echo done")
	s.Add(&Instance{Command: "review", EstimatedCost: 500})

	summary, err := s.LaunchAll(context.Background())
	if err != nil {
		t.Fatalf("LaunchAll: %v", err)
	}
	if summary.Completed != 1 {
		t.Fatalf("summary = %+v, want completion despite warning", summary)
	}
	if len(sink.byType(events.EventBudgetWarning)) != 1 {
		t.Error("expected a budget_warning event at launch")
	}
}

func TestRuntimeViolationTerminatesInBlockMode(t *testing.T) {
	// The command budget is 100 and the worker reports 150 tokens, then
	// lingers: block mode must kill it and classify the failure.
	ledger := budget.NewTokenLedger(budget.ModeBlock, 0, map[string]float64{"review": 100})
	sink := &memSink{}
	script := fmt.Sprintf("echo '%s'; sleep 0.3", usageLine)

	s, _ := scriptSupervisor(Config{Silent: true}, ledger, sink, script)
	s.Add(&Instance{Command: "review", EstimatedCost: 50})

	summary, err := s.LaunchAll(context.Background())
	if err != nil {
		t.Fatalf("LaunchAll: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want one failure", summary)
	}

	_, _, _, _, _, _, instErr := s.instances[0].snapshot()
	if !errors.Is(instErr, ErrRuntimeBudgetViolation) {
		t.Errorf("instance error = %v, want ErrRuntimeBudgetViolation", instErr)
	}
	if len(sink.byType(events.EventBudgetViolation)) != 1 {
		t.Error("expected a budget_violation event")
	}
}

func TestRuntimeOverageWarnsInWarnMode(t *testing.T) {
	ledger := budget.NewTokenLedger(budget.ModeWarn, 0, map[string]float64{"review": 100})
	sink := &memSink{}
	script := fmt.Sprintf("echo '%s'", usageLine)

	s, _ := scriptSupervisor(Config{Silent: true}, ledger, sink, script)
	s.Add(&Instance{Command: "review", EstimatedCost: 50})

	summary, err := s.LaunchAll(context.Background())
	if err != nil {
		t.Fatalf("LaunchAll: %v", err)
	}
	if summary.Completed != 1 {
		t.Fatalf("summary = %+v, want completion under warn mode", summary)
	}
	if len(sink.byType(events.EventBudgetWarning)) == 0 {
		t.Error("expected a budget_warning event for the overage")
	}
}

func TestInstanceTimeout(t *testing.T) {
	ledger := budget.NewTokenLedger(budget.ModeWarn, 0, nil)
	s, _ := scriptSupervisor(Config{
		Silent:          true,
		InstanceTimeout: 50 * time.Millisecond,
	}, ledger, nil, "sleep 1")
	s.Add(&Instance{Command: "review"})

	summary, err := s.LaunchAll(context.Background())
	if err != nil {
		t.Fatalf("LaunchAll: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want timeout failure", summary)
	}
	_, _, _, _, _, _, instErr := s.instances[0].snapshot()
	if !errors.Is(instErr, ErrTimeout) {
		t.Errorf("instance error = %v, want ErrTimeout", instErr)
	}
}

func TestSubprocessFailureKeepsStderrTail(t *testing.T) {
	ledger := budget.NewTokenLedger(budget.ModeWarn, 0, nil)
	s, _ := scriptSupervisor(Config{Silent: true}, ledger, nil,
		"echo 'authentication expired' >&2; exit 3")
	s.Add(&Instance{Command: "review"})

	summary, err := s.LaunchAll(context.Background())
	if err != nil {
		t.Fatalf("LaunchAll: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want one failure", summary)
	}

	_, _, _, _, _, _, instErr := s.instances[0].snapshot()
	if !errors.Is(instErr, ErrSubprocessFailure) {
		t.Errorf("instance error = %v, want ErrSubprocessFailure", instErr)
	}
	if !strings.Contains(instErr.Error(), "authentication expired") {
		t.Errorf("instance error = %v, want stderr tail included", instErr)
	}
}

func TestStaggeredStarts(t *testing.T) {
	ledger := budget.NewTokenLedger(budget.ModeWarn, 0, nil)
	logger, _ := testLogger()

	var mu sync.Mutex
	var launchTimes []time.Time
	s := New(Config{Silent: true, StartupDelay: 60 * time.Millisecond}, ledger, logger, nil)
	s.runCommand = func(ctx context.Context, inst *Instance) *exec.Cmd {
		mu.Lock()
		launchTimes = append(launchTimes, time.Now())
		mu.Unlock()
		return exec.CommandContext(ctx, "true")
	}
	s.Add(&Instance{Command: "a"})
	s.Add(&Instance{Command: "b"})
	s.Add(&Instance{Command: "c"})

	if _, err := s.LaunchAll(context.Background()); err != nil {
		t.Fatalf("LaunchAll: %v", err)
	}

	if len(launchTimes) != 3 {
		t.Fatalf("launched %d workers, want 3", len(launchTimes))
	}
	// Instance i waits i*delay: the last launch is at least two full delays
	// after the first (allowing scheduler slack on the lower bound only).
	var first, last time.Time
	for i, ts := range launchTimes {
		if i == 0 || ts.Before(first) {
			first = ts
		}
		if i == 0 || ts.After(last) {
			last = ts
		}
	}
	if spread := last.Sub(first); spread < 100*time.Millisecond {
		t.Errorf("launch spread = %v, want at least ~2x the 60ms stagger", spread)
	}
}

func TestLaunchAllCancelledBeforeStagger(t *testing.T) {
	ledger := budget.NewTokenLedger(budget.ModeWarn, 0, nil)
	s, _ := scriptSupervisor(Config{Silent: true, StartupDelay: time.Hour}, ledger, nil, "true")
	s.Add(&Instance{Command: "a"})
	s.Add(&Instance{Command: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := s.LaunchAll(ctx)
	if err != nil {
		t.Fatalf("LaunchAll: %v", err)
	}
	// The second instance never outwaits its hour-long stagger.
	if summary.Failed != 2 {
		t.Errorf("summary = %+v, want both failed on cancellation", summary)
	}
}

func TestReporterEmitsFinalReport(t *testing.T) {
	ledger := budget.NewTokenLedger(budget.ModeWarn, 0, nil)
	script := fmt.Sprintf("echo '%s'", usageLine)

	// Not silent: the reporter must run and deliver its final line before
	// LaunchAll returns even though the interval never elapses.
	s, buf := scriptSupervisor(Config{
		StatusInterval: time.Hour,
		StartupDelay:   time.Millisecond,
	}, ledger, nil, script)
	s.Add(&Instance{Command: "review"})

	if _, err := s.LaunchAll(context.Background()); err != nil {
		t.Fatalf("LaunchAll: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "[final] instances") {
		t.Errorf("log output missing final report:\n%s", out)
	}
	if !strings.Contains(out, "completed=1") {
		t.Errorf("final report does not reflect terminal state:\n%s", out)
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	if cfg.WorkerBinary != "claude" {
		t.Errorf("WorkerBinary = %q", cfg.WorkerBinary)
	}
	if len(cfg.BaseArgs) == 0 || cfg.BaseArgs[0] != "--print" {
		t.Errorf("BaseArgs = %v", cfg.BaseArgs)
	}
	if cfg.StartupDelay != time.Second || cfg.InstanceTimeout != 10*time.Minute {
		t.Errorf("durations = %v, %v", cfg.StartupDelay, cfg.InstanceTimeout)
	}
	if cfg.DefaultEstimate != 1000 {
		t.Errorf("DefaultEstimate = %v", cfg.DefaultEstimate)
	}
}

func TestWorkerCommand(t *testing.T) {
	ledger := budget.NewTokenLedger(budget.ModeWarn, 0, nil)
	logger, _ := testLogger()
	s := New(Config{Silent: true}, ledger, logger, nil)

	inst := &Instance{
		Command: "review",
		Args:    []string{"--model", "opus"},
		Prompt:  "review the diff",
		Env:     []string{"GITHUB_TOKEN=tok"},
	}
	cmd := s.workerCommand(context.Background(), inst)

	joined := strings.Join(cmd.Args, " ")
	if !strings.Contains(joined, "--output-format stream-json") {
		t.Errorf("args = %v, want base stream-json args", cmd.Args)
	}
	if !strings.HasSuffix(joined, "--model opus") {
		t.Errorf("args = %v, want instance args appended", cmd.Args)
	}
	if cmd.Stdin == nil {
		t.Error("prompt not wired to stdin")
	}
	found := false
	for _, kv := range cmd.Env {
		if kv == "GITHUB_TOKEN=tok" {
			found = true
		}
	}
	if !found {
		t.Error("instance env not merged into command env")
	}
}
