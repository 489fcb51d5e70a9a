package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/netra-systems/zen-sub010/internal/budget"
	"github.com/netra-systems/zen-sub010/internal/events"
	"github.com/netra-systems/zen-sub010/internal/stream"
)

// Stream lines can carry whole file contents inside tool_use blocks.
const maxLineSize = 10 * 1024 * 1024

// Config controls worker launch and supervision.
type Config struct {
	// WorkerBinary is the external worker executable (e.g. "claude").
	WorkerBinary string

	// BaseArgs are passed to every worker before instance args.
	BaseArgs []string

	// StartupDelay staggers instance launches: instance i waits
	// i*StartupDelay before starting.
	StartupDelay time.Duration

	// InstanceTimeout bounds each instance's whole run.
	InstanceTimeout time.Duration

	// StatusInterval is the reporter period.
	StatusInterval time.Duration

	// Silent disables the periodic reporter.
	Silent bool

	// DefaultEstimate is the admission estimate for instances that do not
	// set one.
	DefaultEstimate float64
}

func (c *Config) applyDefaults() {
	if c.WorkerBinary == "" {
		c.WorkerBinary = "claude"
	}
	if len(c.BaseArgs) == 0 {
		c.BaseArgs = []string{"--print", "--verbose", "--output-format", "stream-json"}
	}
	if c.StartupDelay == 0 {
		c.StartupDelay = time.Second
	}
	if c.InstanceTimeout == 0 {
		c.InstanceTimeout = 10 * time.Minute
	}
	if c.StatusInterval == 0 {
		c.StatusInterval = 30 * time.Second
	}
	if c.DefaultEstimate == 0 {
		c.DefaultEstimate = 1000
	}
}

// Supervisor owns a batch of instances and the shared ledger they record
// into. Instances are added before LaunchAll; the slice is not mutated
// afterwards, only the instances' own guarded fields are.
type Supervisor struct {
	cfg       Config
	ledger    budget.Ledger
	logger    *log.Logger
	sink      events.Sink
	sessionID string

	instances []*Instance

	// runCommand builds the worker command; tests swap it for a stub.
	runCommand func(ctx context.Context, inst *Instance) *exec.Cmd
}

// New creates a supervisor over the shared ledger. sink may be nil.
func New(cfg Config, ledger budget.Ledger, logger *log.Logger, sink events.Sink) *Supervisor {
	cfg.applyDefaults()
	if sink == nil {
		sink = events.NopSink{}
	}
	s := &Supervisor{cfg: cfg, ledger: ledger, logger: logger, sink: sink}
	s.runCommand = s.workerCommand
	return s
}

// SetSessionID tags emitted events with the run's session ID.
func (s *Supervisor) SetSessionID(id string) {
	s.sessionID = id
}

// emit records one run event; sink failures are logged, never fatal.
func (s *Supervisor) emit(inst *Instance, typ events.EventType, summary string, tokens int64, detail string) {
	ev := events.RunEvent{
		Type:    typ,
		Summary: summary,
		Tokens:  tokens,
		Detail:  detail,
	}
	if inst != nil {
		ev.Instance = inst.Name
	}
	s.send(ev)
}

// send stamps and delivers an event to the sink.
func (s *Supervisor) send(ev events.RunEvent) {
	ev.Timestamp = time.Now()
	ev.SessionID = s.sessionID
	if err := s.sink.Emit(ev); err != nil {
		s.logger.Printf("event sink error: %v", err)
	}
}

// Add registers an instance for the next LaunchAll.
func (s *Supervisor) Add(inst *Instance) {
	if inst.ID == "" {
		inst.ID = fmt.Sprintf("instance-%d", len(s.instances)+1)
	}
	if inst.Name == "" {
		inst.Name = inst.ID
	}
	s.instances = append(s.instances, inst)
}

// Instances returns the registered instances.
func (s *Supervisor) Instances() []*Instance {
	return s.instances
}

// LaunchAll runs every registered instance concurrently with staggered
// starts, supervises them to completion, and returns the aggregate summary.
//
// The periodic reporter runs independently and is explicitly cancelled and
// awaited after the last instance resolves; it performs one final report
// before LaunchAll returns. A final cleanup pass kills any instance still
// marked running so no subprocess survives the supervisor.
func (s *Supervisor) LaunchAll(ctx context.Context) (*Summary, error) {
	if len(s.instances) == 0 {
		return nil, fmt.Errorf("no instances to launch")
	}

	var reporterDone chan struct{}
	var cancelReporter context.CancelFunc
	if !s.cfg.Silent {
		var reporterCtx context.Context
		reporterCtx, cancelReporter = context.WithCancel(context.Background())
		reporterDone = make(chan struct{})
		rep := &reporter{
			ledger:    s.ledger,
			instances: s.instances,
			logger:    s.logger,
			interval:  s.cfg.StatusInterval,
		}
		go func() {
			defer close(reporterDone)
			rep.run(reporterCtx)
		}()
	}

	var wg sync.WaitGroup
	for i, inst := range s.instances {
		wg.Add(1)
		go func(index int, inst *Instance) {
			defer wg.Done()
			if !sleepCtx(ctx, time.Duration(index)*s.cfg.StartupDelay) {
				inst.markFailed(ctx.Err(), stream.Usage{}, 0, 0)
				return
			}
			s.runInstance(ctx, inst)
		}(i, inst)
	}
	wg.Wait()

	// The reporter is cancelled only after all instances resolve, and the
	// wait is unconditional: returning with it live would leak the goroutine
	// and skip the final report.
	if cancelReporter != nil {
		cancelReporter()
		<-reporterDone
	}

	s.cleanupSurvivors()

	return s.summarize(), nil
}

// runInstance supervises one worker from admission to terminal status.
func (s *Supervisor) runInstance(ctx context.Context, inst *Instance) {
	estimate := inst.EstimatedCost
	if estimate <= 0 {
		estimate = s.cfg.DefaultEstimate
	}

	allowed, reason := s.ledger.Admit(inst.Command, estimate)
	if !allowed {
		if s.ledger.Mode() == budget.ModeBlock {
			s.logger.Printf("[%s] launch denied: %s", inst.Name, reason)
			inst.markFailed(fmt.Errorf("%w: %s", ErrAdmissionDenied, reason), stream.Usage{}, 0, 0)
			s.emit(inst, events.EventInstanceFailed, "launch denied by budget", 0, reason)
			return
		}
		s.logger.Printf("[%s] budget warning at launch: %s", inst.Name, reason)
		s.emit(inst, events.EventBudgetWarning, "budget warning at launch", 0, reason)
	}

	ictx, cancel := context.WithTimeout(ctx, s.cfg.InstanceTimeout)
	defer cancel()

	cmd := s.runCommand(ictx, inst)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		inst.markFailed(fmt.Errorf("stdout pipe: %w", err), stream.Usage{}, 0, 0)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		inst.markFailed(fmt.Errorf("stderr pipe: %w", err), stream.Usage{}, 0, 0)
		return
	}

	if err := cmd.Start(); err != nil {
		inst.markFailed(fmt.Errorf("%w: %v", ErrSubprocessFailure, err), stream.Usage{}, 0, 0)
		return
	}
	inst.markRunning(cmd.Process.Pid)
	s.logger.Printf("[%s] launched pid %d", inst.Name, cmd.Process.Pid)
	s.emit(inst, events.EventInstanceLaunched, fmt.Sprintf("pid %d", cmd.Process.Pid), 0, "")

	// Read stdout and stderr concurrently so a full pipe buffer on one
	// stream cannot block the worker while the other is being read.
	merger := stream.NewMerger()
	var costUSD float64
	var violated bool
	var violationReason string
	var stderrTail string

	var rwg sync.WaitGroup
	rwg.Add(2)
	go func() {
		defer rwg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			ev, ok := stream.ParseLine(scanner.Bytes())
			if !ok {
				continue
			}
			delta := merger.Apply(ev)
			if ev.IsResult && ev.CostUSD > 0 {
				costUSD = ev.CostUSD
			}
			for _, tool := range ev.ToolNames {
				s.send(events.RunEvent{
					Instance: inst.Name,
					Type:     events.EventToolUse,
					Summary:  tool,
					ToolName: tool,
				})
			}
			inst.updateProgress(merger.Totals(), merger.ToolCalls())

			if delta.Total() == 0 {
				continue
			}
			s.ledger.Record(inst.Command, float64(delta.Total()))

			over, why := s.ledger.IsViolated(inst.Command)
			if !over {
				continue
			}
			if s.ledger.Mode() == budget.ModeBlock {
				violated = true
				violationReason = why
				s.logger.Printf("[%s] budget exceeded, terminating: %s", inst.Name, why)
				s.emit(inst, events.EventBudgetViolation, "budget exceeded, terminating", merger.Totals().Total(), why)
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
				return
			}
			s.logger.Printf("[%s] budget warning: %s", inst.Name, why)
			s.emit(inst, events.EventBudgetWarning, "budget warning", merger.Totals().Total(), why)
		}
	}()
	go func() {
		defer rwg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) != "" {
				stderrTail = line
			}
		}
	}()
	rwg.Wait()

	waitErr := cmd.Wait()

	usage := merger.Totals()
	toolCalls := merger.ToolCalls()

	switch {
	case violated:
		inst.markFailed(fmt.Errorf("%w: %s", ErrRuntimeBudgetViolation, violationReason), usage, toolCalls, costUSD)
		s.emit(inst, events.EventInstanceFailed, "terminated for budget violation", usage.Total(), violationReason)
	case ictx.Err() == context.DeadlineExceeded:
		inst.markFailed(fmt.Errorf("%w after %s", ErrTimeout, s.cfg.InstanceTimeout), usage, toolCalls, costUSD)
		s.emit(inst, events.EventInstanceFailed, "timed out", usage.Total(), s.cfg.InstanceTimeout.String())
	case waitErr != nil:
		msg := waitErr.Error()
		if stderrTail != "" {
			msg = fmt.Sprintf("%s: %s", msg, stderrTail)
		}
		inst.markFailed(fmt.Errorf("%w: %s", ErrSubprocessFailure, msg), usage, toolCalls, costUSD)
		s.emit(inst, events.EventInstanceFailed, "worker exited with failure", usage.Total(), msg)
	default:
		inst.markCompleted(usage, toolCalls, costUSD)
		s.logger.Printf("[%s] completed: %d tokens, %d tool calls", inst.Name, usage.Total(), toolCalls)
		s.emit(inst, events.EventInstanceCompleted, "completed", usage.Total(), "")
	}
}

// workerCommand builds the production worker invocation.
func (s *Supervisor) workerCommand(ctx context.Context, inst *Instance) *exec.Cmd {
	args := append(append([]string(nil), s.cfg.BaseArgs...), inst.Args...)
	cmd := exec.CommandContext(ctx, s.cfg.WorkerBinary, args...)
	if len(inst.Env) > 0 {
		cmd.Env = append(cmd.Environ(), inst.Env...)
	}
	if inst.Prompt != "" {
		cmd.Stdin = strings.NewReader(inst.Prompt)
	}
	return cmd
}

// cleanupSurvivors kills any instance still marked running with a live pid.
// Reaching here with survivors means an instance goroutine exited without a
// terminal status, so the kill is a backstop, not the normal path.
func (s *Supervisor) cleanupSurvivors() {
	for _, inst := range s.instances {
		pid := inst.runningPid()
		if pid == 0 {
			continue
		}
		s.logger.Printf("[%s] still running after supervision ended, killing pid %d", inst.Name, pid)
		if proc, err := findProcess(pid); err == nil {
			_ = proc.Kill()
		}
		inst.markFailed(fmt.Errorf("%w: killed in cleanup", ErrSubprocessFailure), stream.Usage{}, 0, 0)
	}
}

// findProcess resolves a pid for the cleanup kill.
func findProcess(pid int) (*os.Process, error) {
	return os.FindProcess(pid)
}

// sleepCtx sleeps for d or until ctx is done; it reports whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
