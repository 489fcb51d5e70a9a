// Package budget tracks token consumption against configured limits and
// allocates a total budget across sequential checkpoint quarters.
//
// A single Ledger instance is shared by every instance goroutine in the
// supervisor; all mutating operations serialize on an internal mutex so
// concurrent Record calls never lose updates.
package budget

import (
	"fmt"
	"sync"
)

// EnforcementMode selects how budget violations are handled.
type EnforcementMode string

const (
	// ModeWarn logs violations and lets work continue.
	ModeWarn EnforcementMode = "warn"
	// ModeBlock denies admission and terminates violating instances.
	ModeBlock EnforcementMode = "block"
)

// ParseEnforcementMode validates a mode string, defaulting to warn when empty.
func ParseEnforcementMode(s string) (EnforcementMode, error) {
	switch EnforcementMode(s) {
	case ModeWarn, ModeBlock:
		return EnforcementMode(s), nil
	case "":
		return ModeWarn, nil
	default:
		return "", fmt.Errorf("invalid enforcement mode %q (must be warn or block)", s)
	}
}

// Ledger is the shared budget surface consumed by the supervisor and the
// adaptive controller. A missing limit means unlimited.
type Ledger interface {
	// Admit reports whether an additional estimatedCost for the given
	// command fits within the overall and per-command limits. The reason
	// is empty when allowed.
	Admit(command string, estimatedCost float64) (allowed bool, reason string)

	// Record adds a consumption delta for the given command. Deltas only
	// increase usage within an attempt.
	Record(command string, delta float64)

	// IsViolated reports whether current usage already exceeds a configured
	// limit for the command or overall.
	IsViolated(command string) (violated bool, reason string)

	// Mode returns the enforcement mode, immutable for the ledger's life.
	Mode() EnforcementMode

	// TotalUsed returns the overall usage recorded so far.
	TotalUsed() float64

	// Snapshot returns a point-in-time copy of all counters.
	Snapshot() Snapshot
}

// CommandUsage is the per-command slice of a Snapshot.
type CommandUsage struct {
	Limit float64 // 0 = unlimited
	Used  float64
}

// Snapshot is a consistent copy of the ledger's counters.
type Snapshot struct {
	OverallLimit float64 // 0 = unlimited
	OverallUsed  float64
	Commands     map[string]CommandUsage
}

// TokenLedger is the concrete Ledger tracking token units.
type TokenLedger struct {
	mu           sync.Mutex
	mode         EnforcementMode
	overallLimit float64
	overallUsed  float64
	commands     map[string]*commandBudget
}

type commandBudget struct {
	limit float64
	used  float64
}

// NewTokenLedger creates a ledger with the given mode, overall limit and
// per-command limits. Zero limits mean unlimited.
func NewTokenLedger(mode EnforcementMode, overallLimit float64, commandLimits map[string]float64) *TokenLedger {
	l := &TokenLedger{
		mode:         mode,
		overallLimit: overallLimit,
		commands:     make(map[string]*commandBudget, len(commandLimits)),
	}
	for cmd, limit := range commandLimits {
		l.commands[cmd] = &commandBudget{limit: limit}
	}
	return l
}

// Admit implements Ledger.
func (l *TokenLedger) Admit(command string, estimatedCost float64) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.overallLimit > 0 && l.overallUsed+estimatedCost > l.overallLimit {
		return false, fmt.Sprintf("overall budget: %.0f used + %.0f estimated exceeds limit %.0f",
			l.overallUsed, estimatedCost, l.overallLimit)
	}
	if cb, ok := l.commands[command]; ok && cb.limit > 0 && cb.used+estimatedCost > cb.limit {
		return false, fmt.Sprintf("command %q budget: %.0f used + %.0f estimated exceeds limit %.0f",
			command, cb.used, estimatedCost, cb.limit)
	}
	return true, ""
}

// Record implements Ledger. Commands without a configured limit are still
// tracked so the snapshot reflects all consumption.
func (l *TokenLedger) Record(command string, delta float64) {
	if delta <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.overallUsed += delta
	cb, ok := l.commands[command]
	if !ok {
		cb = &commandBudget{}
		l.commands[command] = cb
	}
	cb.used += delta
}

// IsViolated implements Ledger.
func (l *TokenLedger) IsViolated(command string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.overallLimit > 0 && l.overallUsed > l.overallLimit {
		return true, fmt.Sprintf("overall budget exceeded: %.0f used of %.0f limit",
			l.overallUsed, l.overallLimit)
	}
	if cb, ok := l.commands[command]; ok && cb.limit > 0 && cb.used > cb.limit {
		return true, fmt.Sprintf("command %q budget exceeded: %.0f used of %.0f limit",
			command, cb.used, cb.limit)
	}
	return false, ""
}

// Mode implements Ledger.
func (l *TokenLedger) Mode() EnforcementMode {
	return l.mode
}

// TotalUsed implements Ledger.
func (l *TokenLedger) TotalUsed() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.overallUsed
}

// Snapshot implements Ledger.
func (l *TokenLedger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{
		OverallLimit: l.overallLimit,
		OverallUsed:  l.overallUsed,
		Commands:     make(map[string]CommandUsage, len(l.commands)),
	}
	for cmd, cb := range l.commands {
		snap.Commands[cmd] = CommandUsage{Limit: cb.limit, Used: cb.used}
	}
	return snap
}

var _ Ledger = (*TokenLedger)(nil)
