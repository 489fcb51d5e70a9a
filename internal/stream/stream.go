// Package stream parses the NDJSON stream-json output of Claude Code style
// workers into the usage/tool events the supervisor consumes. The supervisor
// depends only on Event and Merger; the line heuristics live entirely here.
package stream

import (
	"bytes"
	"encoding/json"
)

// Usage holds token counters from a single event. Counters are cumulative
// per message when a message ID is present, otherwise they are deltas.
type Usage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheReadTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
}

// Total returns the sum of all counters.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheCreationTokens
}

// Event is one parsed usage/tool event from a worker output line.
type Event struct {
	// MessageID deduplicates repeated deltas for the same logical message.
	// When set, Usage is a cumulative total for that message.
	MessageID string

	// Usage is nil for pure tool events.
	Usage *Usage

	// ToolNames lists the tools invoked in this event, one entry per
	// tool_use block.
	ToolNames []string

	// CostUSD is the reported cost, present on result events only.
	CostUSD float64

	// IsResult marks the final result event of a worker run.
	IsResult bool
}

// rawLine is the top-level NDJSON line structure.
type rawLine struct {
	Type         string          `json:"type"`
	Message      json.RawMessage `json:"message,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	TotalCostUSD float64         `json:"total_cost_usd,omitempty"`
}

// rawMessage holds the message body with ID, usage and content blocks.
type rawMessage struct {
	ID      string            `json:"id"`
	Usage   *Usage            `json:"usage,omitempty"`
	Content []rawContentBlock `json:"content"`
}

type rawContentBlock struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// ParseLine parses one output line. It returns (nil, false) for empty,
// malformed, or irrelevant lines; malformed lines are expected (workers
// interleave free text with stream-json) and never an error.
func ParseLine(line []byte) (*Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil, false
	}

	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, false
	}

	switch raw.Type {
	case "assistant", "user":
		var msg rawMessage
		if err := json.Unmarshal(raw.Message, &msg); err != nil {
			return nil, false
		}
		ev := &Event{MessageID: msg.ID, Usage: msg.Usage}
		for _, block := range msg.Content {
			if block.Type == "tool_use" && block.Name != "" {
				ev.ToolNames = append(ev.ToolNames, block.Name)
			}
		}
		if ev.Usage == nil && len(ev.ToolNames) == 0 {
			return nil, false
		}
		return ev, true

	case "result":
		ev := &Event{Usage: raw.Usage, CostUSD: raw.TotalCostUSD, IsResult: true}
		if ev.Usage == nil && ev.CostUSD == 0 {
			return nil, false
		}
		return ev, true

	default:
		return nil, false
	}
}

// Merger folds a stream of events into monotonic usage totals.
//
// The merge rule is deterministic: when an event carries a message ID its
// usage is a cumulative total for that message and is merged with take-max
// semantics against the previous counters for the same ID; when the ID is
// absent the numbers are treated as an incremental delta. The rule is
// applied uniformly on every path.
//
// A Merger is owned by a single instance goroutine and is not safe for
// concurrent use; cross-instance aggregation happens in the budget ledger.
type Merger struct {
	byMessage map[string]Usage
	totals    Usage
	toolCalls int
}

// NewMerger creates an empty Merger.
func NewMerger() *Merger {
	return &Merger{byMessage: make(map[string]Usage)}
}

// Apply folds one event in and returns the usage delta it contributed.
func (m *Merger) Apply(ev *Event) Usage {
	m.toolCalls += len(ev.ToolNames)

	if ev.Usage == nil {
		return Usage{}
	}

	var delta Usage
	if ev.MessageID == "" {
		delta = *ev.Usage
	} else {
		prev := m.byMessage[ev.MessageID]
		delta = Usage{
			InputTokens:         maxDelta(prev.InputTokens, ev.Usage.InputTokens),
			OutputTokens:        maxDelta(prev.OutputTokens, ev.Usage.OutputTokens),
			CacheReadTokens:     maxDelta(prev.CacheReadTokens, ev.Usage.CacheReadTokens),
			CacheCreationTokens: maxDelta(prev.CacheCreationTokens, ev.Usage.CacheCreationTokens),
		}
		m.byMessage[ev.MessageID] = Usage{
			InputTokens:         maxInt64(prev.InputTokens, ev.Usage.InputTokens),
			OutputTokens:        maxInt64(prev.OutputTokens, ev.Usage.OutputTokens),
			CacheReadTokens:     maxInt64(prev.CacheReadTokens, ev.Usage.CacheReadTokens),
			CacheCreationTokens: maxInt64(prev.CacheCreationTokens, ev.Usage.CacheCreationTokens),
		}
	}

	m.totals.InputTokens += delta.InputTokens
	m.totals.OutputTokens += delta.OutputTokens
	m.totals.CacheReadTokens += delta.CacheReadTokens
	m.totals.CacheCreationTokens += delta.CacheCreationTokens
	return delta
}

// Totals returns the accumulated usage.
func (m *Merger) Totals() Usage {
	return m.totals
}

// ToolCalls returns the number of tool invocations seen.
func (m *Merger) ToolCalls() int {
	return m.toolCalls
}

// maxDelta returns the positive growth from prev to next, 0 when next has
// not advanced (a repeated cumulative report).
func maxDelta(prev, next int64) int64 {
	if next > prev {
		return next - prev
	}
	return 0
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
