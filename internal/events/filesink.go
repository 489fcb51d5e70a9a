package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink receives run events. Implementations must be safe for concurrent
// use: the supervisor emits from one goroutine per instance.
type Sink interface {
	Emit(event RunEvent) error
	Close() error
}

// NopSink discards every event. Used when event logging is disabled.
type NopSink struct{}

func (NopSink) Emit(RunEvent) error { return nil }
func (NopSink) Close() error        { return nil }

// FileSink writes RunEvents to a JSONL file.
// It is safe for concurrent use from multiple goroutines.
type FileSink struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

// DefaultFilename is the events filename used when no session is known.
const DefaultFilename = "events.jsonl"

// SessionFilename returns the events filename for one session, so that
// concurrent or repeated runs never interleave their logs.
func SessionFilename(sessionID string) string {
	if sessionID == "" {
		return DefaultFilename
	}
	return "events-" + sessionID + ".jsonl"
}

// NewFileSink creates a FileSink writing to dir/events.jsonl.
// If the file already exists, new events will be appended.
func NewFileSink(dir string) (*FileSink, error) {
	return openFileSink(filepath.Join(dir, DefaultFilename))
}

// NewSessionFileSink creates a FileSink writing to the per-session events
// file under dir.
func NewSessionFileSink(dir, sessionID string) (*FileSink, error) {
	return openFileSink(filepath.Join(dir, SessionFilename(sessionID)))
}

func openFileSink(path string) (*FileSink, error) {
	// Append mode; 0600 because tool names and failure details may carry
	// sensitive fragments.
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}

	return &FileSink{
		path:   path,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// LatestFile returns the most recently modified events file in dir,
// covering both per-session files and the plain events.jsonl.
func LatestFile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "events*.jsonl"))
	if err != nil {
		return "", fmt.Errorf("failed to scan events directory: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no events files in %s", dir)
	}

	latest := ""
	var latestMod int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().UnixNano() > latestMod {
			latest = m
			latestMod = info.ModTime().UnixNano()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no readable events files in %s", dir)
	}
	return latest, nil
}

// Emit writes a single event as one JSON line and flushes it.
func (s *FileSink) Emit(event RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush per event so a crashed run still leaves a usable log.
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush events: %w", err)
	}

	return nil
}

// Close flushes any remaining data and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	if err := s.writer.Flush(); err != nil {
		_ = s.file.Close()
		s.file = nil
		return fmt.Errorf("failed to flush before close: %w", err)
	}

	if err := s.file.Close(); err != nil {
		s.file = nil
		return fmt.Errorf("failed to close events file: %w", err)
	}

	s.file = nil
	return nil
}

// Path returns the path to the events file.
func (s *FileSink) Path() string {
	return s.path
}

// ReadEvents reads all events from a JSONL file.
// This is useful for testing and analysis.
func ReadEvents(path string) ([]RunEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var events []RunEvent
	scanner := bufio.NewScanner(file)

	// Set a larger buffer for potentially large JSON lines (1MB max)
	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event RunEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("failed to parse event on line %d: %w", lineNum, err)
		}
		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}

	return events, nil
}

// FilterByType filters events by event type.
func FilterByType(events []RunEvent, types ...EventType) []RunEvent {
	if len(types) == 0 {
		return events
	}

	typeSet := make(map[EventType]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	var filtered []RunEvent
	for _, event := range events {
		if typeSet[event.Type] {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

// FilterByAttempt filters events by attempt number.
// If attempt is 0 or negative, all events are returned.
func FilterByAttempt(events []RunEvent, attempt int) []RunEvent {
	if attempt <= 0 {
		return events
	}

	var filtered []RunEvent
	for _, event := range events {
		if event.Attempt == attempt {
			filtered = append(filtered, event)
		}
	}
	return filtered
}
