package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/andywolf/agentgate/internal/security"
)

// DefaultFilename is the default filename for the audit trail.
const DefaultFilename = "audit.jsonl"

// FileSink appends events to a JSONL file. It is safe for concurrent use
// from multiple goroutines. Every event passes through the log sanitizer
// before it is serialized.
type FileSink struct {
	path      string
	file      *os.File
	writer    *bufio.Writer
	sanitizer *security.LogSanitizer
	mu        sync.Mutex
}

// NewFileSink creates a sink writing to dir/audit.jsonl, appending when
// the file already exists. The trail can carry command text, so the file
// is created 0600.
func NewFileSink(dir string) (*FileSink, error) {
	path := filepath.Join(dir, DefaultFilename)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	return &FileSink{
		path:      path,
		file:      file,
		writer:    bufio.NewWriter(file),
		sanitizer: security.NewLogSanitizer(),
	}, nil
}

// Record sanitizes and appends one event, flushing before returning so the
// trail survives a crash immediately after the decision it records.
func (s *FileSink) Record(event Event) error {
	event.Detail = s.sanitizer.Sanitize(event.Detail)
	if event.Metadata != nil {
		event.Metadata = s.sanitizer.SanitizeMap(event.Metadata)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit event: %w", err)
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
		return fmt.Errorf("failed to close audit file: %w", err)
	}
	s.file = nil
	return nil
}

// Path returns the path to the audit file.
func (s *FileSink) Path() string {
	return s.path
}

// ReadEvents reads all events from a JSONL audit file. Useful for tests
// and offline analysis.
func ReadEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var events []Event
	scanner := bufio.NewScanner(file)

	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("failed to parse audit event on line %d: %w", lineNum, err)
		}
		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit file: %w", err)
	}
	return events, nil
}

// FilterByCategory filters events by category.
func FilterByCategory(events []Event, categories ...Category) []Event {
	if len(categories) == 0 {
		return events
	}

	set := make(map[Category]bool)
	for _, c := range categories {
		set[c] = true
	}

	var filtered []Event
	for _, event := range events {
		if set[event.Category] {
			filtered = append(filtered, event)
		}
	}
	return filtered
}
