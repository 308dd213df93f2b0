// Package report carries per-resource failures and run summaries from
// the reconciliation core to whoever presents them.
package report

import (
	"log/slog"
	"sync"
)

// Severity ranks a report
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	default:
		return "error"
	}
}

// Sink receives reports. Implementations must be safe for concurrent use.
type Sink interface {
	Report(severity Severity, message string, cause error)
}

// Entry is one recorded report
type Entry struct {
	Severity Severity
	Message  string
	Cause    error
}

// Discard drops every report
var Discard Sink = discard{}

type discard struct{}

func (discard) Report(Severity, string, error) {}

// LogSink forwards reports to a slog logger
type LogSink struct {
	Logger *slog.Logger
}

// Report implements Sink
func (s LogSink) Report(severity Severity, message string, cause error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var args []any
	if cause != nil {
		args = append(args, "error", cause)
	}
	switch severity {
	case SeverityInfo:
		logger.Info(message, args...)
	case SeverityWarning:
		logger.Warn(message, args...)
	default:
		logger.Error(message, args...)
	}
}

// Collector keeps every report in memory
type Collector struct {
	mu      sync.Mutex
	entries []Entry
}

// Report implements Sink
func (c *Collector) Report(severity Severity, message string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, Entry{Severity: severity, Message: message, Cause: cause})
}

// Entries returns a copy of the recorded reports
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Count returns how many reports have at least the given severity
func (c *Collector) Count(min Severity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.Severity >= min {
			n++
		}
	}
	return n
}

// Multi fans reports out to several sinks
type Multi []Sink

// Report implements Sink
func (m Multi) Report(severity Severity, message string, cause error) {
	for _, s := range m {
		if s != nil {
			s.Report(severity, message, cause)
		}
	}
}

// OrDiscard returns s, or Discard when s is nil
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}
