package observability

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// LogFormat selects the line encoding.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// StandardLogger writes structured lines to a Sink.
type StandardLogger struct {
	prefix string
	level  LogLevel
	format LogFormat
	sink   Sink
}

// WriterSink adapts any io.Writer-like destination; it appends a newline per
// line and is safe for concurrent use.
type WriterSink struct {
	mu  sync.Mutex
	dst *os.File
}

func (s *WriterSink) Write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.dst, line)
}

// CollectingSink retains lines in memory for tests.
type CollectingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *CollectingSink) Write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

// Lines returns a copy of everything written so far.
func (s *CollectingSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// NewStdoutSink creates a sink writing to stdout.
func NewStdoutSink() Sink {
	return &WriterSink{dst: os.Stdout}
}

// NewLogger creates a logger writing text lines to stdout.
func NewLogger(prefix string) Logger {
	return &StandardLogger{
		prefix: prefix,
		level:  LogLevelInfo,
		format: LogFormatText,
		sink:   &WriterSink{dst: os.Stdout},
	}
}

// ParseLevel maps a config string to a LogLevel, defaulting to info.
func ParseLevel(name string) LogLevel {
	switch name {
	case "debug", "DEBUG":
		return LogLevelDebug
	case "warn", "WARN":
		return LogLevelWarn
	case "error", "ERROR":
		return LogLevelError
	}
	return LogLevelInfo
}

// ParseFormat maps a config string to a LogFormat, defaulting to text.
func ParseFormat(name string) LogFormat {
	if name == string(LogFormatJSON) {
		return LogFormatJSON
	}
	return LogFormatText
}

// NewLoggerWithSink creates a logger with an explicit level, format, and sink.
func NewLoggerWithSink(prefix string, level LogLevel, format LogFormat, sink Sink) Logger {
	return &StandardLogger{
		prefix: prefix,
		level:  level,
		format: format,
		sink:   sink,
	}
}

var levelRank = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
}

func (l *StandardLogger) levelEnabled(level LogLevel) bool {
	return levelRank[level] >= levelRank[l.level]
}

// Debug logs a debug message.
func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelDebug) {
		l.log(LogLevelDebug, msg, fields)
	}
}

// Info logs an info message.
func (l *StandardLogger) Info(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelInfo) {
		l.log(LogLevelInfo, msg, fields)
	}
}

// Warn logs a warning message.
func (l *StandardLogger) Warn(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelWarn) {
		l.log(LogLevelWarn, msg, fields)
	}
}

// Error logs an error message.
func (l *StandardLogger) Error(msg string, fields map[string]interface{}) {
	l.log(LogLevelError, msg, fields)
}

// WithPrefix returns a new logger with the given prefix.
func (l *StandardLogger) WithPrefix(prefix string) Logger {
	return &StandardLogger{
		prefix: prefix,
		level:  l.level,
		format: l.format,
		sink:   l.sink,
	}
}

func (l *StandardLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	timestamp := time.Now().Format("2006-01-02T15:04:05.000Z07:00")

	if l.format == LogFormatJSON {
		record := map[string]interface{}{
			"time":    timestamp,
			"level":   string(level),
			"logger":  l.prefix,
			"message": msg,
		}
		for k, v := range fields {
			record[k] = v
		}
		data, err := json.Marshal(record)
		if err != nil {
			data, _ = json.Marshal(map[string]interface{}{
				"time":    timestamp,
				"level":   string(level),
				"logger":  l.prefix,
				"message": msg,
				"error":   fmt.Sprintf("unmarshalable fields: %v", err),
			})
		}
		l.sink.Write(string(data))
		return
	}

	l.sink.Write(fmt.Sprintf("%s [%s] [%s] %s%s", timestamp, level, l.prefix, msg, formatFields(fields)))
}

// formatFields renders fields as sorted key=value pairs so text output is
// stable across runs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := ""
	for _, k := range keys {
		result += fmt.Sprintf(" %s=%v", k, fields[k])
	}
	return result
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (l *NoopLogger) Debug(msg string, fields map[string]interface{}) {}
func (l *NoopLogger) Info(msg string, fields map[string]interface{})  {}
func (l *NoopLogger) Warn(msg string, fields map[string]interface{})  {}
func (l *NoopLogger) Error(msg string, fields map[string]interface{}) {}
func (l *NoopLogger) WithPrefix(prefix string) Logger                 { return l }

// NewNoopLogger creates a logger that does nothing.
func NewNoopLogger() Logger { return &NoopLogger{} }
