// Package observability provides the logging and metrics capabilities used
// across the framework. Loggers write structured lines to a pluggable sink,
// and metrics are backed by Prometheus.
package observability

// LogLevel represents logging severity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// Logger is the logging interface used by every component.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	WithPrefix(prefix string) Logger
}

// Sink receives fully formatted log lines. Tests inject a collecting sink;
// production writes to stdout.
type Sink interface {
	Write(line string)
}

// MetricsClient records framework metrics.
type MetricsClient interface {
	IncrementCounter(name string, value float64)
	IncrementCounterWithLabels(name string, value float64, labels map[string]string)
	RecordDuration(name string, seconds float64)
	SetGauge(name string, value float64)
}
