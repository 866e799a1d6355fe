// Package logging provides the structured audit log for hookctl: a
// human-readable log and a lifecycle trace sink, both rotated by size.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents a log level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel parses a level name, defaulting to info.
func ParseLevel(s string) Level {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelRank[l]; ok {
		return l
	}
	return LevelInfo
}

// Format selects the line format of the human-readable log.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// DefaultMaxSize is the rotation threshold for both sinks.
const DefaultMaxSize int64 = 1 << 20

// Logger provides structured logging.
type Logger struct {
	mu      sync.Mutex
	level   Level
	format  Format
	output  io.Writer
	trace   io.Writer
	console io.Writer
	verbose bool
	fields  map[string]any
	now     func() time.Time
}

// LogEntry represents a structured log entry.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// TraceRecord is one line of the lifecycle trace sink.
type TraceRecord struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Context   any    `json:"context,omitempty"`
}

// Options configures a file-backed Logger.
type Options struct {
	Dir       string
	LogFile   string // default "hooks.log"
	TraceFile string // default "lifecycle-trace.jsonl"
	MaxSize   int64  // default DefaultMaxSize
	Level     Level
	Format    Format
	Console   io.Writer // echo of warnings and errors; everything when Verbose
	Verbose   bool
}

// NewLogger creates a new logger with the specified level writing JSON to stderr.
func NewLogger(level Level) *Logger {
	return &Logger{
		level:  level,
		format: FormatJSON,
		output: os.Stderr,
		trace:  io.Discard,
		fields: make(map[string]any),
		now:    time.Now,
	}
}

// Discard returns a logger that writes nowhere.
func Discard() *Logger {
	l := NewLogger(LevelError)
	l.output = io.Discard
	return l
}

// Open creates a logger backed by rotating files under opts.Dir.
func Open(opts Options) (*Logger, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("logging: directory is required")
	}
	if opts.LogFile == "" {
		opts.LogFile = "hooks.log"
	}
	if opts.TraceFile == "" {
		opts.TraceFile = "lifecycle-trace.jsonl"
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Level == "" {
		opts.Level = LevelInfo
	}
	if opts.Verbose {
		opts.Level = LevelDebug
	}
	if opts.Format == "" {
		opts.Format = FormatText
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}

	return &Logger{
		level:   opts.Level,
		format:  opts.Format,
		output:  NewRotatingFile(filepath.Join(opts.Dir, opts.LogFile), opts.MaxSize),
		trace:   NewRotatingFile(filepath.Join(opts.Dir, opts.TraceFile), opts.MaxSize),
		console: opts.Console,
		verbose: opts.Verbose,
		fields:  make(map[string]any),
		now:     time.Now,
	}, nil
}

// WithFields returns a new logger with additional fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	newFields := make(map[string]any)
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &Logger{
		level:   l.level,
		format:  l.format,
		output:  l.output,
		trace:   l.trace,
		console: l.console,
		verbose: l.verbose,
		fields:  newFields,
		now:     l.now,
	}
}

// Verbose returns true if verbose mode is enabled.
func (l *Logger) Verbose() bool {
	return l.verbose
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	_ = l.Append(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]any) {
	_ = l.Append(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	_ = l.Append(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]any) {
	_ = l.Append(LevelError, msg, fields...)
}

// ErrorErr logs an error message with an error value.
func (l *Logger) ErrorErr(msg string, err error, fields ...map[string]any) {
	combined := map[string]any{"error": err.Error()}
	for _, f := range fields {
		for k, v := range f {
			combined[k] = v
		}
	}
	_ = l.Append(LevelError, msg, combined)
}

// Append writes one entry to the log if level passes the threshold.
func (l *Logger) Append(level Level, msg string, fields ...map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelRank[level] < levelRank[l.level] {
		return nil
	}

	entry := LogEntry{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Fields:    make(map[string]any),
	}

	// Add base fields
	for k, v := range l.fields {
		entry.Fields[k] = v
	}

	// Add call-specific fields
	for _, f := range fields {
		for k, v := range f {
			entry.Fields[k] = v
		}
	}

	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}

	var line []byte
	if l.format == FormatJSON {
		data, err := json.Marshal(entry)
		if err != nil {
			data = []byte(`{"level":"error","message":"failed to marshal log entry"}`)
		}
		line = append(data, '\n')
	} else {
		line = []byte(formatText(entry))
	}

	if l.console != nil && (l.verbose || levelRank[level] >= levelRank[LevelWarn]) {
		fmt.Fprint(l.console, formatText(entry))
	}

	if _, err := l.output.Write(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// Trace writes {event, context} as one JSON line to the lifecycle trace sink.
func (l *Logger) Trace(event string, context any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := TraceRecord{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		Event:     event,
		Context:   context,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal trace record: %w", err)
	}
	if _, err := l.trace.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// SetTraceOutput sets the trace writer.
func (l *Logger) SetTraceOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trace = w
}

// SetLevel sets the log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func formatText(e LogEntry) string {
	var b strings.Builder
	b.WriteString(e.Timestamp)
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(string(e.Level)))
	b.WriteString("] ")
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	b.WriteByte('\n')
	return b.String()
}
