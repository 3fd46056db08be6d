package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

// Level represents a logging severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = [...]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

var levelAliases = map[string]Level{
	"":        Info,
	"debug":   Debug,
	"info":    Info,
	"warn":    Warn,
	"warning": Warn,
	"error":   Error,
}

func (l Level) String() string {
	if l < Debug || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel accepts level names case-insensitively; empty means Info.
func ParseLevel(s string) (Level, error) {
	if lvl, ok := levelAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return Info, fmt.Errorf("unsupported log level %q", s)
}

// Format selects the line encoding.
type Format int

const (
	Text Format = iota
	JSON
)

var formatNames = map[Format]string{Text: "text", JSON: "json"}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

// ParseFormat accepts "text" or "json"; empty means Text.
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return Text, nil
	}
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	return Text, fmt.Errorf("unsupported log format %q", s)
}

// Field is one key/value pair attached to an entry.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Logger is the leveled structured logger used across the emulator.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Subsystem tags every entry of the returned logger with subsystem=name.
func Subsystem(l Logger, name string) Logger {
	if l == nil {
		l = Default()
	}
	return l.With(F("subsystem", name))
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = New(Info, Text, io.Discard)
)

// Default returns the process-wide logger. It discards output until
// SetDefault installs a real one.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger; nil is ignored.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// sink is shared by a logger and everything derived from it with With.
type sink struct {
	level  Level
	format Format
	out    *log.Logger
}

type fieldLogger struct {
	sink   *sink
	fields []Field
}

// New returns a Logger writing entries at or above level to out.
func New(level Level, format Format, out io.Writer) Logger {
	return &fieldLogger{sink: &sink{
		level:  level,
		format: format,
		out:    log.New(out, "", log.LstdFlags|log.Lmicroseconds),
	}}
}

// NewFromStrings is New with level and format given by name, as they come
// from flags and environment variables.
func NewFromStrings(level, format string, out io.Writer) (Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return New(lvl, f, out), nil
}

func (l *fieldLogger) With(fields ...Field) Logger {
	return &fieldLogger{sink: l.sink, fields: joinFields(l.fields, fields)}
}

func (l *fieldLogger) Debug(msg string, fields ...Field) { l.emit(Debug, msg, fields) }
func (l *fieldLogger) Info(msg string, fields ...Field)  { l.emit(Info, msg, fields) }
func (l *fieldLogger) Warn(msg string, fields ...Field)  { l.emit(Warn, msg, fields) }
func (l *fieldLogger) Error(msg string, fields ...Field) { l.emit(Error, msg, fields) }

func (l *fieldLogger) emit(level Level, msg string, fields []Field) {
	if level < l.sink.level {
		return
	}
	all := joinFields(l.fields, fields)
	if l.sink.format == JSON {
		l.sink.out.Print(encodeJSON(level, msg, all))
		return
	}
	l.sink.out.Print(encodeText(level, msg, all))
}

func joinFields(a, b []Field) []Field {
	out := make([]Field, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// plainValue renders errors as their message; everything else passes
// through unchanged.
func plainValue(v any) any {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return v
}

func encodeText(level Level, msg string, fields []Field) string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(msg)
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		v := plainValue(f.Value)
		if s, ok := v.(string); ok && strings.ContainsAny(s, " \t\"=") {
			fmt.Fprintf(&b, " %s=%q", f.Key, s)
			continue
		}
		fmt.Fprintf(&b, " %s=%v", f.Key, v)
	}
	return b.String()
}

func encodeJSON(level Level, msg string, fields []Field) string {
	entry := make(map[string]any, len(fields)+3)
	for _, f := range fields {
		if f.Key != "" {
			entry[f.Key] = plainValue(f.Value)
		}
	}
	entry["time"] = time.Now().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"level":"ERROR","msg":"marshal log entry failed","err":%q}`, err.Error())
	}
	return string(data)
}
