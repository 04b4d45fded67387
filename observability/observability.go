package observability

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field interface {
	Key() string
	Value() interface{}
}

type stringField struct{ key, val string }

func (f stringField) Key() string        { return f.key }
func (f stringField) Value() interface{} { return f.val }

type intField struct {
	key string
	val int
}

func (f intField) Key() string        { return f.key }
func (f intField) Value() interface{} { return f.val }

type int64Field struct {
	key string
	val int64
}

func (f int64Field) Key() string        { return f.key }
func (f int64Field) Value() interface{} { return f.val }

type float64Field struct {
	key string
	val float64
}

func (f float64Field) Key() string        { return f.key }
func (f float64Field) Value() interface{} { return f.val }

type durationField struct {
	key string
	val time.Duration
}

func (f durationField) Key() string        { return f.key }
func (f durationField) Value() interface{} { return f.val }

type errorField struct {
	key string
	err error
}

func (f errorField) Key() string        { return f.key }
func (f errorField) Value() interface{} { return f.err }

func String(key, value string) Field                 { return stringField{key, value} }
func Int(key string, value int) Field                { return intField{key, value} }
func Int64(key string, value int64) Field            { return int64Field{key, value} }
func Float64(key string, value float64) Field        { return float64Field{key, value} }
func Duration(key string, value time.Duration) Field { return durationField{key, value} }
func Error(key string, err error) Field              { return errorField{key, err} }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

// stdLogger renders fields as key=value pairs through a standard library
// logger. Debug lines are dropped unless the logger was built verbose.
type stdLogger struct {
	log     *log.Logger
	fields  []Field
	verbose bool
}

// NewStdLogger wraps l for command-line use. A nil l logs to stderr.
func NewStdLogger(l *log.Logger, verbose bool) Logger {
	if l == nil {
		l = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &stdLogger{log: l, verbose: verbose}
}

func (s *stdLogger) Debug(msg string, fields ...Field) {
	if s.verbose {
		s.emit("DEBUG", msg, fields)
	}
}
func (s *stdLogger) Info(msg string, fields ...Field)  { s.emit("INFO", msg, fields) }
func (s *stdLogger) Warn(msg string, fields ...Field)  { s.emit("WARN", msg, fields) }
func (s *stdLogger) Error(msg string, fields ...Field) { s.emit("ERROR", msg, fields) }

func (s *stdLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(s.fields)+len(fields))
	merged = append(merged, s.fields...)
	merged = append(merged, fields...)
	return &stdLogger{log: s.log, fields: merged, verbose: s.verbose}
}

func (s *stdLogger) emit(level, msg string, fields []Field) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for _, f := range s.fields {
		fmt.Fprintf(&b, " %s=%v", f.Key(), f.Value())
	}
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key(), f.Value())
	}
	s.log.Print(b.String())
}

// Tracer provides distributed tracing hooks for library operations.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span represents a tracing span.
type Span interface {
	SetTag(key string, value interface{})
	SetError(err error)
	Finish()
}

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

// NopTracer returns a tracer that does nothing.
func NopTracer() Tracer { return nopTracer{} }

type nopSpan struct{}

func (nopSpan) SetTag(string, interface{}) {}
func (nopSpan) SetError(error)             {}
func (nopSpan) Finish()                    {}

// Standard metric names emitted by the library.
const (
	MetricScanTime    = "label.scan.duration"
	MetricDetectTime  = "label.detect.duration"
	MetricFusedTokens = "label.fusion.tokens"
	MetricBatchSize   = "label.batch.size"
	MetricBatchTime   = "label.batch.duration"
	MetricStoreTime   = "label.store.duration"
	MetricImageBytes  = "label.image.bytes"
)
