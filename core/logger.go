package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the structured, leveled logging interface every subsystem
// depends on. Field maps are used instead of a variadic key/value list so
// call sites read the same whether they carry two fields or twenty.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a subsystem tag its own log lines while sharing
// the base logger's configuration (output, level, format).
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. It is the zero-value default so packages
// never need a nil check before calling a Logger method.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})                                   {}
func (NoOpLogger) Error(string, map[string]interface{})                                  {}
func (NoOpLogger) Warn(string, map[string]interface{})                                   {}
func (NoOpLogger) Debug(string, map[string]interface{})                                  {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})       {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{})      {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})       {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{})      {}
func (NoOpLogger) WithComponent(string) Logger                                           { return NoOpLogger{} }

type traceIDKey struct{}

// ContextWithTraceID attaches a trace id to ctx for log correlation.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func traceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}

// ProductionLogger is a JSON-in-containers / text-for-humans logger. Format
// auto-detects a Kubernetes environment the same way gomind's
// core.ProductionLogger does, and can be overridden via LLMONPY_LOG_FORMAT.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer
	mu          sync.Mutex
}

// NewProductionLogger builds a logger from a LoggingConfig.
func NewProductionLogger(cfg LoggingConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	}

	format := cfg.Format
	if format == "" {
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			format = "json"
		} else {
			format = "text"
		}
	}
	if override := os.Getenv("LLMONPY_LOG_FORMAT"); override != "" {
		format = override
	}

	return &ProductionLogger{
		level:       strings.ToUpper(firstNonEmpty(cfg.Level, "info")),
		debug:       strings.ToUpper(cfg.Level) == "DEBUG",
		serviceName: serviceName,
		component:   "framework/core",
		format:      format,
		output:      output,
	}
}

func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent(context.Background(), "INFO", msg, fields)
}
func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent(context.Background(), "ERROR", msg, fields)
}
func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent(context.Background(), "WARN", msg, fields)
}
func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent(context.Background(), "DEBUG", msg, fields)
	}
}
func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent(ctx, "INFO", msg, fields)
}
func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent(ctx, "ERROR", msg, fields)
}
func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent(ctx, "WARN", msg, fields)
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent(ctx, "DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) logEvent(ctx context.Context, level, msg string, fields map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	traceID := traceIDFromContext(ctx)

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": p.component,
			"message":   msg,
		}
		if traceID != "" {
			entry["trace_id"] = traceID
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		return
	}

	traceInfo := ""
	if traceID != "" {
		traceInfo = fmt.Sprintf("[trace=%s] ", traceID)
	}
	var fieldStr strings.Builder
	for k, v := range fields {
		fieldStr.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	fmt.Fprintf(p.output, "%s [%s] [%s/%s] %s%s%s\n",
		timestamp, level, p.serviceName, p.component, traceInfo, msg, fieldStr.String())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
