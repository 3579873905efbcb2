package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Observer pairs structured logging with counters and histograms for one
// component. The zero value is usable and drops everything.
type Observer struct {
	Logger  Logger
	Metrics MetricsRecorder
	Prefix  string
	Now     func() time.Time
}

func NewObserver(runtime *Runtime, component string, prefix string) Observer {
	if runtime == nil {
		return Observer{Prefix: prefix}
	}
	return Observer{
		Logger:  runtime.Named(component),
		Metrics: runtime.Metrics,
		Prefix:  prefix,
		Now:     runtime.Now,
	}
}

// Observe records the outcome of operation started at startedAt.
func (o Observer) Observe(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	elapsed := o.now().Sub(startedAt)

	contextFields := cloneFields(fields)
	contextFields["event_type"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = elapsed.Milliseconds()
	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		contextFields["correlation_id"] = correlationID
	}
	if err != nil {
		contextFields["error"] = err.Error()
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"state", "outcome", "status_code"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	o.Count(ctx, operation+".total", 1, tags)
	o.recordHistogram(ctx, o.metricName(operation+".duration_ms"), float64(elapsed.Milliseconds()), tags)

	if err != nil {
		o.Error(ctx, operation+" failed", contextFields)
		return
	}
	o.Info(ctx, operation+" succeeded", contextFields)
}

func (o Observer) Count(ctx context.Context, name string, value int64, tags map[string]string) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.IncCounter(ctx, o.metricName(name), value, cloneTags(tags))
}

func (o Observer) Info(ctx context.Context, message string, fields map[string]any) {
	o.logWithLevel(ctx, "info", message, fields)
}

func (o Observer) Error(ctx context.Context, message string, fields map[string]any) {
	o.logWithLevel(ctx, "error", message, fields)
}

func (o Observer) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if o.Logger == nil {
		return
	}
	logger := o.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	var args []any
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	} else {
		args = flattenFields(fields)
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (o Observer) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.ObserveHistogram(ctx, name, value, cloneTags(tags))
}

func (o Observer) metricName(name string) string {
	name = strings.TrimSpace(name)
	prefix := strings.Trim(strings.TrimSpace(o.Prefix), ".")
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (o Observer) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
