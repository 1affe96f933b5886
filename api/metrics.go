package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	boardEventName   = "board.request.metrics"
	boardEventDomain = "taskboard.board"
	boardTracerName  = "taskboard/api"
	observabilityMsg = "observability.event"
)

type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	action        string
	start         time.Time
	storeDuration time.Duration
	taskID        string
	errorStage    string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route, action string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(boardTracerName).Start(ctx, "board."+action, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(attribute.String("http.route", route))
	return &requestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		action: action,
		start:  time.Now(),
	}, spanCtx
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration = duration
}

func (m *requestMetrics) SetTask(id string) {
	m.taskID = id
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log ends the request span and emits one observability event for it.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	attrs := map[string]any{
		"http.route":               m.route,
		"http.status_code":         status,
		"taskboard.board.action":   m.action,
		"taskboard.board.total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.storeDuration > 0 {
		attrs["taskboard.board.store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.taskID != "" {
		attrs["taskboard.board.task_id"] = m.taskID
	}
	if m.errorStage != "" {
		attrs["taskboard.board.error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}
	sevText, sevNumber := severityForStatus(status, err)

	kvs := toKeyValues(attrs)
	eventKVs := append([]attribute.KeyValue{
		attribute.String("event.name", boardEventName),
		attribute.String("event.domain", boardEventDomain),
		attribute.String("severity_text", sevText),
		attribute.Int("severity_number", sevNumber),
	}, kvs...)
	m.span.SetAttributes(kvs...)
	m.span.AddEvent(observabilityMsg, trace.WithAttributes(eventKVs...))
	switch {
	case err != nil:
		m.span.SetStatus(codes.Error, err.Error())
	case status >= http.StatusInternalServerError:
		m.span.SetStatus(codes.Error, http.StatusText(status))
	default:
		m.span.SetStatus(codes.Ok, "")
	}
	sc := m.span.SpanContext()
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      boardEventName,
		"event.domain":    boardEventDomain,
		"attributes":      attrs,
		"severity_text":   sevText,
		"severity_number": sevNumber,
	}
	if sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	entry := m.logger.WithFields(fields)
	switch sevText {
	case "ERROR":
		entry.Error(observabilityMsg)
	case "WARN":
		entry.Warn(observabilityMsg)
	default:
		entry.Info(observabilityMsg)
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := attrs[k].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case float64:
			out = append(out, attribute.Float64(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
