package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "proflo-api/api"
	dropRoute        = "/api/boards/:kind/drag/end"
	dropSpanName     = "boards.drop"
	dropEventName    = "board.drop.completed"
	dropEventDomain  = "proflo.boards"
	observabilityMsg = "observability.event"
	dropAttrPrefix   = "proflo.drop."
)

type dropRequestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	start          time.Time
	authDuration   time.Duration
	dedupeDuration time.Duration
	moveDuration   time.Duration
	encodeDuration time.Duration
	kind           string
	outcome        string
	duplicate      bool
	errorStage     string
}

// newDropRequestMetrics starts the request span. The returned context carries
// the span and should replace the request context.
func newDropRequestMetrics(ctx context.Context, logger *log.Logger) (*dropRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, dropSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", dropRoute)),
	)
	return &dropRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *dropRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *dropRequestMetrics) ObserveDedupe(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.dedupeDuration = duration
}

func (m *dropRequestMetrics) ObserveMove(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.moveDuration = duration
}

func (m *dropRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *dropRequestMetrics) SetKind(kind string) { m.kind = kind }

func (m *dropRequestMetrics) SetOutcome(outcome string) { m.outcome = outcome }

func (m *dropRequestMetrics) SetDuplicate(dup bool) { m.duplicate = dup }

func (m *dropRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log ends the span and emits one observability event, both on the span and
// as a structured log record.
func (m *dropRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("http.route", dropRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64(dropAttrPrefix+"total_ms", durationToMillis(time.Since(m.start))),
		attribute.Bool(dropAttrPrefix+"duplicate", m.duplicate),
	}
	if m.kind != "" {
		attrs = append(attrs, attribute.String(dropAttrPrefix+"kind", m.kind))
	}
	if m.outcome != "" {
		attrs = append(attrs, attribute.String(dropAttrPrefix+"outcome", m.outcome))
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64(dropAttrPrefix+"auth_ms", durationToMillis(m.authDuration)))
	}
	if m.dedupeDuration > 0 {
		attrs = append(attrs, attribute.Float64(dropAttrPrefix+"dedupe_ms", durationToMillis(m.dedupeDuration)))
	}
	if m.moveDuration > 0 {
		attrs = append(attrs, attribute.Float64(dropAttrPrefix+"move_ms", durationToMillis(m.moveDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64(dropAttrPrefix+"encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(dropAttrPrefix+"error_stage", m.errorStage))
	}

	severityText, severityNumber := severityForStatus(status, err)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", dropEventName),
		attribute.String("event.domain", dropEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)
	if err != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
	}

	var traceID, spanID string
	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent(observabilityMsg, trace.WithAttributes(eventAttrs...))
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		sc := m.span.SpanContext()
		if sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		if sc.HasSpanID() {
			spanID = sc.SpanID().String()
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	attributes := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attributes[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      dropEventName,
		"event.domain":    dropEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributes,
	}
	if traceID != "" {
		fields["trace_id"] = traceID
	}
	if spanID != "" {
		fields["span_id"] = spanID
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Log(levelForSeverity(severityNumber), observabilityMsg)
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	}
	return "INFO", 9
}

func levelForSeverity(n int) log.Level {
	switch {
	case n >= 17:
		return log.ErrorLevel
	case n >= 13:
		return log.WarnLevel
	}
	return log.InfoLevel
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
