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
	tracerName             = "taskmaster/api"
	requestSpanName        = "tasks.request"
	requestEventName       = "tasks.request.completed"
	requestEventDomain     = "taskmaster.api"
	observabilityEventName = "observability.event"
	attrPrefix             = "taskmaster.tasks."
)

// requestMetrics records the phases of one API request and reports them as a
// structured log event and as attributes of the request span.
type requestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	route          string
	start          time.Time
	authDuration   time.Duration
	storeDuration  time.Duration
	encodeDuration time.Duration
	tasksReturned  int
	taskID         int64
	errorStage     string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route)),
	)
	return &requestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		start:  time.Now(),
	}, ctx
}

func (m *requestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration += duration
}

func (m *requestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *requestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *requestMetrics) SetTaskID(id int64) {
	m.taskID = id
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

type metricField struct {
	key string
	val any
}

func (f metricField) attribute() attribute.KeyValue {
	switch v := f.val.(type) {
	case int:
		return attribute.Int(f.key, v)
	case int64:
		return attribute.Int64(f.key, v)
	case float64:
		return attribute.Float64(f.key, v)
	case bool:
		return attribute.Bool(f.key, v)
	case string:
		return attribute.String(f.key, v)
	}
	return attribute.String(f.key, "")
}

func (m *requestMetrics) fields(status int, err error) []metricField {
	fields := []metricField{
		{"http.route", m.route},
		{"http.status_code", status},
		{attrPrefix + "total_ms", durationToMillis(time.Since(m.start))},
		{attrPrefix + "tasks_returned", m.tasksReturned},
	}
	if m.taskID != 0 {
		fields = append(fields, metricField{attrPrefix + "task_id", m.taskID})
	}
	if m.authDuration > 0 {
		fields = append(fields, metricField{attrPrefix + "auth_ms", durationToMillis(m.authDuration)})
	}
	if m.storeDuration > 0 {
		fields = append(fields, metricField{attrPrefix + "store_ms", durationToMillis(m.storeDuration)})
	}
	if m.encodeDuration > 0 {
		fields = append(fields, metricField{attrPrefix + "encode_ms", durationToMillis(m.encodeDuration)})
	}
	if m.errorStage != "" {
		fields = append(fields, metricField{attrPrefix + "error_stage", m.errorStage})
	}
	if err != nil {
		fields = append(fields, metricField{"error.message", err.Error()})
	}
	return fields
}

// Log ends the request span and emits the observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	fields := m.fields(status, err)
	sevText, sevNumber := severityForStatus(status, err)

	if m.span != nil {
		attrs := make([]attribute.KeyValue, 0, len(fields)+4)
		for _, f := range fields {
			attrs = append(attrs, f.attribute())
		}
		m.span.SetAttributes(attrs...)
		m.span.AddEvent(observabilityEventName, trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", sevText),
			attribute.Int("severity_number", sevNumber),
		}, attrs...)...))
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	attrs := make(map[string]any, len(fields))
	for _, f := range fields {
		attrs[f.key] = f.val
	}
	entry := m.logger.WithFields(log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   sevText,
		"severity_number": sevNumber,
		"attributes":      attrs,
	})
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			entry = entry.WithFields(log.Fields{
				"trace_id": sc.TraceID().String(),
				"span_id":  sc.SpanID().String(),
			})
		}
	}
	switch sevText {
	case "ERROR":
		entry.Error(observabilityEventName)
	case "WARN":
		entry.Warn(observabilityEventName)
	default:
		entry.Info(observabilityEventName)
	}
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	case err != nil:
		return "ERROR", 17
	}
	return "INFO", 9
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
