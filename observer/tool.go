package observer

import (
	"context"
	"encoding/json"
	"time"

	cascade "github.com/nevindra/cascade"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTool wraps a cascade.Tool with OTEL instrumentation.
type ObservedTool struct {
	inner cascade.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented tool.
func WrapTool(inner cascade.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

func (o *ObservedTool) Name() string                 { return o.inner.Name() }
func (o *ObservedTool) Description() string          { return o.inner.Description() }
func (o *ObservedTool) InputSchema() json.RawMessage { return o.inner.InputSchema() }

func (o *ObservedTool) Execute(ctx context.Context, args map[string]any) (cascade.ToolResult, error) {
	name := o.inner.Name()
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		AttrToolName.String(name),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, args)

	durationMS := float64(time.Since(start).Microseconds()) / 1000
	status := string(result.Status)
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultLength.Int(len(result.Output)),
	)

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMS, metric.WithAttributes(
		AttrToolName.String(name),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool executed"))
	rec.AddAttributes(
		otellog.String("tool.name", name),
		otellog.String("tool.status", status),
		otellog.Int("tool.result_length", len(result.Output)),
		otellog.Float64("tool.duration_ms", durationMS),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

var _ cascade.Tool = (*ObservedTool)(nil)
