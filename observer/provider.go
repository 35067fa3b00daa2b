package observer

import (
	"context"
	"time"

	cascade "github.com/nevindra/cascade"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a cascade.Provider with OTEL instrumentation.
// Every model call emits a span, a request counter and duration
// histogram, token usage counters, and a structured log record.
type ObservedProvider struct {
	inner cascade.Provider
	inst  *Instruments
	model string
}

// WrapProvider returns an instrumented provider.
func WrapProvider(inner cascade.Provider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Chat(ctx context.Context, req cascade.ChatRequest) (*cascade.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrToolCount.Int(len(req.Tools)),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)

	o.record(ctx, span, "chat", start, resp, err)
	return resp, err
}

// ChatStream passes ch straight through: the caller owns the channel
// and its chunks, only the call itself is measured.
func (o *ObservedProvider) ChatStream(ctx context.Context, req cascade.ChatRequest, ch chan<- string) (*cascade.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat_stream", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrToolCount.Int(len(req.Tools)),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.ChatStream(ctx, req, ch)

	o.record(ctx, span, "chat_stream", start, resp, err)
	return resp, err
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, method string, start time.Time, resp *cascade.ChatResponse, err error) {
	durationMS := float64(time.Since(start).Microseconds()) / 1000
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMMethod.String(method),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMS, metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMMethod.String(method),
	))

	var usage cascade.Usage
	if resp != nil && resp.Usage != nil {
		usage = *resp.Usage
		span.SetAttributes(
			AttrTokensInput.Int(usage.PromptTokens),
			AttrTokensOutput.Int(usage.CompletionTokens),
		)
		o.inst.TokenUsage.Add(ctx, int64(usage.PromptTokens), metric.WithAttributes(
			AttrLLMModel.String(o.model),
			attribute.String("direction", "input"),
		))
		o.inst.TokenUsage.Add(ctx, int64(usage.CompletionTokens), metric.WithAttributes(
			AttrLLMModel.String(o.model),
			attribute.String("direction", "output"),
		))
	}

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.method", method),
		otellog.String("llm.status", status),
		otellog.Int("llm.tokens.total", usage.TotalTokens),
		otellog.Float64("llm.duration_ms", durationMS),
	)
	o.inst.Logger.Emit(ctx, rec)
}

var _ cascade.Provider = (*ObservedProvider)(nil)
