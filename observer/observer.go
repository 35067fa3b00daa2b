// Package observer provides OTEL-based observability for cascade runs.
//
// Init wires trace, metric, and log providers with OTLP HTTP exporters;
// NewTracer returns a cascade.Tracer backed by them. WrapProvider and
// WrapTool decorate model and tool calls with spans, metrics, and logs,
// and a Recorder attached to the runtime's event stream turns lifecycle
// events into workflow, step, and agent metrics. Users export to any
// OTEL-compatible backend by setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/cascade/observer"

// Instruments holds all OTEL instruments used around the runtime.
// WrapProvider and WrapTool feed the llm and tool instruments; a
// Recorder feeds the workflow, step, and agent ones.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// Counters
	TokenUsage     metric.Int64Counter
	LLMRequests    metric.Int64Counter
	ToolExecutions metric.Int64Counter
	AgentRuns      metric.Int64Counter
	WorkflowRuns   metric.Int64Counter
	StepsExecuted  metric.Int64Counter

	// Histograms
	LLMDuration      metric.Float64Histogram
	ToolDuration     metric.Float64Histogram
	AgentDuration    metric.Float64Histogram
	WorkflowDuration metric.Float64Histogram
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP
// exporters. Configuration comes from standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). Returns a shutdown function that
// must be called on application exit.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "cascade"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Log provider
	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	tokenUsage, err := meter.Int64Counter("llm.token.usage",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	llmRequests, err := meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	toolExecutions, err := meter.Int64Counter("tool.executions",
		metric.WithDescription("Tool execution count"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	agentRuns, err := meter.Int64Counter("agent.runs",
		metric.WithDescription("Agent run count"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}

	workflowRuns, err := meter.Int64Counter("workflow.runs",
		metric.WithDescription("Workflow run count"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}

	stepsExecuted, err := meter.Int64Counter("workflow.steps",
		metric.WithDescription("Workflow step count"),
		metric.WithUnit("{step}"))
	if err != nil {
		return nil, err
	}

	llmDuration, err := meter.Float64Histogram("llm.duration",
		metric.WithDescription("LLM call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram("tool.duration",
		metric.WithDescription("Tool execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	agentDuration, err := meter.Float64Histogram("agent.duration",
		metric.WithDescription("Agent run duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	workflowDuration, err := meter.Float64Histogram("workflow.duration",
		metric.WithDescription("Workflow run duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:           tracer,
		Meter:            meter,
		Logger:           logger,
		TokenUsage:       tokenUsage,
		LLMRequests:      llmRequests,
		ToolExecutions:   toolExecutions,
		AgentRuns:        agentRuns,
		WorkflowRuns:     workflowRuns,
		StepsExecuted:    stepsExecuted,
		LLMDuration:      llmDuration,
		ToolDuration:     toolDuration,
		AgentDuration:    agentDuration,
		WorkflowDuration: workflowDuration,
	}, nil
}
