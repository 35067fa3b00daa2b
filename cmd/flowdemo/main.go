// Command flowdemo runs a small research-and-summarise workflow against
// an OpenAI-compatible endpoint and prints the run record plus the event
// log. It exercises agents, tools, conditionals, and a sub-workflow.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	cascade "github.com/nevindra/cascade"
	"github.com/nevindra/cascade/eventlog"
	"github.com/nevindra/cascade/internal/config"
	"github.com/nevindra/cascade/observer"
	"github.com/nevindra/cascade/provider/openaicompat"
	"github.com/nevindra/cascade/tools/calculator"
	"github.com/nevindra/cascade/tools/echo"
	"github.com/nevindra/cascade/tools/facts"
	"github.com/nevindra/cascade/tools/fetch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg, err := config.Load(os.Getenv("CASCADE_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// 2. Provider
	var provider cascade.Provider = openaicompat.NewProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)

	// 3. Observer (opt-in via config). Model and tool calls go through
	// the instrumented wrappers; workflow-level metrics come from the
	// event stream recorder started below.
	var tracer cascade.Tracer
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx, cfg.Observer.ServiceName)
		if err != nil {
			log.Fatalf("observer: init failed: %v", err)
		}
		defer shutdown(context.Background())
		tracer = observer.NewTracer()
		provider = observer.WrapProvider(provider, cfg.LLM.Model, inst)
		logger.Info("OTEL observability enabled")
	}
	wrapTool := func(t cascade.Tool) cascade.Tool {
		if inst == nil {
			return t
		}
		return observer.WrapTool(t, inst)
	}

	// 4. Tools
	registry := cascade.NewToolRegistry()
	registry.Register(wrapTool(echo.New()))
	registry.Register(wrapTool(calculator.New()))
	registry.Register(wrapTool(fetch.New()))
	if cfg.Tools.FactsDBPath != "" {
		store, err := facts.Open(cfg.Tools.FactsDBPath)
		if err != nil {
			log.Fatalf("facts store: %v", err)
		}
		defer store.Close()
		registry.Register(wrapTool(facts.NewTool(store)))
	}

	// 5. Agents
	loopCfg := cascade.LoopDetectionConfig{Enabled: cfg.Agent.LoopDetection}
	researcher := cascade.NewAgent("researcher",
		"You are a research assistant. Gather facts with your tools and answer concisely.",
		provider,
		cascade.WithTools(registry),
		cascade.WithMaxToolIterations(cfg.Agent.MaxToolIterations),
		cascade.WithLoopDetection(loopCfg),
		cascade.WithContextManager(cascade.NewTokenBudgetManager(cfg.Context.MaxTokens, cfg.Context.InputOutputRatio)),
		cascade.WithAgentRetry(cascade.DefaultRetryPolicy()),
		cascade.WithAgentTimeout(cascade.DefaultTimeout()),
		cascade.WithTracer(tracer),
		cascade.WithAgentLogger(logger),
	)
	summarizer := cascade.NewAgent("summarizer",
		"Summarise the given material in three bullet points.",
		provider,
		cascade.WithTracer(tracer),
		cascade.WithAgentLogger(logger),
	)

	// 6. Workflow: research -> uppercase transform if short -> summarise
	// inside a sub-workflow.
	wfctx := cascade.NewWorkflowContext(
		cascade.WithTokenBudget(cfg.Context.MaxTokens, cfg.Context.InputOutputRatio))

	workflow := cascade.NewWorkflow(
		cascade.WithContext(wfctx),
		cascade.WithInitialInput(json.RawMessage(`"What is the Go programming language best known for?"`)),
	)
	workflow.AddStep(cascade.NewAgentStep(researcher))
	workflow.AddStep(cascade.NewConditionalStep("long_answer",
		func(in json.RawMessage) bool { return len(in) > 200 },
		cascade.NewSubWorkflowStep("summarise", func() *cascade.Workflow {
			sub := cascade.NewWorkflow()
			sub.AddStep(cascade.NewAgentStep(summarizer))
			return sub
		}),
		cascade.NewTransformStep("passthrough", func(in json.RawMessage) (json.RawMessage, error) {
			return in, nil
		}),
	))
	workflow.AddStep(cascade.NewTransformStep("trim", func(in json.RawMessage) (json.RawMessage, error) {
		var payload map[string]any
		if err := json.Unmarshal(in, &payload); err != nil {
			// Transform output may be a plain string from the passthrough.
			return in, nil
		}
		if resp, ok := payload["response"].(string); ok {
			return json.Marshal(strings.TrimSpace(resp))
		}
		return in, nil
	}))

	// 7. Runtime + optional Postgres event sink
	runtime := cascade.NewRuntime(
		cascade.WithRuntimeLogger(logger),
		cascade.WithRuntimeTracer(tracer),
	)

	if inst != nil {
		recorder := observer.NewRecorder(inst)
		go func() {
			if err := recorder.Follow(ctx, runtime.EventStream(), 0); err != nil && ctx.Err() == nil {
				logger.Error("metric recorder stopped", "error", err)
			}
		}()
	}

	if cfg.EventLog.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.EventLog.DSN)
		if err != nil {
			log.Fatalf("eventlog: %v", err)
		}
		defer pool.Close()

		sink := eventlog.New(pool, eventlog.WithTable(cfg.EventLog.Table), eventlog.WithLogger(logger))
		if err := sink.Init(ctx); err != nil {
			log.Fatalf("eventlog: %v", err)
		}
		go func() {
			if err := sink.Follow(ctx, runtime.EventStream(), 0); err != nil && ctx.Err() == nil {
				logger.Error("event sink stopped", "error", err)
			}
		}()
	}

	// 8. Run and report
	run, err := runtime.Execute(ctx, workflow)
	if err != nil {
		logger.Error("workflow failed", "error", err)
	}

	fmt.Println("--- run record ---")
	record, _ := json.MarshalIndent(run, "", "  ")
	fmt.Println(string(record))

	fmt.Println("--- events ---")
	for _, ev := range runtime.EventsFromOffset(0) {
		fmt.Printf("%4d %-13s %-9s %s\n", ev.Offset, ev.Scope, ev.Type, ev.ComponentID)
	}

	snapshot, err := wfctx.Checkpoint()
	if err == nil {
		fmt.Printf("--- checkpoint: %d bytes ---\n", len(snapshot))
	}
}
