package observer

import (
	"context"
	"sync"
	"time"

	cascade "github.com/nevindra/cascade"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder turns event stream lifecycle transitions into metrics:
// workflow and agent run counts with durations, plus executed step
// counts. Durations span a component's started and terminal events.
// Attach it to a stream with Follow.
type Recorder struct {
	inst *Instruments

	mu      sync.Mutex
	started map[string]time.Time
}

// NewRecorder creates a Recorder feeding the given instruments.
func NewRecorder(inst *Instruments) *Recorder {
	return &Recorder{inst: inst, started: make(map[string]time.Time)}
}

// Record consumes one event.
func (r *Recorder) Record(ctx context.Context, ev cascade.Event) {
	switch ev.Scope {
	case cascade.ScopeWorkflow:
		r.lifecycle(ctx, ev, r.inst.WorkflowRuns, r.inst.WorkflowDuration, AttrWorkflowID)
	case cascade.ScopeAgent:
		r.lifecycle(ctx, ev, r.inst.AgentRuns, r.inst.AgentDuration, AttrAgentName)
	case cascade.ScopeWorkflowStep:
		if ev.Type == cascade.EventStarted {
			r.inst.StepsExecuted.Add(ctx, 1, metric.WithAttributes(
				AttrWorkflowID.String(ev.WorkflowID),
			))
		}
	}
}

func (r *Recorder) lifecycle(ctx context.Context, ev cascade.Event, runs metric.Int64Counter, duration metric.Float64Histogram, key attribute.Key) {
	k := string(ev.Scope) + "\x00" + ev.ComponentID + "\x00" + ev.WorkflowID

	switch ev.Type {
	case cascade.EventStarted:
		r.mu.Lock()
		r.started[k] = ev.Timestamp
		r.mu.Unlock()
	case cascade.EventCompleted, cascade.EventFailed, cascade.EventCanceled:
		runs.Add(ctx, 1, metric.WithAttributes(
			key.String(ev.ComponentID),
			attribute.String("status", string(ev.Status)),
		))
		r.mu.Lock()
		begin, ok := r.started[k]
		delete(r.started, k)
		r.mu.Unlock()
		if ok {
			duration.Record(ctx, float64(ev.Timestamp.Sub(begin).Microseconds())/1000,
				metric.WithAttributes(key.String(ev.ComponentID)))
		}
	}
}

// Follow backfills everything the stream already holds from fromOffset,
// then records live events until ctx is cancelled. Run it in its own
// goroutine; it returns ctx.Err() on shutdown.
func (r *Recorder) Follow(ctx context.Context, stream *cascade.EventStream, fromOffset uint64) error {
	sub := stream.Subscribe()
	defer sub.Close()

	next := fromOffset
	for _, ev := range stream.FromOffset(fromOffset) {
		r.Record(ctx, ev)
		next = ev.Offset + 1
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if ev.Offset < next {
				// Already seen during backfill.
				continue
			}
			if ev.Offset > next {
				// The subscription dropped events while we lagged;
				// recover the gap from history.
				missed := stream.FromOffset(next)
				for _, m := range missed {
					r.Record(ctx, m)
				}
				if n := len(missed); n > 0 {
					next = missed[n-1].Offset + 1
				}
				continue
			}
			r.Record(ctx, ev)
			next = ev.Offset + 1
		}
	}
}
