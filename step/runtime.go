package step

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/teburns/llmonpy/core"
)

// DefaultPoolSize is the runtime's process-wide worker pool size, used
// unless a caller configures a different size.
const DefaultPoolSize = 100

// ExecContext threads the caller's context.Context and a handle back to the
// owning Runtime through a step tree, so nested composite steps (Generator,
// Ranker, Tournament, …) can call RunParallel on their own children without
// a global.
type ExecContext struct {
	context.Context
	runtime *Runtime
}

// Runtime returns the Runtime driving this execution, for steps that fan
// out to children.
func (c *ExecContext) Runtime() *Runtime { return c.runtime }

// NewExecContext builds an ExecContext directly, for composite-step logic
// (tourney's Generator/Ranker/Tournament/…) exercised outside of a full
// RunStep/RunParallel dispatch, e.g. in package tests.
func NewExecContext(ctx context.Context, rt *Runtime) *ExecContext {
	return &ExecContext{Context: ctx, runtime: rt}
}

// WithContext returns a copy of c wrapping a different context.Context
// (e.g. to attach a deadline before a child dispatch), keeping the same
// Runtime.
func (c *ExecContext) WithContext(ctx context.Context) *ExecContext {
	return &ExecContext{Context: ctx, runtime: c.runtime}
}

// CompletedStep is one successfully finished child from RunParallel.
type CompletedStep struct {
	Step     Step
	Output   interface{}
	Recorder *Recorder
}

// Runtime executes step trees: it owns the single process-wide worker pool
// RunParallel dispatches onto: a single process-wide worker pool of
// configured size, default 100.
type Runtime struct {
	pool   chan struct{}
	sink   Sink
	logger core.Logger
	tracer trace.Tracer
}

// New builds a Runtime with the given pool size (<=0 uses DefaultPoolSize)
// and sink for persisted records. Span emission defaults to otel's no-op
// tracer until SetTracer attaches a real one (telemetryx.Provider.Tracer).
func New(poolSize int, sink Sink, logger core.Logger) *Runtime {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Runtime{
		pool:   make(chan struct{}, poolSize),
		sink:   sink,
		logger: logger,
		tracer: otel.Tracer("github.com/teburns/llmonpy/step"),
	}
}

// SetTracer attaches a real tracer (typically telemetryx.Provider.Tracer)
// so every dispatched step emits a span. Safe to call before the runtime
// starts processing steps.
func (rt *Runtime) SetTracer(tracer trace.Tracer) {
	if tracer != nil {
		rt.tracer = tracer
	}
}

// RunStep creates a root recorder for a new trace and runs st synchronously
// on the caller: runStep(step) → (output, recorder). On failure the
// step's terminal error is recorded on the root
// recorder and returned to the caller (not swallowed — only runParallel
// isolates child failures).
func (rt *Runtime) RunStep(ctx context.Context, traceID string, st Step) (interface{}, *Recorder, error) {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	rec := NewRoot(traceID, st.StepName(), st.StepType(), st.OutputFormat(), rt.sink, rt.logger)
	execCtx := &ExecContext{Context: ctx, runtime: rt}

	output, err := rt.runStepBody(execCtx, st, rec)
	_ = rec.Finish(buildInputDict(st, rec), outputDictFrom(output), err)

	if err != nil {
		return nil, rec, err
	}
	return output, rec, nil
}

// RunParallel submits each step to the runtime's shared worker pool,
// creating a child recorder under parent for every one, and returns
// completed children in completion order (not submission order). A
// per-child failure is recorded as an exception on that child's own
// recorder and the child is absent from the result — it does not abort
// siblings. onEach, when supplied, fires once per success on the
// completion goroutine, before the result is appended.
func (rt *Runtime) RunParallel(ctx *ExecContext, parent *Recorder, steps []Step, onEach func(CompletedStep)) []CompletedStep {
	if len(steps) == 0 {
		return nil
	}

	results := make(chan CompletedStep, len(steps))
	var wg sync.WaitGroup
	wg.Add(len(steps))

	for _, st := range steps {
		st := st
		go func() {
			defer wg.Done()

			rt.pool <- struct{}{}
			defer func() { <-rt.pool }()

			rec := parent.CreateChild(st.StepName(), st.StepType(), st.OutputFormat(), st.ModelInfo())
			output, err := rt.runStepBody(ctx, st, rec)
			_ = rec.Finish(buildInputDict(st, rec), outputDictFrom(output), err)

			if err != nil {
				rt.logger.Debug("child step failed", map[string]interface{}{
					"stepName": st.StepName(),
					"stepId":   rec.StepID(),
					"error":    err.Error(),
				})
				return
			}

			cs := CompletedStep{Step: st, Output: output, Recorder: rec}
			if onEach != nil {
				onEach(cs)
			}
			results <- cs
		}()
	}

	wg.Wait()
	close(results)

	out := make([]CompletedStep, 0, len(steps))
	for cs := range results {
		out = append(out, cs)
	}
	return out
}

// runStepBody executes st.Execute with panic recovery, converting a panic
// into an error rather than crashing the caller. Any error, whether
// returned by the step or recovered from a panic, is logged as an
// exception event on rec. The whole call is wrapped in a span named after
// the step.
func (rt *Runtime) runStepBody(ctx *ExecContext, st Step, rec *Recorder) (output interface{}, err error) {
	_, span := rt.tracer.Start(ctx, st.StepName())
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in step %q: %v\n%s", st.StepName(), p, debug.Stack())
		}
		if err != nil {
			rec.LogException(err)
		}
	}()
	return st.Execute(ctx, rec)
}

func buildInputDict(st Step, rec *Recorder) map[string]interface{} {
	dict := st.InputDict()
	if dict == nil {
		dict = map[string]interface{}{}
	}
	if examples := rec.GetStepExamples(st.StepName()); examples != nil {
		dict["example_list"] = examples
	}
	return dict
}

func outputDictFrom(output interface{}) map[string]interface{} {
	if output == nil {
		return nil
	}
	if m, ok := output.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"value": output}
}
