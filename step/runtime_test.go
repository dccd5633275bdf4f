package step

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teburns/llmonpy/core"
)

// recordingSink captures every record for assertions instead of
// persisting them to a real store.
type recordingSink struct {
	mu         sync.Mutex
	steps      []StepRecord
	traceInfos []TraceInfo
}

func (s *recordingSink) RecordStep(r StepRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, r)
}
func (s *recordingSink) RecordEvent(Event)                 {}
func (s *recordingSink) RecordTourneyResult(TourneyResult) {}
func (s *recordingSink) RecordTraceInfo(ti TraceInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traceInfos = append(s.traceInfos, ti)
}

// fakeStep is a minimal Step whose body is supplied by the test.
type fakeStep struct {
	name   string
	typ    Type
	format OutputFormat
	model  *ModelInfo
	body   func(ctx *ExecContext, rec *Recorder) (interface{}, error)
}

func (f *fakeStep) StepName() string           { return f.name }
func (f *fakeStep) StepType() Type             { return f.typ }
func (f *fakeStep) OutputFormat() OutputFormat { return f.format }
func (f *fakeStep) ModelInfo() *ModelInfo      { return f.model }
func (f *fakeStep) InputDict() map[string]interface{} {
	return map[string]interface{}{"name": f.name}
}
func (f *fakeStep) Execute(ctx *ExecContext, rec *Recorder) (interface{}, error) {
	return f.body(ctx, rec)
}

func TestRunStepHappyPath(t *testing.T) {
	sink := &recordingSink{}
	rt := New(4, sink, nil)

	st := &fakeStep{
		name: "root", typ: TypePrompt, format: OutputFormatJSON,
		body: func(ctx *ExecContext, rec *Recorder) (interface{}, error) {
			rec.AddCost(0.5)
			return map[string]interface{}{"n": 4}, nil
		},
	}

	output, rec, err := rt.RunStep(t.Context(), "", st)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"n": 4}, output)
	assert.Equal(t, StatusSuccess, sink.steps[0].StatusCode)
	assert.InDelta(t, 0.5, rec.Cost(), 1e-9)
	require.Len(t, sink.traceInfos, 1)
	assert.Equal(t, StatusSuccess, sink.traceInfos[0].StatusCode)
}

func TestRecorderSingleFinalization(t *testing.T) {
	sink := &recordingSink{}
	rec := NewRoot("t1", "root", TypePrompt, OutputFormatJSON, sink, nil)
	require.NoError(t, rec.Finish(nil, nil, nil))
	assert.ErrorIs(t, rec.Finish(nil, nil, nil), core.ErrRecorderFinalized)
	assert.Len(t, sink.steps, 1, "at most one step_record per stepId")
}

func TestStepIndexMonotonicity(t *testing.T) {
	root := NewRoot("t1", "root", TypePipeline, OutputFormatJSON, &recordingSink{}, nil)
	assert.Equal(t, int64(0), root.StepIndex())

	var indices []int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			child := root.CreateChild("child", TypePrompt, OutputFormatJSON, nil)
			mu.Lock()
			indices = append(indices, child.StepIndex())
			mu.Unlock()
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, idx := range indices {
		assert.False(t, seen[idx], "duplicate step index %d", idx)
		seen[idx] = true
		assert.True(t, idx >= 1 && idx <= 20)
	}
}

func TestCostRollsUpToRoot(t *testing.T) {
	root := NewRoot("t1", "root", TypePipeline, OutputFormatJSON, &recordingSink{}, nil)
	mid := root.CreateChild("mid", TypePipeline, OutputFormatJSON, nil)
	leaf1 := mid.CreateChild("leaf1", TypePrompt, OutputFormatJSON, nil)
	leaf2 := mid.CreateChild("leaf2", TypePrompt, OutputFormatJSON, nil)

	leaf1.AddCost(1.5)
	leaf2.AddCost(2.5)

	assert.InDelta(t, 1.5, leaf1.Cost(), 1e-9)
	assert.InDelta(t, 2.5, leaf2.Cost(), 1e-9)
	assert.InDelta(t, 4.0, mid.Cost(), 1e-9)
	assert.InDelta(t, 4.0, root.Cost(), 1e-9)
}

func TestExampleInheritanceByLookupNotCopy(t *testing.T) {
	root := NewRoot("t1", "root", TypePipeline, OutputFormatJSON, &recordingSink{}, nil)
	root.SetStepExamples("gen", []interface{}{"a", "b"})

	child := root.CreateChild("gen", TypePrompt, OutputFormatJSON, nil)
	assert.Equal(t, []interface{}{"a", "b"}, child.GetStepExamples("gen"))

	child.SetStepExamples("gen", []interface{}{"x"})
	assert.Equal(t, []interface{}{"a", "b"}, root.GetStepExamples("gen"), "child write must not mutate ancestor map")

	grandchild := child.CreateChild("other", TypePrompt, OutputFormatJSON, nil)
	assert.Nil(t, grandchild.GetStepExamples("unpublished"))
}

func TestRunParallelIsolatesChildFailures(t *testing.T) {
	sink := &recordingSink{}
	rt := New(4, sink, nil)
	root := NewRoot("t1", "root", TypePipeline, OutputFormatJSON, sink, nil)
	ctx := &ExecContext{Context: t.Context(), runtime: rt}

	steps := []Step{
		&fakeStep{name: "ok-1", typ: TypePrompt, format: OutputFormatJSON, body: func(*ExecContext, *Recorder) (interface{}, error) {
			return map[string]interface{}{"v": 1}, nil
		}},
		&fakeStep{name: "fails", typ: TypePrompt, format: OutputFormatJSON, body: func(*ExecContext, *Recorder) (interface{}, error) {
			return nil, errors.New("boom")
		}},
		&fakeStep{name: "ok-2", typ: TypePrompt, format: OutputFormatJSON, body: func(*ExecContext, *Recorder) (interface{}, error) {
			return map[string]interface{}{"v": 2}, nil
		}},
		&fakeStep{name: "panics", typ: TypePrompt, format: OutputFormatJSON, body: func(*ExecContext, *Recorder) (interface{}, error) {
			panic("kaboom")
		}},
	}

	completed := rt.RunParallel(ctx, root, steps, nil)
	require.Len(t, completed, 2)

	names := map[string]bool{}
	for _, c := range completed {
		names[c.Step.StepName()] = true
	}
	assert.True(t, names["ok-1"])
	assert.True(t, names["ok-2"])
	assert.False(t, names["fails"])
	assert.False(t, names["panics"])

	// Both failing children still produced a finalized step record with
	// statusCode 500, so they're visible in the trace even though the
	// parallel result set dropped them.
	failedCount := 0
	for _, s := range sink.steps {
		if s.StatusCode == StatusFailure {
			failedCount++
		}
	}
	assert.Equal(t, 2, failedCount)
}

func TestRunParallelOnEachFiresPerSuccess(t *testing.T) {
	rt := New(4, &recordingSink{}, nil)
	root := NewRoot("t1", "root", TypePipeline, OutputFormatJSON, &recordingSink{}, nil)
	ctx := &ExecContext{Context: t.Context(), runtime: rt}

	var mu sync.Mutex
	var seen []string
	steps := []Step{
		&fakeStep{name: "a", typ: TypePrompt, format: OutputFormatJSON, body: func(*ExecContext, *Recorder) (interface{}, error) {
			return map[string]interface{}{}, nil
		}},
		&fakeStep{name: "b", typ: TypePrompt, format: OutputFormatJSON, body: func(*ExecContext, *Recorder) (interface{}, error) {
			return map[string]interface{}{}, nil
		}},
	}

	rt.RunParallel(ctx, root, steps, func(cs CompletedStep) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, cs.Step.StepName())
	})

	assert.ElementsMatch(t, []string{"a", "b"}, seen)
}
