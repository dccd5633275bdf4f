package tourney

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teburns/llmonpy/llmclient/providers/mock"
	"github.com/teburns/llmonpy/prompttemplate"
	"github.com/teburns/llmonpy/step"
)

var plainTemplate = prompttemplate.MustParse("generate")

func jsonScript(text string) mock.Script { return mock.Script{Text: text} }

func newTestContext(t *testing.T, rt *step.Runtime) *step.ExecContext {
	t.Helper()
	return step.NewExecContext(t.Context(), rt)
}

func TestGeneratorDedupesStructurallyEqualOutputs(t *testing.T) {
	clients := map[string]*mock.Client{
		"m-a":  mock.New("m-a", jsonScript(`{"text":"A"}`)),
		"m-b1": mock.New("m-b1", jsonScript(`{"text":"B"}`)),
		"m-b2": mock.New("m-b2", jsonScript(`{"text":"B"}`)),
		"m-c":  mock.New("m-c", jsonScript(`{"text":"C"}`)),
	}
	models := []step.ModelInfo{{ModelName: "m-a"}, {ModelName: "m-b1"}, {ModelName: "m-b2"}, {ModelName: "m-c"}}

	buildPrompt := func(m step.ModelInfo) *step.Prompt {
		return step.NewPrompt("gen", plainTemplate, nil, clients[m.ModelName], m, true, 50, nil)
	}

	rt := step.New(4, nil, nil)
	root := step.NewRoot("t1", "root", step.TypePipeline, step.OutputFormatJSON, nil, nil)
	ctx := newTestContext(t, rt)

	survivors := Generator(ctx, root, buildPrompt, models)
	require.Len(t, survivors, 3)

	texts := map[string]bool{}
	for _, s := range survivors {
		dict := s.Output.(map[string]interface{})
		texts[dict["text"].(string)] = true
	}
	assert.True(t, texts["A"])
	assert.True(t, texts["B"])
	assert.True(t, texts["C"])
}

func TestRankerDeterministicAllJudgesVoteOne(t *testing.T) {
	contestants := []JudgedOutput{
		{OutputID: "A", Output: map[string]interface{}{"text": "A"}},
		{OutputID: "B", Output: map[string]interface{}{"text": "B"}},
		{OutputID: "C", Output: map[string]interface{}{"text": "C"}},
	}

	judgeClient := mock.New("judge", jsonScript(`{"winner":1}`))
	judgeModels := []step.ModelInfo{{ModelName: "j1"}, {ModelName: "j2"}, {ModelName: "j3"}}
	buildJudgePrompt := func(m step.ModelInfo, fields map[string]interface{}) *step.Prompt {
		return step.NewPrompt("judge", plainTemplate, nil, judgeClient, m, true, 50, fields)
	}

	rt := step.New(4, nil, nil)
	root := step.NewRoot("t1", "root", step.TypePipeline, step.OutputFormatJSON, nil, nil)
	ctx := newTestContext(t, rt)

	ordered, tr := Ranker(ctx, root, buildJudgePrompt, contestants, judgeModels, nil)
	require.NotNil(t, tr)
	require.Len(t, ordered, 3)

	assert.Equal(t, "A", ordered[0].OutputID)
	assert.Equal(t, "B", ordered[1].OutputID)
	assert.Equal(t, "C", ordered[2].OutputID)
	assert.Equal(t, 2, ordered[0].VictoryCount)
	assert.Equal(t, 1, ordered[1].VictoryCount)
	assert.Equal(t, 0, ordered[2].VictoryCount)
	assert.Len(t, tr.ContestResultList, 3)
}

func TestComparatorToleratesOneFailingJudge(t *testing.T) {
	c1 := &JudgedOutput{OutputID: "A", Output: map[string]interface{}{"text": "A"}}
	c2 := &JudgedOutput{OutputID: "B", Output: map[string]interface{}{"text": "B"}}

	judgeModels := []step.ModelInfo{
		{ModelName: "j1"}, {ModelName: "j2"}, {ModelName: "j3"}, {ModelName: "j4"}, {ModelName: "j5"},
	}
	clients := map[string]*mock.Client{
		"j1": mock.New("j1", jsonScript(`{"winner":1}`)),
		"j2": mock.New("j2", jsonScript(`{"winner":1}`)),
		"j3": mock.New("j3", jsonScript(`{"winner":1}`)),
		"j4": mock.New("j4", jsonScript(`{"winner":1}`)),
		"j5": mock.New("j5", mock.Script{Err: errors.New("judge exploded")}),
	}
	buildJudgePrompt := func(m step.ModelInfo, fields map[string]interface{}) *step.Prompt {
		return step.NewPrompt("judge", plainTemplate, nil, clients[m.ModelName], m, true, 50, fields)
	}

	rt := step.New(4, nil, nil)
	root := step.NewRoot("t1", "root", step.TypePipeline, step.OutputFormatJSON, nil, nil)
	ctx := newTestContext(t, rt)

	outcome := Comparator(ctx, root, buildJudgePrompt, c1, c2, judgeModels, nil)
	assert.Equal(t, c1, outcome.Winner)
	assert.Equal(t, 0, outcome.DissentCount)
}

// eventCapturingSink records only events, discarding everything else, so
// tests can assert on the recorder's log messages.
type eventCapturingSink struct {
	mu     sync.Mutex
	events []step.Event
}

func (s *eventCapturingSink) RecordStep(step.StepRecord)                 {}
func (s *eventCapturingSink) RecordTourneyResult(step.TourneyResult)     {}
func (s *eventCapturingSink) RecordTraceInfo(step.TraceInfo)             {}
func (s *eventCapturingSink) RecordEvent(e step.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// TestAdaptiveICLCycleStopsEarlyOnUnchangedChampion makes every judge
// favor output_2 (the incumbent, since each round's comparison pits the
// freshly generated candidate as output_1 against the carried-forward
// champion as output_2). The champion therefore never changes, so the
// cycle must detect "no improvement" and stop before exhausting
// maxCycles.
func TestAdaptiveICLCycleStopsEarlyOnUnchangedChampion(t *testing.T) {
	genClient := mock.New("gen", jsonScript(`{"text":"challenger"}`))
	judgeClient := mock.New("judge", jsonScript(`{"winner":2}`))

	genModels := []step.ModelInfo{{ModelName: "gen"}}
	judgeModels := []step.ModelInfo{{ModelName: "judge"}}

	buildGenPrompt := func(m step.ModelInfo) *step.Prompt {
		return step.NewPrompt("generation", plainTemplate, nil, genClient, m, true, 50, nil)
	}
	buildJudgePrompt := func(m step.ModelInfo, fields map[string]interface{}) *step.Prompt {
		return step.NewPrompt("judge", plainTemplate, nil, judgeClient, m, true, 50, fields)
	}

	sink := &eventCapturingSink{}
	rt := step.New(4, sink, nil)
	root := step.NewRoot("t1", "root", step.TypePipeline, step.OutputFormatJSON, sink, nil)
	ctx := newTestContext(t, rt)

	result := AdaptiveICLCycle(ctx, root, CycleParams{
		GenStepName:      "generation",
		BuildGenPrompt:   buildGenPrompt,
		FirstRoundModels: genModels,
		RefinementModels: genModels,
		BuildJudgePrompt: buildJudgePrompt,
		JudgementModels:  judgeModels,
		MaxCycles:        3,
		NumberOfExamples: 1,
	})

	require.Len(t, result, 1)

	found := false
	for _, e := range sink.events {
		if e.EventType == step.EventMessage && e.Message == "cycle done" {
			found = true
		}
	}
	assert.True(t, found, "expected a \"cycle done\" message once the champion stopped changing")
}
