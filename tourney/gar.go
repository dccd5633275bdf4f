package tourney

import (
	"github.com/teburns/llmonpy/step"
)

// GARParams configures a Generate-Aggregate-Rank run.
// buildGenPrompt must return a step whose StepName is always genStepName
// — example inheritance keys off that name, so the aggregation rounds
// only see the published candidates if every round's steps share it.
type GARParams struct {
	GenStepName            string
	BuildGenPrompt         func(model step.ModelInfo) *step.Prompt
	GenerationModels       []step.ModelInfo
	AggregationModels       []step.ModelInfo
	RepeatAggregationLayer int

	// BuildJudgePrompt and JudgeModels are optional: when BuildJudgePrompt
	// is nil, GAR returns the last candidate set unranked.
	BuildJudgePrompt func(model step.ModelInfo, fields map[string]interface{}) *step.Prompt
	JudgeModels      []step.ModelInfo
}

// GenerateAggregateRank runs one Generator over the generation model list,
// publishes it as that step's example list, then repeats aggregation
// rounds (each seeing the previous round's candidates as few-shot
// examples via inheritance) before an optional final Ranker.
func GenerateAggregateRank(ctx *step.ExecContext, rec *step.Recorder, p GARParams) ([]JudgedOutput, *step.TourneyResult) {
	candidates := Generator(ctx, rec, p.BuildGenPrompt, p.GenerationModels)
	publishExamples(rec, p.GenStepName, candidates)

	for i := 0; i < p.RepeatAggregationLayer; i++ {
		candidates = Generator(ctx, rec, p.BuildGenPrompt, p.AggregationModels)
		publishExamples(rec, p.GenStepName, candidates)
	}

	if p.BuildJudgePrompt == nil {
		return candidates, nil
	}

	ordered, tr := Ranker(ctx, rec, p.BuildJudgePrompt, candidates, p.JudgeModels, nil)
	return ordered, tr
}

// publishExamples sets name's example list on rec to the raw outputs of
// candidates, in the order given.
func publishExamples(rec *step.Recorder, name string, candidates []JudgedOutput) {
	examples := make([]interface{}, len(candidates))
	for i, c := range candidates {
		examples[i] = c.Output
	}
	rec.SetStepExamples(name, examples)
}
