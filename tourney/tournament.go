package tourney

import (
	"github.com/teburns/llmonpy/step"
)

// Tournament sequences a Generator then a Ranker: generate candidates,
// dedup, then rank them by round-robin judged contest. Returns the
// final victoryCount-ordered list.
func Tournament(ctx *step.ExecContext, rec *step.Recorder, buildGenPrompt func(model step.ModelInfo) *step.Prompt, genModels []step.ModelInfo, buildJudgePrompt func(model step.ModelInfo, fields map[string]interface{}) *step.Prompt, judgeModels []step.ModelInfo, inputData map[string]interface{}) ([]JudgedOutput, *step.TourneyResult) {
	candidates := Generator(ctx, rec, buildGenPrompt, genModels)
	return Ranker(ctx, rec, buildJudgePrompt, candidates, judgeModels, inputData)
}
