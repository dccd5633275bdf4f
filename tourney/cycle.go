package tourney

import (
	"github.com/teburns/llmonpy/step"
)

// CycleParams configures an Adaptive ICL Cycle run.
type CycleParams struct {
	GenStepName      string
	BuildGenPrompt   func(model step.ModelInfo) *step.Prompt
	FirstRoundModels []step.ModelInfo
	RefinementModels []step.ModelInfo

	BuildJudgePrompt func(model step.ModelInfo, fields map[string]interface{}) *step.Prompt
	JudgementModels  []step.ModelInfo

	MaxCycles        int
	NumberOfExamples int
}

// AdaptiveICLCycle maintains a running exampleList of the top
// NumberOfExamples JudgedOutputs: an initial tournament seeds it, then up
// to MaxCycles-1 refinement rounds each see the current exampleList as
// few-shot examples (worst-to-best, per the template's recency-bias
// convention), regenerate, re-rank the union against the old set, and
// keep the new top-k. The cycle stops early once the champion's outputId
// repeats — no improvement.
func AdaptiveICLCycle(ctx *step.ExecContext, rec *step.Recorder, p CycleParams) []JudgedOutput {
	ordered, _ := Tournament(ctx, rec, p.BuildGenPrompt, p.FirstRoundModels, p.BuildJudgePrompt, p.JudgementModels, nil)
	exampleList := topK(ordered, p.NumberOfExamples)
	champion := championID(exampleList)

	for i := 1; i < p.MaxCycles; i++ {
		rec.SetStepExamples(p.GenStepName, worstToBestOutputs(exampleList))

		newCandidates := Generator(ctx, rec, p.BuildGenPrompt, p.RefinementModels)
		combined := combineResetVictory(newCandidates, exampleList)

		ranked, _ := Ranker(ctx, rec, p.BuildJudgePrompt, combined, p.JudgementModels, nil)
		exampleList = topK(ranked, p.NumberOfExamples)

		newChampion := championID(exampleList)
		if newChampion != "" && newChampion == champion {
			rec.LogMessage("cycle done", map[string]interface{}{"round": i})
			break
		}
		champion = newChampion
	}
	return exampleList
}

func topK(ordered []JudgedOutput, k int) []JudgedOutput {
	if k <= 0 || k >= len(ordered) {
		out := make([]JudgedOutput, len(ordered))
		copy(out, ordered)
		return out
	}
	out := make([]JudgedOutput, k)
	copy(out, ordered[:k])
	return out
}

func championID(ordered []JudgedOutput) string {
	if len(ordered) == 0 {
		return ""
	}
	return ordered[0].OutputID
}

// worstToBestOutputs reverses a best-first ordered list into worst-to-best
// raw outputs, so the strongest example lands last — closest to the
// generation prompt, where recency bias weighs it most heavily.
func worstToBestOutputs(ordered []JudgedOutput) []interface{} {
	out := make([]interface{}, len(ordered))
	for i, jo := range ordered {
		out[len(ordered)-1-i] = jo.Output
	}
	return out
}

// combineResetVictory merges two JudgedOutput sets, deduplicating by
// OutputID (first occurrence wins) and resetting every victoryCount to 0
// before the next ranking round.
func combineResetVictory(a, b []JudgedOutput) []JudgedOutput {
	seen := make(map[string]bool, len(a)+len(b))
	combined := make([]JudgedOutput, 0, len(a)+len(b))
	for _, list := range [][]JudgedOutput{a, b} {
		for _, jo := range list {
			if seen[jo.OutputID] {
				continue
			}
			seen[jo.OutputID] = true
			jo.VictoryCount = 0
			combined = append(combined, jo)
		}
	}
	return combined
}
