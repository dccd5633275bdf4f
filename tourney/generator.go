// Package tourney implements the tournament subsystem: Generator,
// Comparator (jury), Ranker (round-robin), Tournament,
// Generate-Aggregate-Rank, and the Adaptive ICL Cycle, all built on
// step.Runtime's parallel dispatch.
package tourney

import (
	"github.com/teburns/llmonpy/step"
)

// JudgedOutput is a candidate carrying identity, provenance, and a running
// victory count across comparator calls.
type JudgedOutput struct {
	OutputID     string
	StepID       string
	ModelInfo    step.ModelInfo
	Output       interface{}
	VictoryCount int
}

// Generator runs buildPrompt(model) as one Prompt step per model in
// modelList via the runtime's parallel dispatch, drops duplicate outputs
// (keeping only the first structurally-equal copy, compared by serialized
// form), and wraps survivors as JudgedOutput with a fresh victoryCount of
// 0.
func Generator(ctx *step.ExecContext, parent *step.Recorder, buildPrompt func(model step.ModelInfo) *step.Prompt, modelList []step.ModelInfo) []JudgedOutput {
	steps := make([]step.Step, 0, len(modelList))
	for _, m := range modelList {
		steps = append(steps, buildPrompt(m))
	}

	completed := ctx.Runtime().RunParallel(ctx, parent, steps, nil)

	seen := make(map[string]bool, len(completed))
	survivors := make([]JudgedOutput, 0, len(completed))
	for _, cs := range completed {
		serialized, err := step.Serialize(cs.Output)
		if err != nil {
			cs.Recorder.LogException(err)
			continue
		}
		if seen[serialized] {
			continue
		}
		seen[serialized] = true

		model := step.ModelInfo{}
		if cs.Step.ModelInfo() != nil {
			model = *cs.Step.ModelInfo()
		}
		survivors = append(survivors, JudgedOutput{
			OutputID:  cs.Recorder.StepID(),
			StepID:    cs.Recorder.StepID(),
			ModelInfo: model,
			Output:    cs.Output,
		})
	}
	return survivors
}
