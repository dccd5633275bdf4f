package tourney

import (
	"github.com/teburns/llmonpy/step"
)

// ContestOutcome is a decided pairwise comparator contest: the majority
// winner among this pair's judges plus how many judges dissented from it.
type ContestOutcome struct {
	Winner       *JudgedOutput
	DissentCount int
}

// Comparator runs one judge prompt per model in judgeModels — built by
// buildJudgePrompt(model, fields), where fields always carries output_1
// and output_2 — and decides a winner by majority vote: ties break to
// output_2, dissentCount = min(votes1, votes2).
// Invalid or failed judges (non-1/2 "winner", or a failed step) are
// dropped from the vote entirely.
func Comparator(ctx *step.ExecContext, parent *step.Recorder, buildJudgePrompt func(model step.ModelInfo, fields map[string]interface{}) *step.Prompt, c1, c2 *JudgedOutput, judgeModels []step.ModelInfo, extraFields map[string]interface{}) ContestOutcome {
	fields := map[string]interface{}{
		"output_1": c1.Output,
		"output_2": c2.Output,
	}
	for k, v := range extraFields {
		fields[k] = v
	}

	steps := make([]step.Step, 0, len(judgeModels))
	for _, m := range judgeModels {
		steps = append(steps, buildJudgePrompt(m, fields))
	}

	completed := ctx.Runtime().RunParallel(ctx, parent, steps, nil)

	votes1, votes2 := 0, 0
	for _, cs := range completed {
		dict, ok := cs.Output.(map[string]interface{})
		if !ok {
			continue
		}
		winner, ok := asWinner(dict["winner"])
		if !ok {
			continue
		}
		switch winner {
		case 1:
			votes1++
		case 2:
			votes2++
		}
	}

	dissent := votes1
	if votes2 < dissent {
		dissent = votes2
	}

	winner := c2
	if votes1 > votes2 {
		winner = c1
	}
	return ContestOutcome{Winner: winner, DissentCount: dissent}
}

// asWinner coerces a judge's "winner" field (JSON numbers decode as
// float64) to 1 or 2, rejecting anything else.
func asWinner(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n == 1 {
			return 1, true
		}
		if n == 2 {
			return 2, true
		}
	case int:
		if n == 1 || n == 2 {
			return n, true
		}
	}
	return 0, false
}
