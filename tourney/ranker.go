package tourney

import (
	"sort"
	"sync"

	"github.com/teburns/llmonpy/step"
)

// Ranker runs a round-robin tournament over contestants: all N(N-1)/2
// pairwise comparators run concurrently, each decided pair increments its
// winner's victoryCount and appends a ContestResult to the returned
// TourneyResult. Final ordering is victoryCount descending, stable on
// original index.
func Ranker(ctx *step.ExecContext, rec *step.Recorder, buildJudgePrompt func(model step.ModelInfo, fields map[string]interface{}) *step.Prompt, contestants []JudgedOutput, judgeModels []step.ModelInfo, inputData map[string]interface{}) ([]JudgedOutput, *step.TourneyResult) {
	n := len(contestants)
	tr := rec.CreateTourneyResult(inputData, len(judgeModels))
	for _, c := range contestants {
		tr.ContestantList = append(tr.ContestantList, c.OutputID)
	}

	if n < 2 {
		rec.RecordTourneyResult(tr)
		return contestants, tr
	}

	type pairResult struct {
		i, j    int
		outcome ContestOutcome
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	results := make([]pairResult, 0, n*(n-1)/2)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			i, j := i, j
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcome := Comparator(ctx, rec, buildJudgePrompt, &contestants[i], &contestants[j], judgeModels, nil)
				mu.Lock()
				results = append(results, pairResult{i: i, j: j, outcome: outcome})
				mu.Unlock()
			}()
		}
	}
	wg.Wait()

	// Sort by (i, j) so contest rows and victory tallying are deterministic
	// regardless of goroutine completion order.
	sort.Slice(results, func(a, b int) bool {
		if results[a].i != results[b].i {
			return results[a].i < results[b].i
		}
		return results[a].j < results[b].j
	})

	victoryCount := make([]int, n)
	for _, r := range results {
		c1, c2 := &contestants[r.i], &contestants[r.j]
		winnerIdx := r.j
		if r.outcome.Winner == c1 {
			winnerIdx = r.i
		}
		victoryCount[winnerIdx]++

		tr.ContestResultList = append(tr.ContestResultList, step.ContestResult{
			Contestant1:  c1.OutputID,
			Contestant2:  c2.OutputID,
			Winner:       r.outcome.Winner.OutputID,
			DissentCount: r.outcome.DissentCount,
		})
	}

	ordered := make([]JudgedOutput, n)
	copy(ordered, contestants)
	for i := range ordered {
		ordered[i].VictoryCount = victoryCount[i]
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].VictoryCount > ordered[b].VictoryCount
	})

	rec.RecordTourneyResult(tr)
	return ordered, tr
}
