package trace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teburns/llmonpy/step"
)

func TestStoreRecordsAndQueriesStepRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	rec := step.StepRecord{
		TraceID: "trace-1", StepID: "step-1", StepIndex: 0, StepName: "root",
		StepType: step.TypePrompt, RootStepID: "step-1",
		InputDict:  map[string]interface{}{"n": float64(2)},
		OutputDict: map[string]interface{}{"n": float64(4)},
		OutputFormat: step.OutputFormatJSON,
		StartTime:  time.Now(),
		EndTime:    time.Now(),
		StatusCode: step.StatusSuccess,
		Cost:       0.01,
	}
	s.RecordStep(rec)
	s.RecordTraceInfo(step.TraceInfo{
		TraceID: "trace-1", StartTime: rec.StartTime, EndTime: rec.EndTime,
		StatusCode: step.StatusSuccess, Cost: 0.01,
	})

	got, err := s.GetCompleteTraceByID("trace-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "step-1", got[0].StepID)
	assert.InDelta(t, 4.0, got[0].OutputDict["n"], 1e-9)

	list, err := s.GetTraceList(10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "trace-1", list[0].TraceID)
}

func TestStorePersistsEventsAndTourneyResults(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	s.RecordEvent(step.Event{
		EventID: "ev-1", TraceID: "t1", StepID: "step-1",
		EventTime: time.Now(), EventType: step.EventPromptResponse, Message: "hi",
	})
	events, err := s.GetEventsForStep("step-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "hi", events[0].Message)

	s.RecordTourneyResult(step.TourneyResult{
		TourneyResultID: "tr-1", StepID: "step-2", TraceID: "t1", StepName: "ranker",
		StartTime: time.Now(), NumberOfJudges: 3,
		ContestantList: []string{"A", "B"},
		ContestResultList: []step.ContestResult{
			{Contestant1: "A", Contestant2: "B", Winner: "A", DissentCount: 0},
		},
	})

	names, err := s.GetTourneyStepNameList()
	require.NoError(t, err)
	assert.Equal(t, []string{"ranker"}, names)

	results, err := s.GetTourneyResultsForStepName("ranker")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0].ContestResultList[0].Winner)
}

func TestStoreWritesJSONLFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	s.RecordTraceInfo(step.TraceInfo{TraceID: "t1", StartTime: time.Now(), EndTime: time.Now(), StatusCode: 200})
	require.NoError(t, s.Close())

	data, err := os.ReadFile(filepath.Join(dir, "trace_info.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"t1"`)
}
