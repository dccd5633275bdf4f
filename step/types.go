// Package step implements the recursive, traced step execution engine
// and the data model it operates on.
package step

import (
	"encoding/json"
	"time"
)

// Type tags the polymorphic step variants. Every
// concrete step (Prompt, Generator, Comparator, Ranker, Tournament, Cycle,
// GenerateAggregateRank, Pipeline) reports one of these from StepType().
type Type string

const (
	TypePrompt                Type = "Prompt"
	TypeGenerator              Type = "Generator"
	TypeComparator              Type = "Comparator"
	TypeRanker                  Type = "Ranker"
	TypeTournament              Type = "Tournament"
	TypeCycle                   Type = "Cycle"
	TypeGenerateAggregateRank   Type = "GenerateAggregateRank"
	TypePipeline                Type = "Pipeline"
)

// OutputFormat selects whether a prompt step's response is parsed as JSON
// or kept as raw text.
type OutputFormat string

const (
	OutputFormatJSON OutputFormat = "JSON"
	OutputFormatText OutputFormat = "TEXT"
)

// Status codes mirror the original's STEP_STATUS_* constants, kept as the
// values that land in persisted step records.
const (
	StatusNone    = 0
	StatusSuccess = 200
	StatusFailure = 500
)

// ModelInfo names a model and its sampling settings. A model list is the
// Cartesian product of (modelClients × temperatures); duplicates are not
// elided.
type ModelInfo struct {
	ModelName string                 `json:"modelName"`
	Settings  map[string]interface{} `json:"settings,omitempty"`
}

// Temperature reads the "temp" setting, defaulting to 0 when absent.
func (m ModelInfo) Temperature() float64 {
	if m.Settings == nil {
		return 0
	}
	if v, ok := m.Settings["temp"].(float64); ok {
		return v
	}
	return 0
}

// Step is the capability set every polymorphic step implements:
// name/type identity, an input-dict builder, and an executor that runs
// against its own (already-created) recorder.
type Step interface {
	StepName() string
	StepType() Type
	OutputFormat() OutputFormat
	// ModelInfo returns the model this step runs against, or nil for
	// composite steps that have no single model of their own.
	ModelInfo() *ModelInfo
	// InputDict returns this step's own serializable public fields. The
	// runtime merges in "example_list" when the owning recorder has
	// examples published under this step's name.
	InputDict() map[string]interface{}
	// Execute runs the step body against its own recorder, returning an
	// opaque, JSON-serializable output.
	Execute(ctx *ExecContext, rec *Recorder) (interface{}, error)
}

// Serialize renders an output value to its canonical byte form, used both
// for persistence and for the generator's structural-equality dedup (spec
// §3: "two outputs are structurally equal iff their serialized forms are
// byte-equal").
func Serialize(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// StepRecord is the append-only record persisted when a recorder
// finalizes, matching the step_record JSONL shape persisted to the trace store.
type StepRecord struct {
	TraceID      string                 `json:"traceId"`
	StepID       string                 `json:"stepId"`
	StepIndex    int64                  `json:"stepIndex"`
	StepName     string                 `json:"stepName"`
	StepType     Type                   `json:"stepType"`
	RootStepID   string                 `json:"rootStepId"`
	ParentStepID string                 `json:"parentStepId,omitempty"`
	ModelInfo    *ModelInfo             `json:"modelInfo,omitempty"`
	InputDict    map[string]interface{} `json:"inputDict"`
	OutputDict   map[string]interface{} `json:"outputDict,omitempty"`
	OutputFormat OutputFormat           `json:"outputFormat"`
	StartTime    time.Time              `json:"startTime"`
	EndTime      time.Time              `json:"endTime"`
	StatusCode   int                    `json:"statusCode"`
	ErrorList    []string               `json:"errorList,omitempty"`
	Cost         float64                `json:"cost"`
}

// EventType enumerates the kinds of event a step can log.
type EventType string

const (
	EventMessage        EventType = "message"
	EventException       EventType = "exception"
	EventPromptTemplate   EventType = "prompt_template"
	EventPromptResponse   EventType = "prompt_response"
)

// Event is one log_message/log_exception/log_prompt_template/
// log_prompt_response record.
type Event struct {
	EventID   string                 `json:"eventId"`
	TraceID   string                 `json:"traceId"`
	StepID    string                 `json:"stepId"`
	EventTime time.Time              `json:"eventTime"`
	EventType EventType              `json:"eventType"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// TraceInfo closes a trace when its root recorder finalizes.
type TraceInfo struct {
	TraceID             string    `json:"traceId"`
	TraceGroupID        string    `json:"traceGroupId,omitempty"`
	VariationOfTraceID  string    `json:"variationOfTraceId,omitempty"`
	Title               string    `json:"title,omitempty"`
	StartTime           time.Time `json:"startTime"`
	EndTime             time.Time `json:"endTime"`
	StatusCode          int       `json:"statusCode"`
	Cost                float64   `json:"cost"`
}

// ContestResult is one decided pairwise comparator contest within a
// ranker's round robin.
type ContestResult struct {
	Contestant1  string `json:"contestant1"`
	Contestant2  string `json:"contestant2"`
	Winner       string `json:"winner"`
	DissentCount int    `json:"dissentCount"`
}

// TourneyResult aggregates one ranker's contest results and final ordered
// contestant list, persisted as a tourney_result record.
type TourneyResult struct {
	TourneyResultID   string                 `json:"tourneyResultId"`
	StepID            string                 `json:"stepId"`
	TraceID           string                 `json:"traceId"`
	StepName          string                 `json:"stepName"`
	StartTime         time.Time              `json:"startTime"`
	InputData         map[string]interface{} `json:"inputData,omitempty"`
	NumberOfJudges    int                    `json:"numberOfJudges"`
	ContestantList    []string               `json:"contestantList"`
	ContestResultList []ContestResult        `json:"contestResultList"`
}

// Sink is the narrow interface the trace package implements to receive
// records as recorders finalize. Defined here (not in package trace) so
// step has no dependency on the persistence layer.
type Sink interface {
	RecordStep(StepRecord)
	RecordEvent(Event)
	RecordTourneyResult(TourneyResult)
	RecordTraceInfo(TraceInfo)
}

// NoOpSink discards every record. Useful for tests that only care about
// in-memory recorder state.
type NoOpSink struct{}

func (NoOpSink) RecordStep(StepRecord)                 {}
func (NoOpSink) RecordEvent(Event)                     {}
func (NoOpSink) RecordTourneyResult(TourneyResult)     {}
func (NoOpSink) RecordTraceInfo(TraceInfo)             {}
