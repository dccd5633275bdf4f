package step

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teburns/llmonpy/core"
)

// Recorder is the per-step trace object: it holds the
// trace id, a parent/root relation (weak — used for lookups and cost
// roll-up, never ownership), the step's own trace data, the example-map
// entry this step may publish, and (root only) the monotonic step-index
// counter.
type Recorder struct {
	traceID      string
	stepID       string
	stepIndex    int64
	stepName     string
	stepType     Type
	outputFormat OutputFormat
	modelInfo    *ModelInfo

	parent *Recorder
	root   *Recorder // self, when this recorder IS the root

	sink   Sink
	logger core.Logger

	mu         sync.Mutex
	examples   map[string][]interface{}
	cost       float64
	finalized  bool
	startTime  time.Time
	endTime    time.Time
	statusCode int
	inputDict  map[string]interface{}
	outputDict map[string]interface{}
	errorList  []string

	// Root-only fields. indexMu guards nextIndex; only the root recorder's
	// copy of these is ever consulted (invariant: "assigned at
	// recorder-creation time under a single lock in the root").
	indexMu   sync.Mutex
	nextIndex int64

	traceGroupID       string
	variationOfTraceID string
	title              string
}

// NewRoot creates the root recorder for a new trace. Its own stepIndex is
// 0; children allocate 1, 2, 3, … from its counter.
func NewRoot(traceID string, stepName string, stepType Type, outputFormat OutputFormat, sink Sink, logger core.Logger) *Recorder {
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	r := &Recorder{
		traceID:      traceID,
		stepID:       uuid.NewString(),
		stepIndex:    0,
		stepName:     stepName,
		stepType:     stepType,
		outputFormat: outputFormat,
		examples:     make(map[string][]interface{}),
		sink:         sink,
		logger:       logger,
		startTime:    time.Now(),
	}
	r.root = r
	return r
}

// CreateChild allocates a child recorder under r, assigning it the next
// monotonic step index from the root's counter.
func (r *Recorder) CreateChild(stepName string, stepType Type, outputFormat OutputFormat, modelInfo *ModelInfo) *Recorder {
	root := r.root
	root.indexMu.Lock()
	root.nextIndex++
	idx := root.nextIndex
	root.indexMu.Unlock()

	return &Recorder{
		traceID:      r.traceID,
		stepID:       uuid.NewString(),
		stepIndex:    idx,
		stepName:     stepName,
		stepType:     stepType,
		outputFormat: outputFormat,
		modelInfo:    modelInfo,
		parent:       r,
		root:         root,
		examples:     make(map[string][]interface{}),
		sink:         r.sink,
		logger:       r.logger,
		startTime:    time.Now(),
	}
}

// TraceID, StepID, StepIndex, StepName, StepType identify this recorder.
func (r *Recorder) TraceID() string   { return r.traceID }
func (r *Recorder) StepID() string    { return r.stepID }
func (r *Recorder) StepIndex() int64  { return r.stepIndex }
func (r *Recorder) StepName() string  { return r.stepName }
func (r *Recorder) StepType() Type    { return r.stepType }
func (r *Recorder) IsRoot() bool      { return r.parent == nil }
func (r *Recorder) Logger() core.Logger { return r.logger }

// ParentStepID returns "" for the root recorder.
func (r *Recorder) ParentStepID() string {
	if r.parent == nil {
		return ""
	}
	return r.parent.stepID
}

// SetTraceMetadata annotates the root recorder with the optional
// trace_info fields (traceGroupId, variationOfTraceId, title). A no-op on
// non-root recorders.
func (r *Recorder) SetTraceMetadata(traceGroupID, variationOfTraceID, title string) {
	if !r.IsRoot() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traceGroupID = traceGroupID
	r.variationOfTraceID = variationOfTraceID
	r.title = title
}

// GetStepExamples walks from r up through its ancestors until a recorder
// has published examples under name, returning the first match (fallback
// by lookup, never by copy — invariant 4).
func (r *Recorder) GetStepExamples(name string) []interface{} {
	for cur := r; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		list, ok := cur.examples[name]
		cur.mu.Unlock()
		if ok {
			return list
		}
	}
	return nil
}

// SetStepExamples publishes an example list under name on r itself.
// Publication must happen before any child step that reads it is
// dispatched; there is no concurrent writer once published, so readers
// never need to lock.
func (r *Recorder) SetStepExamples(name string, list []interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.examples[name] = list
}

// AddCost adds amount to r's own cost and rolls it up through every
// ancestor to the root (invariant 5), under each recorder's own lock so
// concurrent siblings' roll-ups never race.
func (r *Recorder) AddCost(amount float64) {
	if amount == 0 {
		return
	}
	for cur := r; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		cur.cost += amount
		cur.mu.Unlock()
	}
}

// Cost returns r's own accumulated cost, including descendant cost, which
// AddCost rolls up as soon as it is added.
func (r *Recorder) Cost() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cost
}

// LogMessage appends a "message" event.
func (r *Recorder) LogMessage(msg string, data map[string]interface{}) {
	r.sink.RecordEvent(Event{
		EventID:   uuid.NewString(),
		TraceID:   r.traceID,
		StepID:    r.stepID,
		EventTime: time.Now(),
		EventType: EventMessage,
		Message:   msg,
		Data:      data,
	})
}

// LogException appends an "exception" event.
func (r *Recorder) LogException(err error) {
	r.sink.RecordEvent(Event{
		EventID:   uuid.NewString(),
		TraceID:   r.traceID,
		StepID:    r.stepID,
		EventTime: time.Now(),
		EventType: EventException,
		Message:   err.Error(),
	})
}

// LogPromptTemplate appends a "prompt_template" event.
func (r *Recorder) LogPromptTemplate(rendered string) {
	r.sink.RecordEvent(Event{
		EventID:   uuid.NewString(),
		TraceID:   r.traceID,
		StepID:    r.stepID,
		EventTime: time.Now(),
		EventType: EventPromptTemplate,
		Message:   rendered,
	})
}

// LogPromptResponse appends a "prompt_response" event.
func (r *Recorder) LogPromptResponse(raw string) {
	r.sink.RecordEvent(Event{
		EventID:   uuid.NewString(),
		TraceID:   r.traceID,
		StepID:    r.stepID,
		EventTime: time.Now(),
		EventType: EventPromptResponse,
		Message:   raw,
	})
}

// CreateTourneyResult starts a new tourney result for a ranker step owned
// by r.
func (r *Recorder) CreateTourneyResult(inputData map[string]interface{}, numberOfJudges int) *TourneyResult {
	return &TourneyResult{
		TourneyResultID: uuid.NewString(),
		StepID:          r.stepID,
		TraceID:         r.traceID,
		StepName:        r.stepName,
		StartTime:       time.Now(),
		InputData:       inputData,
		NumberOfJudges:  numberOfJudges,
	}
}

// RecordTourneyResult persists a completed tourney result.
func (r *Recorder) RecordTourneyResult(tr *TourneyResult) {
	r.sink.RecordTourneyResult(*tr)
}

// Finish finalizes r exactly once (invariant 3): it records output/error
// state, emits the step record, and — for the root — emits the trace_info
// record closing the trace. Calling Finish a second time is a no-op that
// returns ErrRecorderFinalized.
func (r *Recorder) Finish(inputDict, outputDict map[string]interface{}, err error) error {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return core.ErrRecorderFinalized
	}
	r.finalized = true
	r.endTime = time.Now()
	r.inputDict = inputDict
	r.outputDict = outputDict
	if err != nil {
		r.statusCode = StatusFailure
		r.errorList = append(r.errorList, err.Error())
	} else {
		r.statusCode = StatusSuccess
	}
	cost := r.cost
	statusCode := r.statusCode
	errorList := append([]string(nil), r.errorList...)
	startTime, endTime := r.startTime, r.endTime
	isRoot := r.parent == nil
	traceGroupID, variationOfTraceID, title := r.traceGroupID, r.variationOfTraceID, r.title
	r.mu.Unlock()

	r.sink.RecordStep(StepRecord{
		TraceID:      r.traceID,
		StepID:       r.stepID,
		StepIndex:    r.stepIndex,
		StepName:     r.stepName,
		StepType:     r.stepType,
		RootStepID:   r.root.stepID,
		ParentStepID: r.ParentStepID(),
		ModelInfo:    r.modelInfo,
		InputDict:    inputDict,
		OutputDict:   outputDict,
		OutputFormat: r.outputFormat,
		StartTime:    startTime,
		EndTime:      endTime,
		StatusCode:   statusCode,
		ErrorList:    errorList,
		Cost:         cost,
	})

	if isRoot {
		r.sink.RecordTraceInfo(TraceInfo{
			TraceID:            r.traceID,
			TraceGroupID:       traceGroupID,
			VariationOfTraceID: variationOfTraceID,
			Title:              title,
			StartTime:          startTime,
			EndTime:            endTime,
			StatusCode:         statusCode,
			Cost:               cost,
		})
	}

	return nil
}
