// Package trace implements the trace service: three append-only JSONL
// streams (steps, events, tourney results) plus a trace_info record closing
// each trace, backed by a relational index for lookups keyed by traceId,
// stepId, stepName, and tourneyResultId.
package trace

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teburns/llmonpy/step"
)

// flushInterval is the timer-driven batching period for non-terminal
// writes.
const flushInterval = time.Second

// Store is the append-only trace sink: it implements step.Sink, writing
// every record to both a JSONL file and a sqlite index under one write
// lock, batching the flush rather than fsyncing per record.
type Store struct {
	db *sql.DB

	mu         sync.Mutex
	steps      *appendFile
	events     *appendFile
	tourneys   *appendFile
	traceInfos *appendFile

	stopCh chan struct{}
	done   chan struct{}
}

// Open creates (or reuses) dataDir's trace_store.db and JSONL files,
// initializing the relational schema.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("trace: create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "trace_store.db"))
	if err != nil {
		return nil, fmt.Errorf("trace: open sqlite: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	steps, err := openAppendFile(filepath.Join(dataDir, "steps.jsonl"))
	if err != nil {
		db.Close()
		return nil, err
	}
	events, err := openAppendFile(filepath.Join(dataDir, "events.jsonl"))
	if err != nil {
		db.Close()
		steps.Close()
		return nil, err
	}
	tourneys, err := openAppendFile(filepath.Join(dataDir, "tourney_results.jsonl"))
	if err != nil {
		db.Close()
		steps.Close()
		events.Close()
		return nil, err
	}
	traceInfos, err := openAppendFile(filepath.Join(dataDir, "trace_info.jsonl"))
	if err != nil {
		db.Close()
		steps.Close()
		events.Close()
		tourneys.Close()
		return nil, err
	}

	s := &Store{
		db:         db,
		steps:      steps,
		events:     events,
		tourneys:   tourneys,
		traceInfos: traceInfos,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS steps (
		step_id TEXT PRIMARY KEY,
		trace_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		step_name TEXT NOT NULL,
		step_type TEXT NOT NULL,
		root_step_id TEXT NOT NULL,
		parent_step_id TEXT,
		model_info_json TEXT,
		input_dict_json TEXT,
		output_dict_json TEXT,
		output_format TEXT,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		status_code INTEGER NOT NULL,
		error_list_json TEXT,
		cost REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_steps_trace_id ON steps(trace_id);
	CREATE INDEX IF NOT EXISTS idx_steps_step_name ON steps(step_name);

	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		trace_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		event_time INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		message TEXT,
		data_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_step_id ON events(step_id);
	CREATE INDEX IF NOT EXISTS idx_events_trace_id ON events(trace_id);

	CREATE TABLE IF NOT EXISTS tourney_results (
		tourney_result_id TEXT PRIMARY KEY,
		step_id TEXT NOT NULL,
		trace_id TEXT NOT NULL,
		step_name TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		input_data_json TEXT,
		number_of_judges INTEGER NOT NULL,
		contestant_list_json TEXT,
		contest_result_list_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tourney_step_name ON tourney_results(step_name);
	CREATE INDEX IF NOT EXISTS idx_tourney_trace_id ON tourney_results(trace_id);

	CREATE TABLE IF NOT EXISTS trace_info (
		trace_id TEXT PRIMARY KEY,
		trace_group_id TEXT,
		variation_of_trace_id TEXT,
		title TEXT,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		status_code INTEGER NOT NULL,
		cost REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trace_info_group ON trace_info(trace_group_id);
	`
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("trace: init schema: %w", err)
	}
	return nil
}

// RecordStep appends a step_record: JSONL line plus a steps row.
func (s *Store) RecordStep(r step.StepRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.steps.WriteJSON(r)

	modelInfoJSON, _ := json.Marshal(r.ModelInfo)
	inputJSON, _ := json.Marshal(r.InputDict)
	outputJSON, _ := json.Marshal(r.OutputDict)
	errorsJSON, _ := json.Marshal(r.ErrorList)

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO steps (
			step_id, trace_id, step_index, step_name, step_type, root_step_id,
			parent_step_id, model_info_json, input_dict_json, output_dict_json,
			output_format, start_time, end_time, status_code, error_list_json, cost
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.StepID, r.TraceID, r.StepIndex, r.StepName, string(r.StepType), r.RootStepID,
		nullable(r.ParentStepID), string(modelInfoJSON), string(inputJSON), string(outputJSON),
		string(r.OutputFormat), r.StartTime.UnixNano(), r.EndTime.UnixNano(), r.StatusCode,
		string(errorsJSON), r.Cost,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trace: insert step %s: %v\n", r.StepID, err)
	}
}

// RecordEvent appends an event: JSONL line plus an events row.
func (s *Store) RecordEvent(e step.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events.WriteJSON(e)

	dataJSON, _ := json.Marshal(e.Data)
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO events (event_id, trace_id, step_id, event_time, event_type, message, data_json)
		 VALUES (?,?,?,?,?,?,?)`,
		e.EventID, e.TraceID, e.StepID, e.EventTime.UnixNano(), string(e.EventType), e.Message, string(dataJSON),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trace: insert event %s: %v\n", e.EventID, err)
	}
}

// RecordTourneyResult appends a tourney_result: JSONL line plus a
// tourney_results row.
func (s *Store) RecordTourneyResult(tr step.TourneyResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tourneys.WriteJSON(tr)

	inputJSON, _ := json.Marshal(tr.InputData)
	contestantsJSON, _ := json.Marshal(tr.ContestantList)
	contestsJSON, _ := json.Marshal(tr.ContestResultList)

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO tourney_results (
			tourney_result_id, step_id, trace_id, step_name, start_time,
			input_data_json, number_of_judges, contestant_list_json, contest_result_list_json
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		tr.TourneyResultID, tr.StepID, tr.TraceID, tr.StepName, tr.StartTime.UnixNano(),
		string(inputJSON), tr.NumberOfJudges, string(contestantsJSON), string(contestsJSON),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trace: insert tourney result %s: %v\n", tr.TourneyResultID, err)
	}
}

// RecordTraceInfo appends a trace_info record and flushes immediately,
// since it closes a trace — unlike the other three streams, which batch.
func (s *Store) RecordTraceInfo(ti step.TraceInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.traceInfos.WriteJSON(ti)
	s.traceInfos.Flush()
	s.steps.Flush()
	s.events.Flush()
	s.tourneys.Flush()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO trace_info (
			trace_id, trace_group_id, variation_of_trace_id, title,
			start_time, end_time, status_code, cost
		) VALUES (?,?,?,?,?,?,?,?)`,
		ti.TraceID, nullable(ti.TraceGroupID), nullable(ti.VariationOfTraceID), nullable(ti.Title),
		ti.StartTime.UnixNano(), ti.EndTime.UnixNano(), ti.StatusCode, ti.Cost,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trace: insert trace_info %s: %v\n", ti.TraceID, err)
	}
}

// flushLoop batches steps/events/tourney_results flushes once per second.
// trace_info flushes immediately on its own.
func (s *Store) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.steps.Flush()
			s.events.Flush()
			s.tourneys.Flush()
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Vacuum reclaims space freed by the INSERT OR REPLACE churn on long-lived
// traces. Safe to run while the store is in active use; meant to be called
// periodically (see cmd/llmonpyd's maintenance schedule), not per-request.
func (s *Store) Vacuum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("trace: vacuum: %w", err)
	}
	return nil
}

// Close stops the flush loop, flushes every buffer, and closes the
// sqlite handle and JSONL files.
func (s *Store) Close() error {
	close(s.stopCh)
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps.Flush()
	s.events.Flush()
	s.tourneys.Flush()
	s.traceInfos.Flush()

	var firstErr error
	for _, f := range []*appendFile{s.steps, s.events, s.tourneys, s.traceInfos} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

var _ step.Sink = (*Store)(nil)
