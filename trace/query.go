package trace

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teburns/llmonpy/step"
)

// These read accessors back an admin/inspection surface (out of scope to
// serve here), which is why the index is relational rather than JSONL-only.

// GetTraceList returns up to limit recorded trace_info rows (100 when
// limit <= 0), most recent first.
func (s *Store) GetTraceList(limit int) ([]step.TraceInfo, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT trace_id, trace_group_id, variation_of_trace_id, title, start_time, end_time, status_code, cost
		 FROM trace_info ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("trace: query trace list: %w", err)
	}
	defer rows.Close()

	var out []step.TraceInfo
	for rows.Next() {
		var ti step.TraceInfo
		var groupID, variationOf, title *string
		var start, end int64
		if err := rows.Scan(&ti.TraceID, &groupID, &variationOf, &title, &start, &end, &ti.StatusCode, &ti.Cost); err != nil {
			return nil, fmt.Errorf("trace: scan trace_info: %w", err)
		}
		ti.TraceGroupID = derefString(groupID)
		ti.VariationOfTraceID = derefString(variationOf)
		ti.Title = derefString(title)
		ti.StartTime = time.Unix(0, start)
		ti.EndTime = time.Unix(0, end)
		out = append(out, ti)
	}
	return out, rows.Err()
}

// GetCompleteTraceByID returns every step_record sharing traceID, ordered
// by stepIndex — the full transitive closure of a trace.
func (s *Store) GetCompleteTraceByID(traceID string) ([]step.StepRecord, error) {
	rows, err := s.db.Query(
		`SELECT step_id, trace_id, step_index, step_name, step_type, root_step_id, parent_step_id,
		        model_info_json, input_dict_json, output_dict_json, output_format,
		        start_time, end_time, status_code, error_list_json, cost
		 FROM steps WHERE trace_id = ? ORDER BY step_index ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("trace: query trace %s: %w", traceID, err)
	}
	defer rows.Close()

	var out []step.StepRecord
	for rows.Next() {
		r, err := scanStepRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scannableRow interface {
	Scan(dest ...interface{}) error
}

func scanStepRecord(rows scannableRow) (step.StepRecord, error) {
	var r step.StepRecord
	var parentStepID *string
	var modelInfoJSON, inputJSON, outputJSON, errorsJSON string
	var stepType, outputFormat string
	var start, end int64

	if err := rows.Scan(
		&r.StepID, &r.TraceID, &r.StepIndex, &r.StepName, &stepType, &r.RootStepID, &parentStepID,
		&modelInfoJSON, &inputJSON, &outputJSON, &outputFormat, &start, &end, &r.StatusCode, &errorsJSON, &r.Cost,
	); err != nil {
		return r, fmt.Errorf("trace: scan step record: %w", err)
	}

	r.StepType = step.Type(stepType)
	r.OutputFormat = step.OutputFormat(outputFormat)
	r.ParentStepID = derefString(parentStepID)
	r.StartTime = time.Unix(0, start)
	r.EndTime = time.Unix(0, end)

	if modelInfoJSON != "" && modelInfoJSON != "null" {
		var mi step.ModelInfo
		if err := json.Unmarshal([]byte(modelInfoJSON), &mi); err == nil {
			r.ModelInfo = &mi
		}
	}
	json.Unmarshal([]byte(inputJSON), &r.InputDict)
	json.Unmarshal([]byte(outputJSON), &r.OutputDict)
	json.Unmarshal([]byte(errorsJSON), &r.ErrorList)

	return r, nil
}

// GetTourneyStepNameList returns the distinct stepNames that have ever
// produced a tourney_result.
func (s *Store) GetTourneyStepNameList() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT step_name FROM tourney_results ORDER BY step_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("trace: query tourney step names: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// GetTourneyResultsForStepName returns every tourney_result recorded for
// a given stepName, most recent first.
func (s *Store) GetTourneyResultsForStepName(stepName string) ([]step.TourneyResult, error) {
	rows, err := s.db.Query(
		`SELECT tourney_result_id, step_id, trace_id, step_name, start_time,
		        input_data_json, number_of_judges, contestant_list_json, contest_result_list_json
		 FROM tourney_results WHERE step_name = ? ORDER BY start_time DESC`, stepName)
	if err != nil {
		return nil, fmt.Errorf("trace: query tourney results for %s: %w", stepName, err)
	}
	defer rows.Close()

	var out []step.TourneyResult
	for rows.Next() {
		var tr step.TourneyResult
		var start int64
		var inputJSON, contestantsJSON, contestsJSON string
		if err := rows.Scan(&tr.TourneyResultID, &tr.StepID, &tr.TraceID, &tr.StepName, &start,
			&inputJSON, &tr.NumberOfJudges, &contestantsJSON, &contestsJSON); err != nil {
			return nil, fmt.Errorf("trace: scan tourney result: %w", err)
		}
		tr.StartTime = time.Unix(0, start)
		json.Unmarshal([]byte(inputJSON), &tr.InputData)
		json.Unmarshal([]byte(contestantsJSON), &tr.ContestantList)
		json.Unmarshal([]byte(contestsJSON), &tr.ContestResultList)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// GetEventsForStep returns every event recorded against stepID, oldest
// first.
func (s *Store) GetEventsForStep(stepID string) ([]step.Event, error) {
	rows, err := s.db.Query(
		`SELECT event_id, trace_id, step_id, event_time, event_type, message, data_json
		 FROM events WHERE step_id = ? ORDER BY event_time ASC`, stepID)
	if err != nil {
		return nil, fmt.Errorf("trace: query events for %s: %w", stepID, err)
	}
	defer rows.Close()

	var out []step.Event
	for rows.Next() {
		var e step.Event
		var eventTime int64
		var eventType, dataJSON string
		if err := rows.Scan(&e.EventID, &e.TraceID, &e.StepID, &eventTime, &eventType, &e.Message, &dataJSON); err != nil {
			return nil, fmt.Errorf("trace: scan event: %w", err)
		}
		e.EventType = step.EventType(eventType)
		e.EventTime = time.Unix(0, eventTime)
		json.Unmarshal([]byte(dataJSON), &e.Data)
		out = append(out, e)
	}
	return out, rows.Err()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
