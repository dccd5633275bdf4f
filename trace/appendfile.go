package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// appendFile is one JSONL stream: a buffered writer over an append-only
// file, flushed either immediately (trace_info) or on the store's 1s
// timer (steps/events/tourney_results). Not safe for concurrent use on
// its own — callers hold Store.mu.
type appendFile struct {
	file *os.File
	w    *bufio.Writer
}

func openAppendFile(path string) (*appendFile, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	return &appendFile{file: f, w: bufio.NewWriter(f)}, nil
}

// WriteJSON marshals v and appends it as one line. Marshal errors are
// written to stderr, not returned; the Store's sqlite insert for the same
// record, made right after this call, still runs.
func (a *appendFile) WriteJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trace: marshal record: %v\n", err)
		return
	}
	a.w.Write(data)
	a.w.WriteByte('\n')
}

func (a *appendFile) Flush() {
	if err := a.w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "trace: flush: %v\n", err)
	}
}

func (a *appendFile) Close() error {
	a.Flush()
	return a.file.Close()
}
