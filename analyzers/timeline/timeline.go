package timeline

import (
	"bufio"
	"encoding/json"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"mem-sentinel/tasks"
)

type Event struct {
	Time       string            `json:"time"`
	Type       string            `json:"type"`
	Module     string            `json:"module,omitempty"`
	Status     tasks.Status      `json:"status,omitempty"`
	DurationMS int64             `json:"duration_ms,omitempty"`
	ExitCode   *int              `json:"exit_code,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type Options struct {
	CaseID     string
	Image      string
	Profile    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Events orders the session start, one event per task result, and the
// session end.
func Events(results []tasks.Result, opts Options) []Event {
	started := opts.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	finished := opts.FinishedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}

	events := make([]Event, 0, len(results)+2)
	events = append(events, Event{
		Time: started.UTC().Format(time.RFC3339Nano),
		Type: "session_started",
		Metadata: map[string]string{
			"case_id": opts.CaseID,
			"image":   opts.Image,
			"profile": opts.Profile,
		},
	})

	failed := 0
	for _, r := range results {
		code := r.ExitCode
		ev := Event{
			Time:       r.StartedAt.Add(r.Duration).UTC().Format(time.RFC3339Nano),
			Type:       "task_finished",
			Module:     r.Task.Label(),
			Status:     r.Status,
			DurationMS: r.Duration.Milliseconds(),
			ExitCode:   &code,
		}
		if !r.Succeeded() {
			failed++
			if r.Err != nil {
				ev.Metadata = map[string]string{"error": r.Err.Error()}
			}
		}
		events = append(events, ev)
	}

	events = append(events, Event{
		Time: finished.UTC().Format(time.RFC3339Nano),
		Type: "session_finished",
		Metadata: map[string]string{
			"case_id": opts.CaseID,
			"tasks":   strconv.Itoa(len(results)),
			"failed":  strconv.Itoa(failed),
		},
	})
	return events
}

// WriteJSONL writes the session events to analysis/timeline.jsonl under
// outputDir and returns the relative path.
func WriteJSONL(fs afero.Fs, outputDir string, results []tasks.Result, opts Options) (string, error) {
	rel := filepath.ToSlash(filepath.Join("analysis", "timeline.jsonl"))
	path := filepath.Join(outputDir, rel)
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	f, err := fs.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, ev := range Events(results, opts) {
		if err := enc.Encode(ev); err != nil {
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return rel, nil
}
