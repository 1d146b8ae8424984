package tasks

import (
	"errors"
	"strings"
	"time"
)

type Status string

const (
	StatusSucceeded     Status = "succeeded"
	StatusTimedOut      Status = "timed_out"
	StatusFailed        Status = "failed"
	StatusEngineMissing Status = "engine_missing"
)

// MaxCapturedOutput caps each captured stream of a task.
const MaxCapturedOutput = 1 << 20

var ErrOutputDirectory = errors.New("output directory unavailable")

// Result is the outcome of running exactly one Task.
type Result struct {
	Task            Task
	Status          Status
	ExitCode        int
	StartedAt       time.Time
	Duration        time.Duration
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	Err             error
}

func (r Result) Succeeded() bool { return r.Status == StatusSucceeded }

// Excerpt returns at most n bytes of diagnostic output: stderr when present,
// stdout otherwise, falling back to the recorded error.
func (r Result) Excerpt(n int) string {
	text := strings.TrimSpace(r.Stderr)
	if text == "" {
		text = strings.TrimSpace(r.Stdout)
	}
	if text == "" && r.Err != nil {
		text = r.Err.Error()
	}
	if n > 0 && len(text) > n {
		text = strings.ToValidUTF8(text[:n], "") + "..."
	}
	return text
}
