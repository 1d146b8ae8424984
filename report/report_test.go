package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mem-sentinel/scheduler"
	"mem-sentinel/tasks"
)

func sampleSession() *scheduler.Session {
	mods := []tasks.Task{
		{Name: "pslist", Help: "Running processes"},
		{Name: "malfind", Help: "Injected code"},
		{Name: "netscan"},
		{Name: "dumpfiles", Kind: tasks.KindExtraction, Arguments: []string{"0x1000", "/out"}},
	}
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &scheduler.Session{
		ID:         "case-1",
		ImagePath:  "/cases/mem.raw",
		Profile:    "Win7SP1x64",
		Modules:    mods,
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Results: []tasks.Result{
			{Task: mods[0], Status: tasks.StatusSucceeded, Duration: time.Second, Stdout: "0x1 System\n"},
			{Task: mods[1], Status: tasks.StatusTimedOut, Duration: time.Minute, ExitCode: -1, Stdout: "partial\n" + strings.Repeat("A", 2000)},
			{Task: mods[2], Status: tasks.StatusFailed, Duration: time.Second, ExitCode: 1, Stderr: "ERROR: unsupported profile\nmore"},
			{Task: mods[3], Status: tasks.StatusEngineMissing, ExitCode: -1},
		},
	}
}

func TestSummarize(t *testing.T) {
	sum := New(afero.NewMemMapFs()).Summarize(sampleSession())

	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.TimedOut)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.EngineMissing)
	assert.False(t, sum.Clean)
	assert.Equal(t, int64(90000), sum.ElapsedMS)

	require.Len(t, sum.Lines, 4)
	assert.Empty(t, sum.Lines[0].Excerpt)
	assert.LessOrEqual(t, len(sum.Lines[1].Excerpt), DefaultExcerptBytes+3)
	assert.True(t, strings.HasPrefix(sum.Lines[1].Excerpt, "partial"))
	assert.True(t, strings.HasPrefix(sum.Lines[2].Excerpt, "ERROR: unsupported profile"))
	assert.Equal(t, "dumpfiles(0x1000)", sum.Lines[3].Module)
}

func TestSummarizeClean(t *testing.T) {
	s := sampleSession()
	s.Modules = s.Modules[:1]
	s.Results = s.Results[:1]
	assert.True(t, New(nil).Summarize(s).Clean)
}

func TestRenderText(t *testing.T) {
	var buf bytes.Buffer
	New(afero.NewMemMapFs()).RenderText(&buf, sampleSession())

	out := buf.String()
	for _, want := range []string{"pslist", "malfind", "timed_out", "engine_missing", "ERROR: unsupported profile", "clean=false"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "more")
}

func TestWriteMarkdownAndJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := New(fs)
	s := sampleSession()

	require.NoError(t, r.WriteMarkdown("/case/summary.md", s))
	b, err := afero.ReadFile(fs, "/case/summary.md")
	require.NoError(t, err)
	md := string(b)
	assert.Contains(t, md, "# pslist\n## Running processes")
	assert.Contains(t, md, "0x1 System")
	assert.Contains(t, md, "**timed_out**")

	require.NoError(t, r.WriteJSON("/case/report.json", r.Summarize(s)))
	b, err = afero.ReadFile(fs, "/case/report.json")
	require.NoError(t, err)
	var got Summary
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "case-1", got.CaseID)
	assert.Len(t, got.Lines, 4)
}
