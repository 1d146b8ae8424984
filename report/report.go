// Package report renders the outcome of an analysis session.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"

	"mem-sentinel/evidence"
	"mem-sentinel/scheduler"
	"mem-sentinel/tasks"
)

const DefaultExcerptBytes = 512

type Line struct {
	Module     string       `json:"module"`
	Kind       tasks.Kind   `json:"kind"`
	Status     tasks.Status `json:"status"`
	DurationMS int64        `json:"duration_ms"`
	ExitCode   int          `json:"exit_code"`
	Truncated  bool         `json:"truncated,omitempty"`
	Excerpt    string       `json:"excerpt,omitempty"`
}

type Summary struct {
	CaseID        string `json:"case_id"`
	Image         string `json:"image"`
	Profile       string `json:"profile"`
	Total         int    `json:"total"`
	Succeeded     int    `json:"succeeded"`
	TimedOut      int    `json:"timed_out"`
	Failed        int    `json:"failed"`
	EngineMissing int    `json:"engine_missing"`
	Clean         bool   `json:"clean"`
	ElapsedMS     int64  `json:"elapsed_ms"`
	Lines         []Line `json:"results"`
}

type Reporter struct {
	Fs           afero.Fs
	ExcerptBytes int
}

func New(fs afero.Fs) Reporter {
	return Reporter{Fs: fs, ExcerptBytes: DefaultExcerptBytes}
}

func (r Reporter) Summarize(s *scheduler.Session) Summary {
	sum := Summary{
		CaseID:  s.ID,
		Image:   s.ImagePath,
		Profile: s.Profile,
		Total:   len(s.Results),
	}
	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		sum.ElapsedMS = s.FinishedAt.Sub(s.StartedAt).Milliseconds()
	}

	for _, res := range s.Results {
		l := Line{
			Module:     res.Task.Label(),
			Kind:       res.Task.Kind,
			Status:     res.Status,
			DurationMS: res.Duration.Milliseconds(),
			ExitCode:   res.ExitCode,
			Truncated:  res.StdoutTruncated || res.StderrTruncated,
		}
		switch res.Status {
		case tasks.StatusSucceeded:
			sum.Succeeded++
		case tasks.StatusTimedOut:
			sum.TimedOut++
		case tasks.StatusEngineMissing:
			sum.EngineMissing++
		default:
			sum.Failed++
		}
		if !res.Succeeded() {
			l.Excerpt = res.Excerpt(r.excerptBytes())
		}
		sum.Lines = append(sum.Lines, l)
	}
	sum.Clean = s.Clean()
	return sum
}

// RenderText prints one table row per result followed by the totals.
func (r Reporter) RenderText(w io.Writer, s *scheduler.Session) Summary {
	sum := r.Summarize(s)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Module", "Status", "Duration", "Detail"})
	table.SetAutoWrapText(false)
	for i, l := range sum.Lines {
		detail := strings.ReplaceAll(firstLine(l.Excerpt), "\t", " ")
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			l.Module,
			string(l.Status),
			(time.Duration(l.DurationMS) * time.Millisecond).String(),
			detail,
		})
	}
	table.Render()

	fmt.Fprintf(w, "case=%s profile=%s total=%d succeeded=%d timed_out=%d failed=%d engine_missing=%d clean=%t\n",
		sum.CaseID, sum.Profile, sum.Total, sum.Succeeded, sum.TimedOut, sum.Failed, sum.EngineMissing, sum.Clean)
	return sum
}

// WriteMarkdown writes a per-module document with each module's help text
// and captured output.
func (r Reporter) WriteMarkdown(path string, s *scheduler.Session) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Memory analysis %s\n\n", s.ID)
	fmt.Fprintf(&b, "- Image: `%s`\n- Profile: `%s`\n- Tasks: %d\n\n", s.ImagePath, s.Profile, len(s.Results))

	for _, res := range s.Results {
		fmt.Fprintf(&b, "# %s\n", res.Task.Label())
		if res.Task.Help != "" {
			fmt.Fprintf(&b, "## %s\n", res.Task.Help)
		}
		fmt.Fprintf(&b, "\nStatus: **%s** in %s\n\n", res.Status, res.Duration.Round(time.Millisecond))
		switch {
		case res.Succeeded() && strings.TrimSpace(res.Stdout) != "":
			fmt.Fprintf(&b, "```\n%s\n```\n\n", strings.TrimRight(res.Stdout, "\r\n"))
		case res.Succeeded():
			b.WriteString("*No data*\n\n")
		default:
			fmt.Fprintf(&b, "```\n%s\n```\n\n", res.Excerpt(r.excerptBytes()))
		}
	}
	return evidence.WriteFileAtomic(r.Fs, path, []byte(b.String()), 0o600)
}

func (r Reporter) WriteJSON(path string, sum Summary) error {
	b, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return err
	}
	return evidence.WriteFileAtomic(r.Fs, path, b, 0o600)
}

func (r Reporter) excerptBytes() int {
	if r.ExcerptBytes <= 0 {
		return DefaultExcerptBytes
	}
	return r.ExcerptBytes
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}
