// Package extraction turns requested memory offsets into engine tasks that
// carve file objects out of the image.
package extraction

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mem-sentinel/tasks"
)

const (
	DumpModule    = "dumpfiles"
	ListingModule = "filescan"
)

// BuildExtractionTasks returns one dump task per offset, in input order.
// The engine grammar is positional: the offset precedes the destination.
func BuildExtractionTasks(targets []uint64, outDir string) []tasks.Task {
	out := make([]tasks.Task, 0, len(targets))
	for _, off := range targets {
		out = append(out, tasks.Task{
			Name:      DumpModule,
			Help:      fmt.Sprintf("File object at physical offset %#x", off),
			Kind:      tasks.KindExtraction,
			Arguments: []string{FormatOffset(off), outDir},
			Flags:     []string{"-Q", "-D"},
			OutputDir: outDir,
		})
	}
	return out
}

type Pipeline struct {
	// Timeout overrides the session default for extraction tasks when set.
	Timeout time.Duration
}

// Plan returns the file listing task followed by the dump tasks. The listing
// is left out when existing already schedules it.
func (p Pipeline) Plan(targets []uint64, outDir string, existing []tasks.Task) []tasks.Task {
	if len(targets) == 0 {
		return nil
	}

	var plan []tasks.Task
	if !contains(existing, ListingModule) {
		plan = append(plan, tasks.Task{
			Name: ListingModule,
			Help: "File objects present in memory",
			Kind: tasks.KindListing,
		})
	}
	for _, t := range BuildExtractionTasks(targets, outDir) {
		t.Timeout = p.Timeout
		plan = append(plan, t)
	}
	return plan
}

func FormatOffset(off uint64) string {
	return fmt.Sprintf("%#x", off)
}

// ParseOffset accepts 0x-prefixed hex or plain decimal.
func ParseOffset(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty offset")
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	return v, nil
}

func ParseOffsets(in []string) ([]uint64, error) {
	out := make([]uint64, 0, len(in))
	for _, s := range in {
		v, err := ParseOffset(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func contains(ts []tasks.Task, name string) bool {
	for _, t := range ts {
		if t.Name == name {
			return true
		}
	}
	return false
}
