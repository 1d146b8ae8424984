package tasks

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindModule     Kind = "module"
	KindListing    Kind = "listing"
	KindExtraction Kind = "extraction"
)

// Task describes one invocation of an engine module. It is built once and
// never mutated afterwards.
type Task struct {
	Name      string
	Help      string
	Kind      Kind
	Arguments []string
	// Flags[i], when non-empty, is emitted directly before Arguments[i].
	Flags     []string
	Timeout   time.Duration
	OutputDir string
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("task name is required")
	}
	if t.Timeout < 0 {
		return fmt.Errorf("task %s: negative timeout %s", t.Name, t.Timeout)
	}
	if len(t.Flags) > len(t.Arguments) {
		return fmt.Errorf("task %s: %d flags for %d arguments", t.Name, len(t.Flags), len(t.Arguments))
	}
	return nil
}

// EffectiveTimeout returns the task timeout, or def when the task has none.
func (t Task) EffectiveTimeout(def time.Duration) time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return def
}

// Label identifies the task in reports and output file names. Extraction
// tasks share a module name, so their first argument is folded in.
func (t Task) Label() string {
	if t.Kind == KindExtraction && len(t.Arguments) > 0 {
		return fmt.Sprintf("%s(%s)", t.Name, t.Arguments[0])
	}
	return t.Name
}

// CommandArgs interleaves flags with positional arguments, keeping order.
func (t Task) CommandArgs() []string {
	out := make([]string, 0, len(t.Arguments)+len(t.Flags))
	for i, a := range t.Arguments {
		if i < len(t.Flags) && t.Flags[i] != "" {
			out = append(out, t.Flags[i])
		}
		out = append(out, a)
	}
	return out
}
