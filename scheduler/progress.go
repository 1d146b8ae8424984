package scheduler

import (
	"time"

	"github.com/sirupsen/logrus"

	"mem-sentinel/tasks"
)

// Progress is an advisory notification emitted after each task.
type Progress struct {
	Name    string
	Index   int
	Total   int
	Elapsed time.Duration
	Status  tasks.Status
}

type ProgressReporter interface {
	Report(p Progress)
}

type LogProgress struct {
	Log *logrus.Entry
}

func (l LogProgress) Report(p Progress) {
	entry := l.Log
	if entry == nil {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}
	entry.WithFields(logrus.Fields{
		"module":  p.Name,
		"status":  p.Status,
		"elapsed": p.Elapsed.Round(time.Millisecond).String(),
	}).Infof("[%d/%d] %s", p.Index, p.Total, p.Name)
}

type nopProgress struct{}

func (nopProgress) Report(Progress) {}
