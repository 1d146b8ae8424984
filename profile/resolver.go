// Package profile determines the engine profile of a memory image, either
// trusting the caller or running the engine's own detection module.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"mem-sentinel/engine"
	"mem-sentinel/tasks"
)

const (
	DetectionModule         = "imageinfo"
	DefaultDetectionTimeout = 30 * time.Minute
)

var ErrDetectionFailed = errors.New("profile detection failed")

type Resolver struct {
	Engine  engine.Runner
	Timeout time.Duration
	Log     *logrus.Entry
}

func NewResolver(r engine.Runner, timeout time.Duration, log *logrus.Entry) *Resolver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if timeout <= 0 {
		timeout = DefaultDetectionTimeout
	}
	return &Resolver{Engine: r, Timeout: timeout, Log: log}
}

// Resolve returns explicit unchanged when set. Otherwise it runs detection
// and picks the engine's top-ranked suggestion.
func (r *Resolver) Resolve(ctx context.Context, explicit, executable, image string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	r.Log.WithField("image", image).Info("no profile given, running detection")
	res, err := r.Engine.Run(ctx, engine.Request{
		Executable: executable,
		Image:      image,
		Task:       tasks.Task{Name: DetectionModule, Kind: tasks.KindModule},
		Timeout:    r.Timeout,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDetectionFailed, err)
	}
	if !res.Succeeded() {
		return "", fmt.Errorf("%w: %s after %s: %s", ErrDetectionFailed, res.Status, res.Duration.Round(time.Millisecond), res.Excerpt(256))
	}

	p, ok := ParseSuggested(res.Stdout)
	if !ok {
		return "", fmt.Errorf("%w: no suggested profile in %s output", ErrDetectionFailed, DetectionModule)
	}
	r.Log.WithFields(logrus.Fields{
		"profile":    p,
		"candidates": Candidates(res.Stdout),
	}).Info("profile selected")
	return p, nil
}
