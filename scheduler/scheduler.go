// Package scheduler runs the ordered task list of an analysis session through
// the engine, converting every per-task failure into a recorded result.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"mem-sentinel/engine"
	"mem-sentinel/tasks"
)

type ProfileResolver interface {
	Resolve(ctx context.Context, explicit, executable, image string) (string, error)
}

type Scheduler struct {
	Engine   engine.Runner
	Profiles ProfileResolver
	Progress ProgressReporter
	Fs       afero.Fs
	// OnResult observes each result in scheduling order.
	OnResult func(tasks.Result)
	Log      *logrus.Entry
}

// Run resolves the session profile and then executes every module not yet
// holding a result. Only profile resolution failure, cancellation and invalid
// requests are returned as errors; task failures end up in sess.Results.
func (s *Scheduler) Run(ctx context.Context, sess *Session) error {
	log := s.logger().WithField("case", sess.ID)
	sess.StartedAt = time.Now().UTC()
	defer func() { sess.FinishedAt = time.Now().UTC() }()

	if sess.Profile == "" {
		if s.Profiles == nil {
			return fmt.Errorf("%w: no profile and no resolver", ErrInvalidSession)
		}
		p, err := s.Profiles.Resolve(ctx, "", sess.Config.Executable, sess.ImagePath)
		if err != nil {
			log.WithError(err).Error("profile resolution failed, aborting session")
			return err
		}
		sess.Profile = p
	}

	log.WithFields(logrus.Fields{
		"profile": sess.Profile,
		"tasks":   len(sess.Modules),
		"workers": sess.Config.Workers,
	}).Info("scheduling tasks")

	var err error
	if sess.Config.Workers > 1 {
		err = s.runConcurrent(ctx, sess)
	} else {
		err = s.runSequential(ctx, sess)
	}
	if err != nil {
		log.WithError(err).WithField("completed", len(sess.Results)).Warn("scheduling stopped early")
		return err
	}

	log.WithField("clean", sess.Clean()).Info("all tasks finished")
	return nil
}

func (s *Scheduler) runSequential(ctx context.Context, sess *Session) error {
	start := time.Now()
	for i := len(sess.Results); i < len(sess.Modules); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := s.runTask(ctx, sess, sess.Modules[i])
		if err != nil {
			return err
		}
		s.record(sess, i, res, start)
	}
	return nil
}

// runConcurrent caps engine processes at Workers and still appends results
// in scheduling order by holding back results that finish early.
func (s *Scheduler) runConcurrent(ctx context.Context, sess *Session) error {
	start := time.Now()
	offset := len(sess.Results)
	total := len(sess.Modules)
	finished := make([]*tasks.Result, total-offset)
	next := offset

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sess.Config.Workers)

	for i := offset; i < total; i++ {
		i := i // per-iteration copy (go < 1.22 loop-variable semantics)
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := s.runTask(gctx, sess, sess.Modules[i])
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			finished[i-offset] = &res
			for next < total && finished[next-offset] != nil {
				s.record(sess, next, *finished[next-offset], start)
				next++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Scheduler) runTask(ctx context.Context, sess *Session, task tasks.Task) (tasks.Result, error) {
	if task.OutputDir != "" {
		start := time.Now()
		if err := s.fs().MkdirAll(task.OutputDir, 0o755); err != nil {
			s.logger().WithError(err).WithField("module", task.Label()).Warn("output directory unavailable")
			return tasks.Result{
				Task:      task,
				Status:    tasks.StatusFailed,
				ExitCode:  -1,
				StartedAt: start.UTC(),
				Duration:  time.Since(start),
				Err:       fmt.Errorf("%w: %s: %v", tasks.ErrOutputDirectory, task.OutputDir, err),
			}, nil
		}
	}

	return s.Engine.Run(ctx, engine.Request{
		Executable: sess.Config.Executable,
		Image:      sess.ImagePath,
		Profile:    sess.Profile,
		Task:       task,
		Timeout:    task.EffectiveTimeout(sess.Config.DefaultTimeout),
	})
}

func (s *Scheduler) record(sess *Session, i int, res tasks.Result, start time.Time) {
	sess.Results = append(sess.Results, res)
	if s.OnResult != nil {
		s.OnResult(res)
	}
	s.progress().Report(Progress{
		Name:    res.Task.Label(),
		Index:   i + 1,
		Total:   len(sess.Modules),
		Elapsed: time.Since(start),
		Status:  res.Status,
	})
}

func (s *Scheduler) logger() *logrus.Entry {
	if s.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return s.Log
}

func (s *Scheduler) fs() afero.Fs {
	if s.Fs == nil {
		return afero.NewOsFs()
	}
	return s.Fs
}

func (s *Scheduler) progress() ProgressReporter {
	if s.Progress == nil {
		return nopProgress{}
	}
	return s.Progress
}
