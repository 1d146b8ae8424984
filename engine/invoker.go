// Package engine runs single modules of the external analysis engine under a
// wall-clock budget and classifies the outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mem-sentinel/tasks"
)

var ErrInvalidTimeout = errors.New("engine: timeout must be positive")

// DefaultKillGrace bounds how long a killed process may take to release its
// output pipes before Run gives up on them.
const DefaultKillGrace = 5 * time.Second

// Runner is implemented by Invoker and by test doubles.
type Runner interface {
	Run(ctx context.Context, req Request) (tasks.Result, error)
}

type Request struct {
	Executable string
	Image      string
	// Profile is omitted from the command line when empty.
	Profile string
	Task    tasks.Task
	Timeout time.Duration
}

// Args returns the engine command line without the executable.
func (r Request) Args() []string {
	args := []string{"-f", r.Image}
	if r.Profile != "" {
		args = append(args, "--profile="+r.Profile)
	}
	args = append(args, r.Task.Name)
	return append(args, r.Task.CommandArgs()...)
}

type Invoker struct {
	Log       *logrus.Entry
	MaxOutput int
	KillGrace time.Duration
}

func NewInvoker(log *logrus.Entry) *Invoker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Invoker{Log: log, MaxOutput: tasks.MaxCapturedOutput, KillGrace: DefaultKillGrace}
}

// Run spawns one engine process for req and returns once that process and
// its process group are gone. Subprocess failures are reported through the
// result status; the error return is reserved for invalid requests.
func (i *Invoker) Run(ctx context.Context, req Request) (tasks.Result, error) {
	if req.Timeout <= 0 {
		return tasks.Result{}, fmt.Errorf("%w: got %s for %s", ErrInvalidTimeout, req.Timeout, req.Task.Name)
	}

	log := i.logger().WithFields(logrus.Fields{
		"module":  req.Task.Label(),
		"timeout": req.Timeout.String(),
	})

	res := tasks.Result{Task: req.Task, StartedAt: time.Now().UTC(), ExitCode: -1}
	start := time.Now()

	path, err := exec.LookPath(req.Executable)
	if err != nil {
		res.Status = tasks.StatusEngineMissing
		res.Err = err
		res.Duration = time.Since(start)
		log.WithError(err).Warn("engine executable not found")
		return res, nil
	}

	limit := i.MaxOutput
	if limit <= 0 {
		limit = tasks.MaxCapturedOutput
	}
	stdout := newCappedBuffer(limit)
	stderr := newCappedBuffer(limit)

	cmd := exec.Command(path, req.Args()...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = i.killGrace()
	group := newProcessGroup()
	defer group.close()
	group.prepare(cmd)

	log.WithField("args", strings.Join(req.Args(), " ")).Debug("starting engine")
	if err := cmd.Start(); err != nil {
		res.Status = tasks.StatusEngineMissing
		res.Err = err
		res.Duration = time.Since(start)
		log.WithError(err).Warn("engine could not be started")
		return res, nil
	}
	if err := group.attach(cmd); err != nil {
		log.WithError(err).Warn("engine descendants cannot be tracked")
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	var waitErr error
	var timedOut bool
	var cancelled error
	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		group.kill()
		waitErr = <-done
	case <-ctx.Done():
		cancelled = ctx.Err()
		group.kill()
		waitErr = <-done
	}
	// Descendants may still hold the image open after the leader exited.
	// Run does not return until they are gone.
	if !group.reap(i.killGrace()) {
		log.WithField("grace", i.killGrace().String()).Error("engine descendants survived the kill")
	}

	res.Duration = time.Since(start)
	res.Stdout, res.StdoutTruncated = stdout.result()
	res.Stderr, res.StderrTruncated = stderr.result()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	// The leader exited zero on its own, before any kill; a straggler
	// holding its pipes does not change that.
	leaderClean := cmd.ProcessState != nil && cmd.ProcessState.Exited() && res.ExitCode == 0
	if leaderClean && errors.Is(waitErr, exec.ErrWaitDelay) {
		waitErr = nil
	}

	switch {
	case timedOut && !leaderClean:
		res.Status = tasks.StatusTimedOut
		res.Err = fmt.Errorf("module %s exceeded %s", req.Task.Name, req.Timeout)
		log.WithField("duration", res.Duration.String()).Error("engine timed out")
	case cancelled != nil && !leaderClean:
		res.Status = tasks.StatusFailed
		res.Err = cancelled
		log.WithError(cancelled).Warn("engine run cancelled")
	case waitErr != nil:
		res.Status = tasks.StatusFailed
		res.Err = waitErr
		log.WithError(waitErr).WithField("exit_code", res.ExitCode).Warn("engine failed")
	default:
		res.Status = tasks.StatusSucceeded
		log.WithField("duration", res.Duration.String()).Debug("engine finished")
	}
	return res, nil
}

func (i *Invoker) logger() *logrus.Entry {
	if i.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return i.Log
}

func (i *Invoker) killGrace() time.Duration {
	if i.KillGrace <= 0 {
		return DefaultKillGrace
	}
	return i.KillGrace
}
