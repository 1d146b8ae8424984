//go:build !windows

package engine

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const reapPollInterval = 5 * time.Millisecond

// processGroup places the engine in its own process group so the engine and
// everything it spawned can be signalled and waited for as one unit.
type processGroup struct {
	pgid int
}

func newProcessGroup() *processGroup { return &processGroup{} }

func (g *processGroup) prepare(cmd *exec.Cmd) {
	becomeSubreaper()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func (g *processGroup) attach(cmd *exec.Cmd) error {
	g.pgid = cmd.Process.Pid
	return nil
}

func (g *processGroup) kill() {
	if g.pgid > 0 {
		_ = unix.Kill(-g.pgid, unix.SIGKILL)
	}
}

// reap kills whatever is left in the group once the leader has been waited
// for and returns when no member remains. Members orphaned to this process
// are collected with wait4. It reports false if members outlive grace.
func (g *processGroup) reap(grace time.Duration) bool {
	if g.pgid <= 0 {
		return true
	}
	deadline := time.Now().Add(grace)
	for {
		if err := unix.Kill(-g.pgid, unix.SIGKILL); errors.Is(err, unix.ESRCH) {
			return true
		}
		for {
			var ws unix.WaitStatus
			pid, err := unix.Wait4(-g.pgid, &ws, unix.WNOHANG, nil)
			if err != nil || pid <= 0 {
				break
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(reapPollInterval)
	}
}

func (g *processGroup) close() {}
