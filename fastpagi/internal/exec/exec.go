// Package exec provides an abstraction around process creation and reaping
// for easier testing.
package exec

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Process describes a started worker process.
type Process interface {
	PID() int
	Kill() error
}

// ExitStatus is a process' exit status.
type ExitStatus struct {
	PID    int
	Code   int // -1 if killed by a signal
	Signal syscall.Signal
}

// Signaled returns true if the process was terminated by a signal.
func (s ExitStatus) Signaled() bool {
	return s.Code == -1
}

// Reaper collects exit statuses of child processes.
type Reaper interface {
	// Reap collects one exited child without blocking. It returns false if no
	// child has exited.
	Reap() (ExitStatus, bool)
	// Wait blocks until the given child exits. It returns false if the child
	// is unknown or was already reaped.
	Wait(pid int) (ExitStatus, bool)
}

type process struct {
	pid int
}

var _ Process = process{}

// StartProcess starts argv as a child process with the given environment and
// file descriptors. The child is only tracked by its pid: it must be reaped
// through SystemReaper, never through os.Process.
func StartProcess(argv, env []string, files []*os.File) (Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty argv")
	}

	p, err := os.StartProcess(argv[0], argv, &os.ProcAttr{
		Env:   env,
		Files: files,
		// Linux-only: workers die with the supervisor even if it is SIGKILLed
		// and cannot clean up.
		Sys: &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL},
	})
	if err != nil {
		return nil, err
	}

	pid := p.Pid
	p.Release()

	return process{pid}, nil
}

func (proc process) PID() int {
	return proc.pid
}

func (proc process) Kill() error {
	return unix.Kill(proc.pid, unix.SIGKILL)
}

// SystemReaper reaps real child processes with wait4(2).
type SystemReaper struct{}

var _ Reaper = SystemReaper{}

// Reap calls wait4(-1, WNOHANG) once.
func (SystemReaper) Reap() (ExitStatus, bool) {
	for {
		var ws unix.WaitStatus

		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		// ECHILD means there are no children at all.
		if err != nil || pid <= 0 {
			return ExitStatus{}, false
		}

		return exitStatus(pid, ws), true
	}
}

// Wait calls wait4(pid, 0) until the child exits.
func (SystemReaper) Wait(pid int) (ExitStatus, bool) {
	for {
		var ws unix.WaitStatus

		wpid, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil || wpid != pid {
			return ExitStatus{}, false
		}

		// Stopped and continued children are still alive.
		if !ws.Exited() && !ws.Signaled() {
			continue
		}

		return exitStatus(pid, ws), true
	}
}

func exitStatus(pid int, ws unix.WaitStatus) ExitStatus {
	if ws.Signaled() {
		return ExitStatus{PID: pid, Code: -1, Signal: ws.Signal()}
	}
	return ExitStatus{PID: pid, Code: ws.ExitStatus()}
}
