package exec

import (
	"sync"
	"syscall"
	"time"
)

// SleepProcesses is an in-memory process table of idle processes. It is used
// for testing. A zero-value instance is a valid instance.
type SleepProcesses struct {
	mutex   sync.Mutex
	nextPID int
	procs   map[int]*sleepProcess
	exited  []int // exited but not yet reaped
}

var _ Reaper = (*SleepProcesses)(nil)

type sleepProcess struct {
	table *SleepProcesses
	pid   int
	timer *time.Timer

	exit   *ExitStatus
	reaped bool
	done   chan struct{}
}

// Start creates a process that idles for dura before exiting with status 0,
// unless it is signaled first. Pids start at 1.
func (t *SleepProcesses) Start(dura time.Duration) Process {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.procs == nil {
		t.procs = make(map[int]*sleepProcess)
	}

	t.nextPID++
	proc := &sleepProcess{
		table: t,
		pid:   t.nextPID,
		done:  make(chan struct{}),
	}
	t.procs[proc.pid] = proc

	proc.timer = time.AfterFunc(dura, func() {
		t.exit(proc, ExitStatus{PID: proc.pid, Code: 0})
	})

	return proc
}

// Exists returns true if the process has not been reaped yet.
func (t *SleepProcesses) Exists(pid int) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	proc, ok := t.procs[pid]
	return ok && !proc.reaped
}

// Killed returns true if the process was terminated by a signal.
func (t *SleepProcesses) Killed(pid int) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	proc, ok := t.procs[pid]
	return ok && proc.exit != nil && proc.exit.Signaled()
}

func (t *SleepProcesses) exit(proc *sleepProcess, status ExitStatus) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if proc.exit != nil {
		return
	}

	proc.exit = &status
	proc.timer.Stop()
	close(proc.done)
	t.exited = append(t.exited, proc.pid)
}

// Reap implements Reaper.
func (t *SleepProcesses) Reap() (ExitStatus, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for len(t.exited) > 0 {
		pid := t.exited[0]
		t.exited = t.exited[1:]

		proc := t.procs[pid]
		if proc.reaped {
			continue
		}

		proc.reaped = true
		return *proc.exit, true
	}

	return ExitStatus{}, false
}

// Wait implements Reaper.
func (t *SleepProcesses) Wait(pid int) (ExitStatus, bool) {
	t.mutex.Lock()
	proc, ok := t.procs[pid]
	t.mutex.Unlock()

	if !ok {
		return ExitStatus{}, false
	}

	<-proc.done

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if proc.reaped {
		return ExitStatus{}, false
	}

	proc.reaped = true
	return *proc.exit, true
}

func (proc *sleepProcess) PID() int { return proc.pid }

// Kill terminates the process as if by SIGKILL.
func (proc *sleepProcess) Kill() error {
	proc.table.exit(proc, ExitStatus{PID: proc.pid, Code: -1, Signal: syscall.SIGKILL})
	return nil
}
