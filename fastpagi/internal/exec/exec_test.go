package exec

import (
	"os"
	"syscall"
	"testing"
	"time"
)

func startShell(t *testing.T, script string) Process {
	t.Helper()

	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("missing /bin/sh")
	}

	proc, err := StartProcess([]string{"/bin/sh", "-c", script}, os.Environ(), []*os.File{nil, nil, os.Stderr})
	if err != nil {
		t.Fatal("failed to start:", err)
	}

	return proc
}

func TestSystemReaper(t *testing.T) {
	t.Run("exit 0", func(t *testing.T) {
		proc := startShell(t, "exit 0")

		status, ok := SystemReaper{}.Wait(proc.PID())
		if !ok {
			t.Fatal("failed to wait")
		}
		if status.PID != proc.PID() || status.Code != 0 || status.Signaled() {
			t.Errorf("unexpected status %+v", status)
		}

		if _, ok := (SystemReaper{}).Wait(proc.PID()); ok {
			t.Error("waited for a reaped process")
		}
	})

	t.Run("exit 3", func(t *testing.T) {
		proc := startShell(t, "exit 3")

		status, ok := SystemReaper{}.Wait(proc.PID())
		if !ok || status.Code != 3 {
			t.Errorf("unexpected status %+v", status)
		}
	})

	t.Run("killed", func(t *testing.T) {
		proc := startShell(t, "sleep 60")

		if err := proc.Kill(); err != nil {
			t.Fatal("failed to kill:", err)
		}

		status, ok := SystemReaper{}.Wait(proc.PID())
		if !ok || !status.Signaled() || status.Signal != syscall.SIGKILL {
			t.Errorf("unexpected status %+v", status)
		}
	})

	t.Run("reap", func(t *testing.T) {
		proc := startShell(t, "exit 7")

		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			status, ok := SystemReaper{}.Reap()
			if !ok {
				time.Sleep(time.Millisecond)
				continue
			}
			if status.PID != proc.PID() {
				continue
			}
			if status.Code != 7 {
				t.Errorf("unexpected status %+v", status)
			}
			return
		}

		t.Fatal("process was never reaped")
	})

	t.Run("empty argv", func(t *testing.T) {
		if _, err := StartProcess(nil, nil, nil); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestSleepProcesses(t *testing.T) {
	var procs SleepProcesses

	if _, ok := procs.Reap(); ok {
		t.Fatal("reaped from an empty table")
	}

	short := procs.Start(0)
	long := procs.Start(time.Hour)

	if short.PID() != 1 || long.PID() != 2 {
		t.Fatalf("unexpected pids %d, %d", short.PID(), long.PID())
	}

	status, ok := procs.Wait(short.PID())
	if !ok || status.Code != 0 || status.Signaled() {
		t.Fatalf("unexpected status %+v", status)
	}

	if procs.Exists(short.PID()) {
		t.Error("waited process still exists")
	}
	if !procs.Exists(long.PID()) {
		t.Error("idle process does not exist")
	}

	// Waited processes are not reaped again.
	if _, ok := procs.Reap(); ok {
		t.Error("reaped an already waited process")
	}

	if err := long.Kill(); err != nil {
		t.Fatal("failed to kill:", err)
	}

	status, ok = procs.Reap()
	if !ok || status.PID != long.PID() || status.Signal != syscall.SIGKILL {
		t.Fatalf("unexpected status %+v", status)
	}
	if !procs.Killed(long.PID()) {
		t.Error("killed process not reported as killed")
	}

	if _, ok := procs.Wait(long.PID()); ok {
		t.Error("waited for a reaped process")
	}
	if _, ok := procs.Wait(42); ok {
		t.Error("waited for an unknown process")
	}
}
