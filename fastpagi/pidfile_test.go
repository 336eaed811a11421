package fastpagi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func assertPid(t *testing.T, path string, expect int) {
	t.Helper()

	pid, err := ReadPidFile(path)
	if err != nil {
		t.Fatal("failed to read pidfile:", err)
	}
	if pid != expect {
		t.Fatalf("pidfile holds %d, expected %d", pid, expect)
	}
}

func assertLocked(t *testing.T, path string, expect bool) {
	t.Helper()

	locked, err := PidFileLocked(path)
	if err != nil {
		t.Fatal("failed to probe lock:", err)
	}
	if locked != expect {
		t.Fatalf("pidfile locked = %v, expected %v", locked, expect)
	}
}

func TestPidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fastpagi.pid")

	p, err := acquirePidFile(path, 1234)
	if err != nil {
		t.Fatal("failed to acquire:", err)
	}
	if p.Path() != path || p.PID() != 1234 {
		t.Fatalf("unexpected pidfile %s %d", p.Path(), p.PID())
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "1234\n" {
		t.Errorf("unexpected content %q", b)
	}

	assertPid(t, path, 1234)
	assertLocked(t, path, true)

	_, err = acquirePidFile(path, 5678)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatal("expected ErrAlreadyRunning, got", err)
	}

	var runErr *AlreadyRunningError
	if !errors.As(err, &runErr) || runErr.PID != 1234 || runErr.Path != path {
		t.Errorf("unexpected error %#v", err)
	}

	// The loser must not touch the winner's file.
	assertPid(t, path, 1234)

	if err := p.Release(); err != nil {
		t.Fatal("failed to release:", err)
	}
	if err := p.Release(); err != nil {
		t.Fatal("second release failed:", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("pidfile still exists:", err)
	}
	assertLocked(t, path, false)

	// The path is free again.
	p, err = AcquirePidFile(path)
	if err != nil {
		t.Fatal("failed to reacquire:", err)
	}
	if p.PID() != os.Getpid() {
		t.Errorf("pidfile holds %d, expected own pid", p.PID())
	}
	p.Release()
}

func TestPidFileStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fastpagi.pid")

	if err := os.WriteFile(path, []byte("99999\n"), 0644); err != nil {
		t.Fatal(err)
	}

	assertLocked(t, path, false)
}

func TestPidFileReleaseMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fastpagi.pid")

	p, err := acquirePidFile(path, 1)
	if err != nil {
		t.Fatal("failed to acquire:", err)
	}

	os.Remove(path)

	if err := p.Release(); err != nil {
		t.Error("release of a missing pidfile failed:", err)
	}
}

func TestPidFileUnwritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "fastpagi.pid")

	if _, err := AcquirePidFile(path); !errors.Is(err, ErrIO) {
		t.Error("expected ErrIO, got", err)
	}
}

func TestReadPidFileInvalid(t *testing.T) {
	tests := map[string]string{
		"empty":    "",
		"garbage":  "fastpagi\n",
		"zero":     "0\n",
		"negative": "-5\n",
		"float":    "12.5\n",
	}

	dir := t.TempDir()

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".pid")
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}

			if _, err := ReadPidFile(path); !errors.Is(err, ErrInvalidPid) {
				t.Error("expected ErrInvalidPid, got", err)
			}
		})
	}

	if _, err := ReadPidFile(filepath.Join(dir, "missing.pid")); !os.IsNotExist(err) {
		t.Error("expected not exist, got", err)
	}
}
