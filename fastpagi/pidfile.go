package fastpagi

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// ErrInvalidPid is returned by ReadPidFile if the file does not contain a
// positive decimal pid.
var ErrInvalidPid = errors.New("invalid pid in pidfile")

// PidFile is an acquired pidfile. Its existence on disk is the single-instance
// lock; it is additionally flocked while held.
type PidFile struct {
	path string
	pid  int
	lock *flock.Flock
	once sync.Once
}

// AcquirePidFile creates the pidfile at path containing the current process ID.
// It returns an *AlreadyRunningError if the file already exists.
func AcquirePidFile(path string) (*PidFile, error) {
	return acquirePidFile(path, os.Getpid())
}

func acquirePidFile(path string, pid int) (*PidFile, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			// Best-effort: the other instance may still be writing.
			other, _ := ReadPidFile(path)
			return nil, &AlreadyRunningError{Path: path, PID: other}
		}
		return nil, errors.Wrapf(ErrIO, "cannot create pidfile: %v", err)
	}

	// A single write, so a reader never sees half a pid.
	_, err = f.Write([]byte(strconv.Itoa(pid) + "\n"))
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, errors.Wrapf(ErrIO, "cannot write pidfile: %v", err)
	}

	lock := flock.New(path)
	if locked, err := lock.TryLock(); err != nil || !locked {
		// Not fatal: the file itself is the lock, the flock only helps tooling
		// detect stale files.
		lock = nil
	}

	return &PidFile{
		path: path,
		pid:  pid,
		lock: lock,
	}, nil
}

// Path returns the pidfile path.
func (p *PidFile) Path() string { return p.path }

// PID returns the pid written into the file.
func (p *PidFile) PID() int { return p.pid }

// Release unlocks and removes the pidfile. A missing file is not an error.
// Release is idempotent.
func (p *PidFile) Release() error {
	var err error
	p.once.Do(func() {
		if p.lock != nil {
			p.lock.Unlock()
		}
		if rerr := os.Remove(p.path); rerr != nil && !os.IsNotExist(rerr) {
			err = errors.Wrap(rerr, "cannot remove pidfile")
		}
	})
	return err
}

// ReadPidFile reads the pid stored at path.
func ReadPidFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	s := strings.TrimSpace(string(b))

	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, errors.Wrapf(ErrInvalidPid, "%q", s)
	}

	return pid, nil
}

// PidFileLocked returns true if the pidfile at path is flocked by a running
// supervisor. A pidfile that exists but is not locked was left behind by a
// supervisor that did not shut down cleanly.
func PidFileLocked(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	lock := flock.New(path)

	locked, err := lock.TryRLock()
	if err != nil {
		return false, errors.Wrap(err, "cannot probe pidfile lock")
	}
	if locked {
		lock.Unlock()
		return false, nil
	}

	return true, nil
}
