// Package journal writes and reads the supervisor's event journal. Events are
// stored one JSON object per line, so a journal can be appended to by one
// supervisor and tailed by any number of readers.
package journal

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/marcelog/FastPAGI/fastpagi"
	"github.com/pkg/errors"
)

// ErrLockedElsewhere is returned by NewFileLockJournaler if another supervisor
// is writing to the same journal.
var ErrLockedElsewhere = errors.New("journal locked by another process")

type multiWriter []fastpagi.Journaler

// MultiWriter fans every event out to all of ws. Each journaler is written to
// even if an earlier one fails; the first failure is returned.
func MultiWriter(ws ...fastpagi.Journaler) fastpagi.Journaler {
	return multiWriter(ws)
}

func (ws multiWriter) Write(ev fastpagi.Event) error {
	var err error
	for _, w := range ws {
		if werr := w.Write(ev); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// FileLockJournaler appends events to a journal file it holds an exclusive
// flock on for its whole lifetime. Readers don't take the lock: every event is
// a single O_APPEND write.
type FileLockJournaler struct {
	Writer
	file *os.File
	lock *flock.Flock
}

// NewFileLockJournaler opens the journal at path, creating it and its
// directory if needed, and locks it. ErrLockedElsewhere is returned if the
// lock is held.
func NewFileLockJournaler(path string) (*FileLockJournaler, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrap(err, "failed to create journal directory")
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE|os.O_SYNC, 0640)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open journal")
	}

	lock := flock.New(path)

	locked, err := lock.TryLock()
	if err != nil || !locked {
		f.Close()
		if err != nil {
			return nil, errors.Wrap(err, "failed to lock journal")
		}
		return nil, ErrLockedElsewhere
	}

	return &FileLockJournaler{
		Writer: NewWriter(f),
		file:   f,
		lock:   lock,
	}, nil
}

// Close closes the journal file and releases the lock.
func (j *FileLockJournaler) Close() error {
	j.file.Close()
	return j.lock.Unlock()
}
