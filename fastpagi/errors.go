package fastpagi

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConfig is returned when the configuration file is missing, cannot be
	// parsed or lacks a required field.
	ErrConfig = errors.New("invalid configuration")
	// ErrAlreadyRunning is returned when the pidfile already exists.
	ErrAlreadyRunning = errors.New("already running")
	// ErrIO is returned when the pidfile cannot be written.
	ErrIO = errors.New("i/o error")
	// ErrBind is returned when the listening socket cannot be opened.
	ErrBind = errors.New("cannot bind")
	// ErrSelect is returned when polling the listening socket fails for any
	// reason other than a timeout.
	ErrSelect = errors.New("cannot poll listener")
	// ErrDispatch is returned when a worker cannot be created for an accepted
	// connection. It is never fatal.
	ErrDispatch = errors.New("cannot dispatch worker")
)

// AlreadyRunningError is the ErrAlreadyRunning error with the pid found in the
// existing pidfile. PID is 0 if the file could not be read.
type AlreadyRunningError struct {
	Path string
	PID  int
}

func (err *AlreadyRunningError) Error() string {
	if err.PID > 0 {
		return fmt.Sprintf("already running: pidfile %s held by pid %d", err.Path, err.PID)
	}
	return fmt.Sprintf("already running: pidfile %s exists", err.Path)
}

// Is makes errors.Is(err, ErrAlreadyRunning) true.
func (err *AlreadyRunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}

// IsFatal returns true if err must terminate the supervisor. Dispatch errors
// and nil are not fatal; every other known error is.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDispatch):
		return false
	default:
		return true
	}
}
