package fastpagi

import (
	"testing"

	"github.com/pkg/errors"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil", nil, false},
		{"dispatch", ErrDispatch, false},
		{"wrapped dispatch", errors.Wrap(ErrDispatch, "fork failed"), false},
		{"config", ErrConfig, true},
		{"already running", &AlreadyRunningError{Path: "/run/x.pid", PID: 1}, true},
		{"io", errors.Wrap(ErrIO, "disk full"), true},
		{"bind", ErrBind, true},
		{"select", errors.Wrap(ErrSelect, "EBADF"), true},
		{"unknown", errors.New("something else"), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if fatal := IsFatal(test.err); fatal != test.fatal {
				t.Errorf("IsFatal(%v) = %v, expected %v", test.err, fatal, test.fatal)
			}

			code := ExitCode(test.err)
			if test.fatal && code != 250 || !test.fatal && code != 0 {
				t.Errorf("ExitCode(%v) = %d", test.err, code)
			}
		})
	}
}

func TestAlreadyRunningError(t *testing.T) {
	err := error(&AlreadyRunningError{Path: "/run/fastpagi.pid", PID: 42})

	if !errors.Is(err, ErrAlreadyRunning) {
		t.Error("AlreadyRunningError is not ErrAlreadyRunning")
	}
	if !errors.Is(errors.Wrap(err, "start"), ErrAlreadyRunning) {
		t.Error("wrapped AlreadyRunningError is not ErrAlreadyRunning")
	}
	if errors.Is(err, ErrIO) {
		t.Error("AlreadyRunningError is ErrIO")
	}

	const expect = "already running: pidfile /run/fastpagi.pid held by pid 42"
	if err.Error() != expect {
		t.Errorf("unexpected message %q", err.Error())
	}

	unknown := &AlreadyRunningError{Path: "/run/fastpagi.pid"}
	if unknown.Error() != "already running: pidfile /run/fastpagi.pid exists" {
		t.Errorf("unexpected message %q", unknown.Error())
	}
}
