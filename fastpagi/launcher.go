package fastpagi

import (
	"net"
	"os"

	"github.com/marcelog/FastPAGI/fastpagi/app"
	"github.com/marcelog/FastPAGI/fastpagi/internal/exec"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// WorkerCommand is the argument that starts the supervisor binary in worker
// mode.
const WorkerCommand = "worker"

// Worker is a started worker. The supervisor only ever kills it; everything
// else is done through its pid.
type Worker interface {
	PID() int
	Kill() error
}

// Launcher creates a worker for an accepted connection. Once Launch returns a
// worker, the worker owns the connection exclusively; on error, the connection
// is closed. Errors wrap ErrDispatch.
type Launcher interface {
	Launch(conn net.Conn, app ApplicationConfig, connID string) (Worker, error)
}

// ProcessLauncher launches one process per connection with the connection as
// the process' standard input and output.
type ProcessLauncher struct {
	// Executable is started in worker mode for applications without a
	// bootstrap.
	Executable string
	// Stderr is inherited by workers. It defaults to os.Stderr.
	Stderr *os.File

	startProc func(argv, env []string, files []*os.File) (exec.Process, error)
}

var _ Launcher = (*ProcessLauncher)(nil)

// NewProcessLauncher creates a launcher that re-executes the current binary for
// in-process applications.
func NewProcessLauncher() (*ProcessLauncher, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "failed to find own executable")
	}

	return &ProcessLauncher{
		Executable: self,
		Stderr:     os.Stderr,
		startProc:  exec.StartProcess,
	}, nil
}

// Launch implements Launcher.
func (l *ProcessLauncher) Launch(conn net.Conn, a ApplicationConfig, connID string) (Worker, error) {
	f, err := connFile(conn)
	conn.Close()
	if err != nil {
		return nil, errors.Wrapf(ErrDispatch, "%v", err)
	}
	// The worker has its own copy once started.
	defer f.Close()

	argv, err := l.argv(a)
	if err != nil {
		return nil, err
	}

	options, err := app.EncodeOptions(a.Options)
	if err != nil {
		return nil, errors.Wrapf(ErrDispatch, "%v", err)
	}

	env := append(os.Environ(),
		app.EnvClass+"="+a.Class,
		app.EnvOptions+"="+options,
		app.EnvLog+"="+a.Log,
		app.EnvConnID+"="+connID,
	)

	stderr := l.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	proc, err := l.startProc(argv, env, []*os.File{f, f, stderr})
	if err != nil {
		return nil, errors.Wrapf(ErrDispatch, "failed to start %s: %v", argv[0], err)
	}

	return proc, nil
}

func (l *ProcessLauncher) argv(a ApplicationConfig) ([]string, error) {
	if a.Bootstrap != "" {
		return append([]string{a.Bootstrap}, a.Args...), nil
	}

	if _, ok := app.Lookup(a.Class); !ok {
		return nil, errors.Wrapf(ErrDispatch, "unknown application class %q", a.Class)
	}
	if l.Executable == "" {
		return nil, errors.Wrap(ErrDispatch, "no executable to run workers")
	}

	return []string{l.Executable, WorkerCommand}, nil
}

// connFile duplicates the connection's descriptor into a blocking file, which
// is what a process expects on its standard input and output.
func connFile(conn net.Conn) (*os.File, error) {
	fc, ok := conn.(interface{ File() (*os.File, error) })
	if !ok {
		return nil, errors.Errorf("connection %T has no file descriptor", conn)
	}

	f, err := fc.File()
	if err != nil {
		return nil, errors.Wrap(err, "failed to duplicate connection")
	}

	if err := unix.SetNonblock(int(f.Fd()), false); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to set blocking mode")
	}

	return f, nil
}
