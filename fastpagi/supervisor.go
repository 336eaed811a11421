package fastpagi

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcelog/FastPAGI/fastpagi/internal/exec"
	"github.com/pkg/errors"
	"github.com/rs/xid"
)

// Supervisor states.
const (
	stateRunning int32 = iota
	stateShuttingDown
	stateStopped
)

// Supervisor accepts connections and dispatches each one to its own worker.
// It must be created with Start.
type Supervisor struct {
	app      ApplicationConfig
	launcher Launcher
	reaper   exec.Reaper
	j        Journaler
	metrics  *Metrics

	pidFile *PidFile
	ln      *Listener
	router  *SignalRouter

	children ChildRegistry
	shutdown atomic.Bool
	state    atomic.Int32

	// mu serializes dispatching, reaping and cleanup, so that a pid is never
	// added after it was reaped and never killed after it was reaped.
	mu      sync.Mutex
	cleanup sync.Once
}

// Options are the collaborators of a Supervisor.
type Options struct {
	// Launcher creates workers. It is required.
	Launcher Launcher
	// Journaler receives all events. It defaults to NopJournaler.
	Journaler Journaler
	// Metrics, if not nil, records supervisor activity.
	Metrics *Metrics
}

// Start acquires the pidfile, installs the signal router and opens the
// listener, in that order. On error, whatever was acquired is released again.
func Start(cfg *Config, opts Options) (*Supervisor, error) {
	return start(cfg, opts, exec.SystemReaper{})
}

func start(cfg *Config, opts Options, reaper exec.Reaper) (*Supervisor, error) {
	if opts.Launcher == nil {
		return nil, errors.Wrap(ErrConfig, "no launcher")
	}

	j := opts.Journaler
	if j == nil {
		j = NopJournaler
	}

	pidFile, err := AcquirePidFile(cfg.Server.PidFile)
	if err != nil {
		return nil, err
	}

	j.Write(&EventStarted{
		PID:     pidFile.PID(),
		PidFile: pidFile.Path(),
	})

	s := &Supervisor{
		app:      cfg.Application,
		launcher: opts.Launcher,
		reaper:   reaper,
		j:        j,
		metrics:  opts.Metrics,
		pidFile:  pidFile,
	}
	s.router = installSignalRouter(s)

	ln, err := Listen(cfg.Server.Listen)
	if err != nil {
		s.router.Stop()
		pidFile.Release()
		return nil, err
	}

	s.mu.Lock()
	if s.shutdown.Load() {
		// A termination signal arrived while binding; cleanup has already
		// run without a listener to close.
		ln.Close()
	}
	s.ln = ln
	s.mu.Unlock()

	j.Write(&EventListening{Address: ln.Addr().String()})

	return s, nil
}

// Addr returns the listening address.
func (s *Supervisor) Addr() net.Addr {
	return s.ln.Addr()
}

// Children returns the registry of live workers.
func (s *Supervisor) Children() *ChildRegistry {
	return &s.children
}

// ShuttingDown returns true once a shutdown has been requested.
func (s *Supervisor) ShuttingDown() bool {
	return s.shutdown.Load()
}

// Run runs the accept loop until a termination signal arrives, ctx is
// canceled or polling the listener fails. All workers are killed before Run
// returns. The returned error is nil unless the loop ended on a fatal error.
func (s *Supervisor) Run(ctx context.Context) error {
	stopped := make(chan struct{})
	defer close(stopped)

	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown("context: " + ctx.Err().Error())
		case <-stopped:
		}
	}()

	var fatal error

	for !s.shutdown.Load() {
		conn, err := s.ln.PollAccept(PollTimeout)
		if err != nil {
			// Cleanup closes the listener under our feet.
			if s.shutdown.Load() {
				break
			}

			fatal = err
			s.j.Write(&EventWarning{
				Component: "listener",
				Error:     err.Error(),
			})
			break
		}

		if conn != nil {
			s.dispatch(conn)
		}

		time.Sleep(IdleSleep)
	}

	reason := "shutdown"
	if fatal != nil {
		reason = fatal.Error()
	}

	s.drain(reason)
	return fatal
}

// drain makes sure that cleanup ran and that no worker survived it.
func (s *Supervisor) drain(reason string) {
	s.Shutdown(reason)
	s.router.Stop()

	if n := s.children.Len(); n > 0 {
		s.j.Write(&EventWarning{
			Component: "supervisor",
			Error:     errors.Errorf("%d workers left after drain", n).Error(),
		})
	}
}

// Shutdown stops accepting connections, kills all workers, removes the pidfile
// and closes the listener. It only does so once; later calls wait for the
// first one to finish.
func (s *Supervisor) Shutdown(reason string) {
	s.shutdown.Store(true)
	s.state.CompareAndSwap(stateRunning, stateShuttingDown)

	s.cleanup.Do(func() {
		s.doCleanup(reason)
		s.state.Store(stateStopped)
	})
}

func (s *Supervisor) doCleanup(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var killed int

	s.children.ForEach(func(entry ChildEntry) {
		ev := &EventWorkerKilled{
			PID:    entry.PID,
			ConnID: entry.ConnID,
		}

		if entry.proc != nil {
			if err := entry.proc.Kill(); err != nil {
				// Waiting on a worker that did not get the signal could
				// block forever.
				ev.Error = err.Error()
			} else {
				s.reaper.Wait(entry.PID)
			}
		}

		s.children.Remove(entry.PID)
		s.metrics.workerGone("killed")
		s.j.Write(ev)
		killed++
	})

	if err := s.pidFile.Release(); err != nil {
		s.j.Write(&EventWarning{Component: "pidfile", Error: err.Error()})
	}

	if s.ln != nil {
		s.ln.Close()
	}

	s.j.Write(&EventShutdown{
		Reason: reason,
		Killed: killed,
	})
}

// dispatch hands conn to a new worker and registers it.
func (s *Supervisor) dispatch(conn net.Conn) {
	connID := xid.New().String()

	var remote string
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	s.j.Write(&EventConnectionAccepted{
		ConnID: connID,
		Remote: remote,
	})
	s.metrics.connectionAccepted()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown.Load() {
		conn.Close()
		return
	}

	w, err := s.launcher.Launch(conn, s.app, connID)
	if err != nil {
		s.metrics.dispatchFailed()
		s.j.Write(&EventWorkerSpawnError{
			ConnID: connID,
			Remote: remote,
			Reason: err.Error(),
		})
		return
	}

	s.children.Add(ChildEntry{
		PID:     w.PID(),
		Started: time.Now(),
		ConnID:  connID,
		Remote:  remote,
		proc:    w,
	})
	s.metrics.workerSpawned()

	s.j.Write(&EventWorkerSpawned{
		PID:    w.PID(),
		ConnID: connID,
	})
}

// reap collects every exited worker. It returns the number of workers removed
// from the registry.
func (s *Supervisor) reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int

	for {
		status, ok := s.reaper.Reap()
		if !ok {
			return n
		}

		entry, ok := s.children.Remove(status.PID)
		if !ok {
			// Not one of ours, or already removed by cleanup.
			continue
		}
		n++

		ev := &EventWorkerExited{
			PID:      status.PID,
			ConnID:   entry.ConnID,
			ExitCode: status.Code,
		}

		reason := "exited"
		switch {
		case status.Signaled():
			ev.Signal = status.Signal.String()
			reason = "killed"
		case status.Code != 0:
			reason = "failed"
		}

		s.metrics.workerGone(reason)
		s.j.Write(ev)
	}
}

// ExitCode is the process exit status for the error returned by Start or Run:
// 250 for fatal errors, 0 otherwise.
func ExitCode(err error) int {
	if IsFatal(err) {
		return 250
	}
	return 0
}
