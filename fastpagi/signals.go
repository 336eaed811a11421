package fastpagi

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// TerminationSignals start a graceful shutdown.
var TerminationSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}

// SignalRouter turns process signals into supervisor state transitions. All
// signals are handled on one goroutine, in the order they are delivered.
type SignalRouter struct {
	s     *Supervisor
	sigCh chan os.Signal
	quit  chan struct{}
	done  chan struct{}
	stop  sync.Once
}

// installSignalRouter starts routing termination and child-exit signals to s.
func installSignalRouter(s *Supervisor) *SignalRouter {
	r := &SignalRouter{
		s: s,
		// SIGCHLDs coalesce anyway: a dropped notification is covered by the
		// reap loop of the one still queued.
		sigCh: make(chan os.Signal, 8),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	signal.Notify(r.sigCh, append(TerminationSignals, syscall.SIGCHLD)...)
	go r.route()

	return r
}

func (r *SignalRouter) route() {
	defer close(r.done)

	for {
		select {
		case <-r.quit:
			return
		case sig := <-r.sigCh:
			r.handle(sig)
		}
	}
}

func (r *SignalRouter) handle(sig os.Signal) {
	switch sig {
	case syscall.SIGCHLD:
		r.s.reap()

	case syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
		if r.s.state.Load() != stateRunning {
			return
		}
		r.s.Shutdown("received " + sig.String())
	}
}

// Stop stops routing signals and waits for the routing goroutine to exit.
// Signals that are still queued are dropped.
func (r *SignalRouter) Stop() {
	r.stop.Do(func() {
		signal.Stop(r.sigCh)
		close(r.quit)
		<-r.done
	})
}
