package fastpagi

import (
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PollTimeout is how long the accept loop waits for a connection per
// iteration. It bounds how late a shutdown request is noticed.
var PollTimeout = time.Millisecond

// IdleSleep is slept after every accept loop iteration.
var IdleSleep = time.Millisecond

// pollListener is implemented by *net.TCPListener and *net.UnixListener.
type pollListener interface {
	net.Listener
	SetDeadline(time.Time) error
	SyscallConn() (syscall.RawConn, error)
}

// Listener owns the supervisor's listening socket.
type Listener struct {
	ln    pollListener
	raw   syscall.RawConn
	close sync.Once
}

// ParseAddress splits a listen address into a network and an address. It
// accepts tcp://host:port, unix:///path, host:port and absolute paths.
func ParseAddress(address string) (network, addr string, err error) {
	switch {
	case strings.HasPrefix(address, "tcp://"):
		network, addr = "tcp", strings.TrimPrefix(address, "tcp://")
	case strings.HasPrefix(address, "unix://"):
		network, addr = "unix", strings.TrimPrefix(address, "unix://")
	case strings.Contains(address, "://"):
		return "", "", errors.Errorf("unsupported scheme in address %q", address)
	case strings.HasPrefix(address, "/"):
		network, addr = "unix", address
	default:
		network, addr = "tcp", address
	}

	if addr == "" {
		return "", "", errors.Errorf("empty address %q", address)
	}

	if network == "tcp" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return "", "", errors.Wrapf(err, "invalid address %q", address)
		}
	}

	return network, addr, nil
}

// Listen binds and listens on address. Errors wrap ErrBind.
func Listen(address string) (*Listener, error) {
	network, addr, err := ParseAddress(address)
	if err != nil {
		return nil, errors.Wrap(ErrBind, err.Error())
	}

	if network == "unix" {
		// The pidfile guarantees that no other supervisor owns this socket,
		// so whatever is there is stale.
		if err := os.Remove(addr); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrBind, "cannot remove stale socket: %v", err)
		}
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, errors.Wrapf(ErrBind, "%v", err)
	}

	pl, ok := ln.(pollListener)
	if !ok {
		ln.Close()
		return nil, errors.Wrapf(ErrBind, "unsupported listener %T", ln)
	}

	raw, err := pl.SyscallConn()
	if err != nil {
		ln.Close()
		return nil, errors.Wrapf(ErrBind, "cannot get raw socket: %v", err)
	}

	return &Listener{ln: pl, raw: raw}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// PollAccept waits up to timeout for a pending connection and accepts it. It
// returns a nil connection and a nil error if nothing was accepted, which
// includes transient accept failures. Only a failure of the readiness check
// itself returns an error, which wraps ErrSelect.
func (l *Listener) PollAccept(timeout time.Duration) (net.Conn, error) {
	ready, err := l.poll(timeout)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, nil
	}

	// Another accept may have raced us to the connection, so the accept
	// itself is bounded too.
	if err := l.ln.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, errors.Wrapf(ErrSelect, "cannot set deadline: %v", err)
	}

	conn, err := l.ln.Accept()
	if err != nil {
		return nil, nil
	}

	return conn, nil
}

func (l *Listener) poll(timeout time.Duration) (bool, error) {
	ms := int(timeout / time.Millisecond)
	if ms < 1 && timeout > 0 {
		ms = 1
	}

	var n int
	var perr error

	err := l.raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, perr = unix.Poll(fds, ms)
		if perr == nil && n > 0 && fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			perr = errors.Errorf("poll revents %#x", fds[0].Revents)
		}
	})
	if err != nil {
		return false, errors.Wrapf(ErrSelect, "%v", err)
	}

	switch {
	case perr == unix.EINTR:
		return false, nil
	case perr != nil:
		return false, errors.Wrapf(ErrSelect, "%v", perr)
	}

	return n > 0, nil
}

// Close closes the listening socket. It is idempotent.
func (l *Listener) Close() error {
	var err error
	l.close.Do(func() { err = l.ln.Close() })
	return err
}
