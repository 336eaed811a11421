// Package fastpagi is the core of the fastpagi supervisor. It accepts
// connections on a single listening socket and hands every accepted connection
// to its own worker process, one process per connection.
//
// Mechanism of Operation
//
// The supervisor is a single accept loop that polls the listening socket with
// a very short timeout, so that it notices a shutdown request within a
// millisecond or two without spinning on the CPU. Each accepted connection is
// turned into a file descriptor and given to a freshly started process as its
// standard input and output. From that point on the worker owns the
// connection; the supervisor only keeps its pid.
//
// Signals
//
// SIGCHLD is handled by reaping every exited child with a non-blocking wait
// and dropping its pid from the registry. SIGINT, SIGTERM and SIGQUIT start
// the shutdown: the accept loop stops, every live worker is sent SIGKILL and
// waited for, the pidfile is removed and the listener is closed. Workers are
// never given a chance to finish on their own.
//
// PID Files
//
// Only one supervisor may run per pidfile. The file is created exclusively, so
// its mere existence refuses a second instance, and it is flocked for as long
// as the supervisor runs so that a stale file left behind by a crash can be
// told apart from a live one:
//
//    - /run/
//        - fastpagi.pid    (contains "20354\n", flocked by pid 20354)
//
package fastpagi
