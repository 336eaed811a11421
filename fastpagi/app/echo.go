package app

import (
	"bufio"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

func init() {
	Register("echo", NewEcho)
}

// Echo writes back every line it reads until the peer closes the connection.
// The "prefix" option is prepended to every echoed line, and "limit" caps the
// number of lines echoed before the connection is closed.
type Echo struct {
	in     io.Reader
	out    io.Writer
	prefix string
	limit  int
}

// NewEcho creates an Echo application.
func NewEcho(opts Options) (Application, error) {
	e := &Echo{
		in:     opts.Stdin,
		out:    opts.Stdout,
		prefix: opts.Values["prefix"],
	}

	if v, ok := opts.Values["limit"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, "invalid limit")
		}
		e.limit = n
	}

	return e, nil
}

func (e *Echo) Init() error {
	if e.in == nil || e.out == nil {
		return errors.New("echo needs both stdin and stdout")
	}
	return nil
}

func (e *Echo) Run() error {
	scanner := bufio.NewScanner(e.in)

	for n := 0; e.limit <= 0 || n < e.limit; n++ {
		if !scanner.Scan() {
			return scanner.Err()
		}

		if _, err := io.WriteString(e.out, e.prefix+scanner.Text()+"\n"); err != nil {
			return errors.Wrap(err, "failed to write")
		}
	}

	return nil
}
