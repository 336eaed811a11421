// Package app contains the application entry points that a worker process can
// run for its connection. Applications are registered by name; the
// supervisor's application.class setting picks one.
package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Environment variables used to hand the launch descriptor to a worker.
const (
	EnvClass   = "FASTPAGI_CLASS"
	EnvOptions = "FASTPAGI_OPTIONS"
	EnvLog     = "FASTPAGI_LOG"
	EnvConnID  = "FASTPAGI_CONN_ID"
)

// Options is what an application is constructed with.
type Options struct {
	// Stdin and Stdout are both bound to the connection.
	Stdin  io.Reader
	Stdout io.Writer
	// Values are the application options from the configuration, untouched.
	Values map[string]string
	// Log is the configured log destination, possibly empty.
	Log string
	// ConnID identifies the connection in the supervisor's journal.
	ConnID string
}

// Application serves exactly one connection.
type Application interface {
	Init() error
	Run() error
}

// Factory constructs an application.
type Factory func(Options) (Application, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register registers an application under the given class name. It panics if
// the name is taken.
func Register(class string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, ok := registry[class]; ok {
		panic("app: duplicate class " + class)
	}
	registry[class] = factory
}

// Lookup returns the factory registered under class.
func Lookup(class string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	f, ok := registry[class]
	return f, ok
}

// Classes returns all registered class names, sorted.
func Classes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	classes := make([]string, 0, len(registry))
	for class := range registry {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	return classes
}

// EncodeOptions encodes option values for EnvOptions. Values are kept
// verbatim: HTML characters are not escaped.
func EncodeOptions(values map[string]string) (string, error) {
	if values == nil {
		values = map[string]string{}
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(values); err != nil {
		return "", errors.Wrap(err, "failed to encode options")
	}

	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// DecodeOptions decodes option values from EnvOptions. An empty string
// decodes to an empty map.
func DecodeOptions(s string) (map[string]string, error) {
	values := map[string]string{}
	if s == "" {
		return values, nil
	}

	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return nil, errors.Wrap(err, "failed to decode options")
	}

	return values, nil
}

// Serve constructs the application named by class and runs it. Errors and
// panics from the application are caught and returned; they never propagate
// further.
func Serve(class string, opts Options) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = errors.Errorf("panic: %v\n%s", v, debug.Stack())
		}
	}()

	factory, ok := Lookup(class)
	if !ok {
		return errors.Errorf("unknown application class %q", class)
	}

	a, err := factory(opts)
	if err != nil {
		return errors.Wrap(err, "failed to construct application")
	}

	if err := a.Init(); err != nil {
		return errors.Wrap(err, "failed to init application")
	}

	return a.Run()
}

// ServeEnv runs the worker side of a connection: the connection is on stdin
// and stdout, and the launch descriptor is in the environment. It returns the
// process exit code.
func ServeEnv() int {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	if path := os.Getenv(EnvLog); path != "" {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0640)
		if err == nil {
			defer f.Close()
			logger.SetOutput(f)
		}
	}

	connID := os.Getenv(EnvConnID)
	logger.SetPrefix(fmt.Sprintf("worker %d [%s] ", os.Getpid(), connID))

	values, err := DecodeOptions(os.Getenv(EnvOptions))
	if err != nil {
		logger.Println(err)
		return 1
	}

	err = Serve(os.Getenv(EnvClass), Options{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Values: values,
		Log:    os.Getenv(EnvLog),
		ConnID: connID,
	})

	os.Stdout.Close()

	if err != nil {
		logger.Println("application error:", err)
		return 1
	}

	return 0
}
