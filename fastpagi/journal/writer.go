package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marcelog/FastPAGI/fastpagi"
	"github.com/pkg/errors"
)

// Event describes the JSON structure of an event to be written.
type Event struct {
	Time time.Time      `json:"time"`
	Type string         `json:"type"`
	Data fastpagi.Event `json:"data"`
}

// Writer is a simple journaler that writes line-delimited JSON events into the
// writer.
type Writer struct {
	mu *sync.Mutex
	w  io.Writer
}

var _ fastpagi.Journaler = Writer{}

// NewWriter creates a new journal writer.
func NewWriter(w io.Writer) Writer {
	return Writer{new(sync.Mutex), w}
}

// Write writes the given event into the writer. Writes are concurrently safe
// and are atomic.
func (l Writer) Write(ev fastpagi.Event) error {
	evJSON := Event{
		Time: time.Now(),
		Type: ev.Type(),
		Data: ev,
	}

	buf := bytes.Buffer{}
	buf.Grow(512)

	// Encode terminates the line.
	if err := json.NewEncoder(&buf).Encode(evJSON); err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.w.Write(buf.Bytes())
	if err != nil {
		return errors.Wrap(err, "failed to write event")
	}

	return nil
}

// HumanWriter writes events as single human-readable lines, for terminals.
type HumanWriter struct {
	mu     *sync.Mutex
	w      io.Writer
	prefix string
}

var _ fastpagi.Journaler = HumanWriter{}

// NewHumanWriter creates a new human-readable journal writer. The name is
// prepended to every line.
func NewHumanWriter(name string, w io.Writer) HumanWriter {
	return HumanWriter{new(sync.Mutex), w, name}
}

// Write writes "<time> <prefix>: <type>: key=value ..." into the writer.
func (l HumanWriter) Write(ev fastpagi.Event) error {
	line, err := FormatEvent(time.Now(), ev)
	if err != nil {
		return err
	}

	if l.prefix != "" {
		line = l.prefix + ": " + line
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err = io.WriteString(l.w, line+"\n")
	if err != nil {
		return errors.Wrap(err, "failed to write event")
	}

	return nil
}

// FormatEvent formats the event as "<time> <type>: key=value ...", with the
// keys sorted.
func FormatEvent(t time.Time, ev fastpagi.Event) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal event")
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return "", errors.Wrap(err, "failed to flatten event")
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var line strings.Builder
	line.WriteString(t.Format("2006/01/02 15:04:05"))
	line.WriteByte(' ')
	line.WriteString(ev.Type())

	for i, k := range keys {
		if i == 0 {
			line.WriteByte(':')
		}
		fmt.Fprintf(&line, " %s=%v", k, fields[k])
	}

	return line.String(), nil
}
