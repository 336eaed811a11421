package journal

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/diamondburned/backwardio"
	"github.com/marcelog/FastPAGI/fastpagi"
	"github.com/pkg/errors"
)

// ErrBadEntry is returned by Reader.Read for a line that is not a known
// event. Reading may continue past it.
var ErrBadEntry = errors.New("bad journal entry")

// Reader reads journals written by Writer from the newest event to the
// oldest.
type Reader struct {
	b *backwardio.Scanner
}

// NewReader creates a new journal reader positioned at the end of r.
func NewReader(r io.ReadSeeker) *Reader {
	return &Reader{backwardio.NewScanner(r)}
}

// Read reads a single entry, starting from the bottom of the file. An EOF
// error is returned if the file has been fully consumed.
func (r *Reader) Read() (fastpagi.Event, time.Time, error) {
	var line []byte
	var err error

	for {
		line, err = r.b.ReadUntil('\n')
		if err != nil {
			return nil, time.Time{}, err
		}
		if len(line) > 0 {
			break
		}
	}

	var rawEvent struct {
		Time time.Time       `json:"time"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(line, &rawEvent); err != nil {
		return nil, time.Time{}, errors.Wrapf(ErrBadEntry, "failed to decode JSON: %v", err)
	}

	event := fastpagi.NewEvent(rawEvent.Type)
	if event == nil {
		return nil, time.Time{}, errors.Wrapf(ErrBadEntry, "unknown event %q", rawEvent.Type)
	}

	if err := json.Unmarshal(rawEvent.Data, event); err != nil {
		return nil, time.Time{}, errors.Wrapf(ErrBadEntry, "failed to decode event data: %v", err)
	}

	return event, rawEvent.Time, nil
}

// Entry is an event read back from a journal.
type Entry struct {
	Time  time.Time
	Event fastpagi.Event
}

// Tail returns up to n of the latest events in the journal file at path,
// newest first. Lines that cannot be decoded are skipped.
func Tail(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return tail(NewReader(f), n)
}

func tail(r *Reader, n int) ([]Entry, error) {
	if n < 0 {
		n = 0
	}

	entries := make([]Entry, 0, n)

	for len(entries) < n {
		ev, t, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// A line cut short by a crash, or written by another version.
			if errors.Is(err, ErrBadEntry) {
				continue
			}
			return entries, err
		}

		entries = append(entries, Entry{Time: t, Event: ev})
	}

	return entries, nil
}
