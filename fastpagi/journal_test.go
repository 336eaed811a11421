package fastpagi

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

// mockJournal is an in-memory storage of journals, primarily used for testing.
// A zero-value instance is a valid instance.
type mockJournal struct {
	mutex    sync.Mutex
	journals []Event
}

var _ Journaler = (*mockJournal)(nil)

// Write appends a journal event into the internal store.
func (m *mockJournal) Write(ev Event) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.journals = append(m.journals, ev)
	return nil
}

// Journals returns a copy of the journal slice.
func (m *mockJournal) Journals() []Event {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]Event(nil), m.journals...)
}

// OfType returns all journaled events with the given type, in order.
func (m *mockJournal) OfType(eventType string) []Event {
	var events []Event
	for _, ev := range m.Journals() {
		if ev.Type() == eventType {
			events = append(events, ev)
		}
	}
	return events
}

// Verify verifies that the events of the given types journaled so far are
// equal to the given ones, in order. Events of other types are ignored.
func (m *mockJournal) Verify(t *testing.T, journals []Event) {
	t.Helper()

	types := map[string]bool{}
	for _, ev := range journals {
		types[ev.Type()] = true
	}

	var got []Event
	for _, ev := range m.Journals() {
		if types[ev.Type()] {
			got = append(got, ev)
		}
	}

	if len(got) != len(journals) {
		t.Fatalf("mismatch journal length, got %d, expected %d: %#v", len(got), len(journals), got)
	}

	for i, ev := range journals {
		if !reflect.DeepEqual(got[i], ev) {
			t.Errorf("journal %d mismatch, got %#v, expected %#v", i, got[i], ev)
		}
	}
}

// eventually polls cond until it returns true or a few seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for", what)
		}
		time.Sleep(time.Millisecond)
	}
}
