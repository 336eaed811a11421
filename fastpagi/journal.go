package fastpagi

// Journaler describes an event logger. Implementations must be safe for
// concurrent use: the accept loop and the signal router both write to it.
type Journaler interface {
	Write(Event) error
}

type nopJournaler struct{}

// NopJournaler is a journaler that discards every event.
var NopJournaler Journaler = nopJournaler{}

func (nopJournaler) Write(Event) error { return nil }
