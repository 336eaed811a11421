package fastpagi

// eventType describes an event type.
type eventType = string

const (
	eventWarning            eventType = "warning"
	eventStarted            eventType = "supervisor started"
	eventListening          eventType = "listening"
	eventConnectionAccepted eventType = "connection accepted"
	eventWorkerSpawnError   eventType = "worker spawn error"
	eventWorkerSpawned      eventType = "worker spawned"
	eventWorkerExited       eventType = "worker exited"
	eventWorkerKilled       eventType = "worker killed"
	eventShutdown           eventType = "shutdown"
	eventConfigChanged      eventType = "config changed"
)

// Event is an interface describing known events.
type Event interface {
	Type() string
	event()
}

// NewEvent creates a new event from the given event type. It is used primarily
// for decoding events from its type. Nil is returned if the event type is
// unknown.
func NewEvent(eventType string) Event {
	switch eventType {
	case eventWarning:
		return &EventWarning{}
	case eventStarted:
		return &EventStarted{}
	case eventListening:
		return &EventListening{}
	case eventConnectionAccepted:
		return &EventConnectionAccepted{}
	case eventWorkerSpawnError:
		return &EventWorkerSpawnError{}
	case eventWorkerSpawned:
		return &EventWorkerSpawned{}
	case eventWorkerExited:
		return &EventWorkerExited{}
	case eventWorkerKilled:
		return &EventWorkerKilled{}
	case eventShutdown:
		return &EventShutdown{}
	case eventConfigChanged:
		return &EventConfigChanged{}
	default:
		return nil
	}
}

// EventWarning is emitted when a non-fatal error occurs.
type EventWarning struct {
	Component string `json:"component"`
	Error     string `json:"error"`
}

func (ev *EventWarning) Type() string { return eventWarning }
func (ev *EventWarning) event()       {}

// EventStarted is emitted once the pidfile is acquired.
type EventStarted struct {
	PID     int    `json:"pid"`
	PidFile string `json:"pidfile"`
}

func (ev *EventStarted) Type() string { return eventStarted }
func (ev *EventStarted) event()       {}

// EventListening is emitted once the listener is open.
type EventListening struct {
	Address string `json:"address"`
}

func (ev *EventListening) Type() string { return eventListening }
func (ev *EventListening) event()       {}

// EventConnectionAccepted is emitted for every accepted connection, before it
// is dispatched.
type EventConnectionAccepted struct {
	ConnID string `json:"conn_id"`
	Remote string `json:"remote"`
}

func (ev *EventConnectionAccepted) Type() string { return eventConnectionAccepted }
func (ev *EventConnectionAccepted) event()       {}

// EventWorkerSpawnError is emitted when a worker fails to start. The
// connection has been dropped.
type EventWorkerSpawnError struct {
	ConnID string `json:"conn_id"`
	Remote string `json:"remote"`
	Reason string `json:"reason"`
}

func (ev *EventWorkerSpawnError) Type() string { return eventWorkerSpawnError }
func (ev *EventWorkerSpawnError) event()       {}

// EventWorkerSpawned is emitted when a worker has taken over a connection.
type EventWorkerSpawned struct {
	PID    int    `json:"pid"`
	ConnID string `json:"conn_id"`
}

func (ev *EventWorkerSpawned) Type() string { return eventWorkerSpawned }
func (ev *EventWorkerSpawned) event()       {}

// EventWorkerExited is emitted when a worker has been reaped.
type EventWorkerExited struct {
	PID      int    `json:"pid"`
	ConnID   string `json:"conn_id"`
	ExitCode int    `json:"exit_code"` // -1 if terminated by a signal
	Signal   string `json:"signal,omitempty"`
}

// IsClean returns true if the worker exited on its own with status 0.
func (ev EventWorkerExited) IsClean() bool {
	return ev.ExitCode == 0
}

func (ev *EventWorkerExited) Type() string { return eventWorkerExited }
func (ev *EventWorkerExited) event()       {}

// EventWorkerKilled is emitted when a worker is forcibly terminated during
// shutdown.
type EventWorkerKilled struct {
	PID    int    `json:"pid"`
	ConnID string `json:"conn_id"`
	Error  string `json:"error,omitempty"`
}

func (ev *EventWorkerKilled) Type() string { return eventWorkerKilled }
func (ev *EventWorkerKilled) event()       {}

// EventShutdown is emitted once the shutdown has completed.
type EventShutdown struct {
	Reason string `json:"reason"`
	Killed int    `json:"killed"`
}

func (ev *EventShutdown) Type() string { return eventShutdown }
func (ev *EventShutdown) event()       {}

// EventConfigChanged is emitted when the configuration file changes while the
// supervisor is running. Changes only apply after a restart.
type EventConfigChanged struct {
	Path string `json:"path"`
	Op   string `json:"op"`
}

func (ev *EventConfigChanged) Type() string { return eventConfigChanged }
func (ev *EventConfigChanged) event()       {}
