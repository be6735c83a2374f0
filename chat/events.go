package chat

// EventType names what an Event carries.
type EventType string

const (
	EventStatus     EventType = "status"     // Payload: Status
	EventMessage    EventType = "message"    // Payload: irc.ChatMessage
	EventUserNotice EventType = "usernotice" // Payload: irc.Tags, values unescaped
	EventClearChat  EventType = "clearchat"  // Payload: the raw line
	EventReady      EventType = "ready"      // no payload
)

// Status is the payload of EventStatus.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

// Event is one notification for the host UI.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// Emitter receives events. Emit is called from the session reader and the
// reconnect loop and must not block.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

type discardEmitter struct{}

func (discardEmitter) Emit(Event) {}

func statusEvent(s Status) Event { return Event{Type: EventStatus, Payload: s} }
