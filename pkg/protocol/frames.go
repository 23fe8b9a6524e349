package protocol

import "encoding/json"

// CommandFrame is an inbound frame from an operator client.
// Payload shape depends on the command name.
type CommandFrame struct {
	Cmd     string          `json:"cmd"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventFrame is an outbound frame pushed to an operator client.
type EventFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// NewEvent creates an event frame.
func NewEvent(name string, payload any) EventFrame {
	return EventFrame{Event: name, Payload: payload}
}

// ErrorPayload carries a human-readable failure description.
// Every user-visible failure surfaces through one of these, never a silent drop.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewErrorEvent creates an error event frame with a human-readable message.
func NewErrorEvent(msg string) EventFrame {
	return EventFrame{Event: EventError, Payload: ErrorPayload{Message: msg}}
}
