package input

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies the kind of message received on the data channel.
type EventType string

const (
	EventButton EventType = "BUTTON"
	EventAxis   EventType = "AXIS"
	// EventStats carries client-side telemetry and is never injected.
	EventStats EventType = "STATS"
)

// Event is the wire format for gamepad input sent over the data channel.
type Event struct {
	Type         EventType `json:"type"`
	Code         string    `json:"code,omitempty"`
	Value        float64   `json:"value"`
	GamepadIndex int       `json:"gamepadIndex,omitempty"`

	// Raw keeps the full message for telemetry.
	Raw json.RawMessage `json:"-"`
}

// Pressed reports whether a button value counts as held down.
func (e Event) Pressed() bool { return e.Value != 0 }

var ErrUnknownEvent = errors.New("input: unknown event")

// Parse decodes one data channel message.
func Parse(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("input: decode: %w", err)
	}
	switch e.Type {
	case EventButton, EventAxis, EventStats:
	default:
		return Event{}, fmt.Errorf("%w: type %q", ErrUnknownEvent, e.Type)
	}
	if e.GamepadIndex < 0 {
		return Event{}, fmt.Errorf("input: negative gamepad index %d", e.GamepadIndex)
	}
	e.Raw = data
	return e, nil
}
