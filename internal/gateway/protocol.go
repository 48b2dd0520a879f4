package gateway

import "encoding/json"

// FrameTypeEvent is the only frame the live feed sends. Clients never send
// frames; anything they write is read and discarded.
const FrameTypeEvent = "event"

// EventHello is sent once to each client right after the upgrade.
const EventHello = "hello"

// Frame is the envelope for every WebSocket message.
type Frame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     int64           `json:"seq"`
}

// Hello is the payload of the hello frame.
type Hello struct {
	ConnID  string   `json:"connId"`
	Version string   `json:"version"`
	Events  []string `json:"events"`
}

// ErrorShape is the error format shared by every HTTP endpoint.
type ErrorShape struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Retryable bool     `json:"retryable"`
	Details   []string `json:"details,omitempty"`
}

// ErrorBody wraps ErrorShape as {"error": {...}}.
type ErrorBody struct {
	Error ErrorShape `json:"error"`
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: raw,
		Seq:     seq,
	}, nil
}
