// Package typira defines the wire types shared by the typira keyboard core:
// the payloads exchanged with the agent backend over the duplex channel and
// the JSON-lines protocol spoken between keyboard front ends and typirad.
package typira

import (
	"encoding/json"
	"fmt"
)

// TypingContext is one snapshot of the focused field sent with the "analyze" event.
type TypingContext struct {
	// FullText is the entire reachable document content (before + after cursor).
	FullText string `json:"text"`
	// IncrementalDelta is the text buffered since the last sync.
	IncrementalDelta string `json:"incremental_delta,omitempty"`
	// IsFullContext tags the snapshot as carrying the whole document.
	IsFullContext bool `json:"is_full_context"`
	// AppContext identifies the host application of the field.
	AppContext string `json:"app_context"`
	// AuthToken is embedded for backends that authenticate per message.
	AuthToken string `json:"token,omitempty"`
}

// ActionType is the kind of native effect a smart action performs.
type ActionType string

const (
	ActionDeepLink      ActionType = "deep_link"
	ActionCalendarEvent ActionType = "calendar_event"
	ActionPromptTrigger ActionType = "prompt_trigger"
)

// SmartAction is a backend-offered, user tappable follow-up.
type SmartAction struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Type  ActionType `json:"type,omitempty"`
	// Payload is a JSON string (URI or prompt) or a CalendarPayload object.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PayloadString returns the payload as a plain string. String payloads are
// unquoted; object payloads are returned as raw JSON.
func (a SmartAction) PayloadString() string {
	if len(a.Payload) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.Payload, &s); err == nil {
		return s
	}
	return string(a.Payload)
}

// Calendar decodes the payload of a calendar_event action. The payload may be
// the object itself or a JSON string holding the object.
func (a SmartAction) Calendar() (CalendarPayload, error) {
	var p CalendarPayload
	if len(a.Payload) == 0 {
		return p, fmt.Errorf("action %q has no calendar payload", a.ID)
	}
	raw := []byte(a.Payload)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = []byte(s)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse calendar payload of %q: %w", a.ID, err)
	}
	return p, nil
}

// CalendarPayload describes an event to create. Start and End are ISO-8601.
type CalendarPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

// PerformAction is sent with the "perform_action" event when a prompt
// trigger is tapped.
type PerformAction struct {
	ActionID string          `json:"action_id"`
	Type     ActionType      `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Context  string          `json:"context"`
	Token    string          `json:"token,omitempty"`
}

// SuggestionReady is the decoded "suggestion_ready" event.
type SuggestionReady struct {
	Thought string        `json:"thought"`
	Actions []SmartAction `json:"actions"`
	// Result is an optional insertable completion.
	Result string `json:"result,omitempty"`
}

// StatusKind distinguishes how the UI should style a status string.
type StatusKind string

const (
	StatusIdle       StatusKind = "idle"
	StatusThought    StatusKind = "thought"
	StatusSuggestion StatusKind = "suggestion"
	StatusInfo       StatusKind = "info"
)

// Status is the one-line message shown in the suggestion strip.
type Status struct {
	Kind StatusKind `json:"kind"`
	Text string     `json:"text"`
}

// String renders the status with its glyph.
func (s Status) String() string {
	switch s.Kind {
	case StatusThought:
		return "💭 " + s.Text
	case StatusSuggestion:
		return "💡 " + s.Text
	case StatusIdle:
		if s.Text == "" {
			return "..."
		}
	}
	return s.Text
}

// KeyboardType is the keyboard variant requested by the focused field.
type KeyboardType string

const (
	KeyboardDefault      KeyboardType = "default"
	KeyboardASCII        KeyboardType = "ascii"
	KeyboardURL          KeyboardType = "url"
	KeyboardNumberPad    KeyboardType = "number_pad"
	KeyboardPhonePad     KeyboardType = "phone_pad"
	KeyboardDecimalPad   KeyboardType = "decimal_pad"
	KeyboardNamePhonePad KeyboardType = "name_phone_pad"
	KeyboardEmail        KeyboardType = "email_address"
)

// Field describes the input field currently focused by the keyboard.
type Field struct {
	// App identifies the host application (package name or bundle id).
	App string `json:"app"`
	// Secure is set for password and other secure-entry fields.
	Secure bool `json:"secure,omitempty"`
	// Keyboard is the requested keyboard type.
	Keyboard KeyboardType `json:"keyboard,omitempty"`
}

// Sensitive reports whether keystrokes in this field must never leave the device.
func (f Field) Sensitive() bool {
	if f.Secure {
		return true
	}
	switch f.Keyboard {
	case KeyboardNumberPad, KeyboardPhonePad, KeyboardDecimalPad, KeyboardNamePhonePad, KeyboardEmail:
		return true
	}
	return false
}

// AppContext returns the app identifier sent to the backend.
func (f Field) AppContext() string {
	if f.App == "" {
		return "unknown"
	}
	return f.App
}

// Edit instructs the front end to delete Delete characters before the
// cursor and insert Insert in their place.
type Edit struct {
	Delete int    `json:"delete"`
	Insert string `json:"insert"`
}
