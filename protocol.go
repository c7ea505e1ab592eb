package typira

// Messages between a keyboard front end and typirad are JSON-encoded and
// sent over a Unix domain socket, one per line, in both directions.

// Client event types.
const (
	EventFocus     = "focus"
	EventTyped     = "typed"
	EventBackspace = "backspace"
	EventDocument  = "document"
	EventTap       = "tap"
	EventAccept    = "accept"
	EventRemember  = "remember"
	EventRewrite   = "rewrite"
)

// ClientEvent is sent from the front end to the daemon.
type ClientEvent struct {
	// Type is one of the Event* constants.
	Type string `json:"type"`
	// Field is set on "focus".
	Field *Field `json:"field,omitempty"`
	// Before and After carry the document around the cursor after the event.
	Before string `json:"before"`
	After  string `json:"after"`
	// Text is the committed text for "typed" and "remember".
	Text string `json:"text,omitempty"`
	// ActionID is the tapped chip for "tap".
	ActionID string `json:"action_id,omitempty"`
	// Tone is the rewrite tone for "rewrite".
	Tone string `json:"tone,omitempty"`
}

// Server event types.
const (
	EventStatus     = "status"
	EventActions    = "actions"
	EventSuggestion = "suggestion"
	EventEdit       = "edit"
	EventInsert     = "insert"
	EventView       = "view"
	EventError      = "error"
)

// ServerEvent is pushed from the daemon to the front end.
type ServerEvent struct {
	// Type is one of the server Event* constants.
	Type string `json:"type"`
	// Status is set for "status".
	Status *Status `json:"status,omitempty"`
	// Actions is set for "actions". An empty batch clears the chips.
	Actions []SmartAction `json:"actions,omitempty"`
	// Suggestion is set for "suggestion"; empty means idle.
	Suggestion string `json:"suggestion,omitempty"`
	// Edit is set for "edit".
	Edit *Edit `json:"edit,omitempty"`
	// Text is set for "insert".
	Text string `json:"text,omitempty"`
	// View is set for "view" (e.g. "agent").
	View string `json:"view,omitempty"`
	// Error is set when the daemon rejects a client event.
	Error *Error `json:"error,omitempty"`
}

// Error describes a daemon-side error returned to the front end.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "invalid_event").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}
