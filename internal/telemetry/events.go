package telemetry

import "encoding/json"

// Severity is an event record severity level.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Kind enumerates the telemetry event kinds.
type Kind string

const (
	KindSessionStart       Kind = "session_start"
	KindSessionEnd         Kind = "session_end"
	KindUnhandledException Kind = "unhandled_exception"
	KindGenericEvent       Kind = "generic_event"
)

// Event is one ingestible telemetry record.
type Event struct {
	Kind       Kind           `json:"kind"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message,omitempty"`
	OccurredAt int64          `json:"occurred_at_unix_ms"`
	Data       map[string]any `json:"data,omitempty"`
	// SessionID tags the event so cross-session noise can be filtered
	// server-side, including for piggybacked HTTP transport telemetry.
	SessionID string `json:"session_id,omitempty"`
}

// SendRequest is the body of POST /telemetry.
type SendRequest struct {
	SessionID  string  `json:"session_id"`
	Platform   string  `json:"platform"`
	SDKVersion string  `json:"sdk_version"`
	Events     []Event `json:"events"`
}

// SendResponse is the server's acknowledgement.
type SendResponse struct {
	Status string `json:"status"`
}

// MarshalEventData is a small helper for building Event.Data from a
// struct, used by transport-telemetry piggyback call sites that have a
// typed record rather than a ready-made map.
func MarshalEventData(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
