package types

import "time"

// =============================================================================
// EVENTS
// =============================================================================

// EventType tags an event on the notification bus. The set is extensible;
// subscribers filter by tag.
type EventType string

const (
	EventCodeChanged   EventType = "code_changed"
	EventParseComplete EventType = "parse_completed"
	EventSecurityAlert EventType = "security_alert"
	EventQualityIssue  EventType = "quality_issue"
)

// Severity grades an event for history filtering.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is a typed notification fanned out by the bus.
type Event struct {
	Type        EventType              `json:"type"`
	Severity    Severity               `json:"severity"`
	WorkspaceID WorkspaceID            `json:"workspace_id,omitempty"`
	Path        string                 `json:"path,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Payload     map[string]OpaqueValue `json:"payload,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}
