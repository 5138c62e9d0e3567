package core

import "time"

// Well-known event types consumed by the detection pipeline. The event type
// field is an open namespace; these are the values the built-in detectors
// react to.
const (
	EventLoginFailed = "login_failed"
	EventLoginOK     = "login_success"
	EventHTTPRequest = "http_request"
	EventAccess      = "access_attempt"
)

// SecurityEvent is the raw input record for detection. It is ephemeral:
// consumed once by the pipeline with no persistence obligation.
type SecurityEvent struct {
	// SourceIdentity is an IP address or user key identifying the actor
	SourceIdentity string    `json:"source_identity"`
	EventType      string    `json:"event_type"`
	Timestamp      time.Time `json:"timestamp"`
	// Payload carries the raw request body or message text, empty when the
	// event has no textual content
	Payload        string `json:"payload,omitempty"`
	TargetEndpoint string `json:"target_endpoint,omitempty"`
}

// NewSecurityEvent builds an event stamped with the current UTC time.
func NewSecurityEvent(sourceIdentity, eventType string) *SecurityEvent {
	return &SecurityEvent{
		SourceIdentity: sourceIdentity,
		EventType:      eventType,
		Timestamp:      time.Now().UTC(),
	}
}
