package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ThreatType classifies a detected threat. The set is closed: records with
// an unknown type are rejected at creation.
type ThreatType string

const (
	ThreatBruteForce        ThreatType = "brute_force"
	ThreatSQLInjection      ThreatType = "sql_injection"
	ThreatXSS               ThreatType = "xss"
	ThreatSuspiciousIP      ThreatType = "suspicious_ip"
	ThreatGeoMismatch       ThreatType = "geo_mismatch"
	ThreatRateLimitExceeded ThreatType = "rate_limit_exceeded"
	ThreatUnauthorized      ThreatType = "unauthorized_access"
	ThreatDataExfiltration  ThreatType = "data_exfiltration"
	ThreatMalware           ThreatType = "malware_detected"
	ThreatDDoS              ThreatType = "ddos_attack"
	ThreatPhishing          ThreatType = "phishing_attempt"
	ThreatOther             ThreatType = "other"
)

// IsValid reports whether the threat type is in the closed set.
func (t ThreatType) IsValid() bool {
	switch t {
	case ThreatBruteForce, ThreatSQLInjection, ThreatXSS, ThreatSuspiciousIP,
		ThreatGeoMismatch, ThreatRateLimitExceeded, ThreatUnauthorized,
		ThreatDataExfiltration, ThreatMalware, ThreatDDoS, ThreatPhishing,
		ThreatOther:
		return true
	}
	return false
}

// Severity grades a threat record.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether the severity is in the closed set.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities for threshold comparisons (low=1 .. critical=4).
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// ThreatStatus is the lifecycle state of a threat record.
type ThreatStatus string

const (
	ThreatStatusNew           ThreatStatus = "new"
	ThreatStatusInvestigating ThreatStatus = "investigating"
	ThreatStatusResolved      ThreatStatus = "resolved"
	ThreatStatusFalsePositive ThreatStatus = "false_positive"
	ThreatStatusIgnored       ThreatStatus = "ignored"
)

// IsValid reports whether the status is in the closed set.
func (s ThreatStatus) IsValid() bool {
	switch s {
	case ThreatStatusNew, ThreatStatusInvestigating, ThreatStatusResolved,
		ThreatStatusFalsePositive, ThreatStatusIgnored:
		return true
	}
	return false
}

// Priority grades investigation urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ActionType identifies a response action taken against a threat.
type ActionType string

const (
	ActionBlockIP     ActionType = "block_ip"
	ActionLockUser    ActionType = "lock_user"
	ActionNotifyAdmin ActionType = "notify_admin"
	ActionLogEvent    ActionType = "log_event"
	ActionCustom      ActionType = "custom"
)

// IsValid reports whether the action type is in the closed set.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionBlockIP, ActionLockUser, ActionNotifyAdmin, ActionLogEvent, ActionCustom:
		return true
	}
	return false
}

// ActionStatus is the execution state of a response action, independent of
// the parent threat's status.
type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionExecuted ActionStatus = "executed"
	ActionFailed   ActionStatus = "failed"
)

// Analysis holds the scoring output attached to a threat record.
// Confidence and RiskScore are percentages in [0,100].
type Analysis struct {
	Confidence  int      `json:"confidence"`
	RiskScore   int      `json:"risk_score"`
	Patterns    []string `json:"patterns,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Note is an append-only investigation note.
type Note struct {
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// Investigation holds assignment and note-taking state for a threat record.
type Investigation struct {
	AssignedTo string   `json:"assigned_to,omitempty"`
	Notes      []Note   `json:"notes,omitempty"`
	Priority   Priority `json:"priority"`
}

// ResponseAction records a response taken against a threat, with its own
// execution status.
type ResponseAction struct {
	Type        ActionType   `json:"type"`
	Description string       `json:"description,omitempty"`
	ExecutedBy  string       `json:"executed_by,omitempty"`
	ExecutedAt  time.Time    `json:"executed_at"`
	Status      ActionStatus `json:"status"`
}

// ThreatRecord is the lifecycle record for one detected threat. The record
// owns its investigation notes and actions; ThreatID is immutable after
// creation and never reused.
type ThreatRecord struct {
	ThreatID       string         `json:"threat_id"`
	Type           ThreatType     `json:"type"`
	Severity       Severity       `json:"severity"`
	Status         ThreatStatus   `json:"status"`
	SourceIdentity string         `json:"source_identity"`
	TargetEndpoint string         `json:"target_endpoint,omitempty"`
	Analysis       Analysis       `json:"analysis"`
	Investigation  Investigation  `json:"investigation"`
	Actions        []ResponseAction `json:"actions,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewThreatRecord allocates a fully-formed record in the new state. It
// validates the closed enums and the analysis score ranges before any state
// exists, so an invalid record is never observable.
func NewThreatRecord(threatType ThreatType, severity Severity, sourceIdentity string, analysis Analysis) (*ThreatRecord, error) {
	if !threatType.IsValid() {
		return nil, fmt.Errorf("%w: unknown threat type %q", ErrValidation, threatType)
	}
	if !severity.IsValid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrValidation, severity)
	}
	if sourceIdentity == "" {
		return nil, fmt.Errorf("%w: source identity is required", ErrValidation)
	}
	if analysis.Confidence < 0 || analysis.Confidence > 100 {
		return nil, fmt.Errorf("%w: confidence %d out of range [0,100]", ErrValidation, analysis.Confidence)
	}
	if analysis.RiskScore < 0 || analysis.RiskScore > 100 {
		return nil, fmt.Errorf("%w: risk score %d out of range [0,100]", ErrValidation, analysis.RiskScore)
	}

	now := time.Now().UTC()
	return &ThreatRecord{
		ThreatID:       "THREAT-" + uuid.New().String(),
		Type:           threatType,
		Severity:       severity,
		Status:         ThreatStatusNew,
		SourceIdentity: sourceIdentity,
		Analysis:       analysis,
		Investigation:  Investigation{Priority: PriorityMedium},
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
