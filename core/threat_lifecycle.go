package core

import (
	"fmt"
	"time"
)

// validThreatTransitions defines the allowed lifecycle transitions.
// resolved, false_positive and ignored are terminal; reopening is modeled as
// creating a new record, never as a transition out of a terminal state.
var validThreatTransitions = map[ThreatStatus][]ThreatStatus{
	ThreatStatusNew:           {ThreatStatusInvestigating, ThreatStatusResolved, ThreatStatusFalsePositive, ThreatStatusIgnored},
	ThreatStatusInvestigating: {ThreatStatusResolved, ThreatStatusFalsePositive, ThreatStatusIgnored},
	ThreatStatusResolved:      {},
	ThreatStatusFalsePositive: {},
	ThreatStatusIgnored:       {},
}

// TransitionTo validates and executes a status transition. On violation the
// record is left unchanged and the error wraps ErrInvalidTransition.
func (t *ThreatRecord) TransitionTo(newStatus ThreatStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, newStatus)
	}

	allowed, exists := validThreatTransitions[t.Status]
	if !exists {
		return fmt.Errorf("%w: unknown current status %q", ErrInvalidTransition, t.Status)
	}

	for _, s := range allowed {
		if s == newStatus {
			t.Status = newStatus
			t.UpdatedAt = time.Now().UTC()
			return nil
		}
	}

	return fmt.Errorf("%w: %s → %s (allowed: %v)", ErrInvalidTransition, t.Status, newStatus, allowed)
}

// CanTransitionTo checks a transition without executing it.
func (t *ThreatRecord) CanTransitionTo(newStatus ThreatStatus) bool {
	if !newStatus.IsValid() {
		return false
	}
	for _, s := range validThreatTransitions[t.Status] {
		if s == newStatus {
			return true
		}
	}
	return false
}

// AllowedTransitions returns a copy of the valid transitions from the
// current state.
func (t *ThreatRecord) AllowedTransitions() []ThreatStatus {
	allowed := validThreatTransitions[t.Status]
	out := make([]ThreatStatus, len(allowed))
	copy(out, allowed)
	return out
}

// IsTerminal reports whether the record has reached a state with no further
// transitions.
func (t *ThreatRecord) IsTerminal() bool {
	return len(validThreatTransitions[t.Status]) == 0
}

// AddNote appends an investigation note. Notes are append-only; callers
// persist the record explicitly after mutation.
func (t *ThreatRecord) AddNote(content, authorID string) error {
	if content == "" {
		return fmt.Errorf("%w: note content is required", ErrValidation)
	}
	t.Investigation.Notes = append(t.Investigation.Notes, Note{
		Content:   content,
		Author:    authorID,
		Timestamp: time.Now().UTC(),
	})
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Assign sets the investigation assignee without changing status.
func (t *ThreatRecord) Assign(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: assignee is required", ErrValidation)
	}
	t.Investigation.AssignedTo = userID
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordAction appends a response action with the given execution status.
// Action state is independent of the parent threat's status.
func (t *ThreatRecord) RecordAction(actionType ActionType, description, executedBy string, status ActionStatus) error {
	if !actionType.IsValid() {
		return fmt.Errorf("%w: unknown action type %q", ErrValidation, actionType)
	}
	t.Actions = append(t.Actions, ResponseAction{
		Type:        actionType,
		Description: description,
		ExecutedBy:  executedBy,
		ExecutedAt:  time.Now().UTC(),
		Status:      status,
	})
	t.UpdatedAt = time.Now().UTC()
	return nil
}
