package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSlack   Channel = "slack"
	ChannelWebhook Channel = "webhook"
	ChannelInApp   Channel = "in_app"
	ChannelSMS     Channel = "sms"
)

// IsValid reports whether the channel is in the closed set.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSlack, ChannelWebhook, ChannelInApp, ChannelSMS:
		return true
	}
	return false
}

// NotificationSeverity grades a notification for recipients.
type NotificationSeverity string

const (
	NotifyInfo     NotificationSeverity = "info"
	NotifyWarning  NotificationSeverity = "warning"
	NotifyError    NotificationSeverity = "error"
	NotifyCritical NotificationSeverity = "critical"
)

// IsValid reports whether the severity is in the closed set.
func (s NotificationSeverity) IsValid() bool {
	switch s {
	case NotifyInfo, NotifyWarning, NotifyError, NotifyCritical:
		return true
	}
	return false
}

// NotificationStatus is the delivery lifecycle state.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSent      NotificationStatus = "sent"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
	NotificationCancelled NotificationStatus = "cancelled"
)

// AttemptOutcome is the result of a single channel send.
type AttemptOutcome string

const (
	AttemptSuccess AttemptOutcome = "success"
	AttemptFailed  AttemptOutcome = "failed"
)

// DeliveryAttempt is one entry in the append-only delivery log. The attempt
// counter is 1-based and monotonic across all channels of the notification.
// Attempts are immutable once appended.
type DeliveryAttempt struct {
	Attempt   int            `json:"attempt"`
	Timestamp time.Time      `json:"timestamp"`
	Channel   Channel        `json:"channel"`
	Outcome   AttemptOutcome `json:"outcome"`
	Error     string         `json:"error,omitempty"`
}

// ReadReceipt records a recipient having read an in-app notification.
// A recipient appears at most once.
type ReadReceipt struct {
	Recipient string    `json:"recipient"`
	ReadAt    time.Time `json:"read_at"`
}

// Notification is one logical alert fanned out across delivery channels,
// with its own delivery-attempt history and read tracking. It may reference
// a threat record by ID; the relation is lookup-only, deleting the threat
// does not cascade here.
type Notification struct {
	ID               string               `json:"id"`
	Type             Channel              `json:"type"`
	Title            string               `json:"title"`
	Message          string               `json:"message"`
	Severity         NotificationSeverity `json:"severity"`
	Recipients       []string             `json:"recipients"`
	Channels         []Channel            `json:"channels"`
	RelatedThreatID  string               `json:"related_threat_id,omitempty"`
	Status           NotificationStatus   `json:"status"`
	DeliveryAttempts []DeliveryAttempt    `json:"delivery_attempts,omitempty"`
	ReadBy           []ReadReceipt        `json:"read_by,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	SentAt           *time.Time           `json:"sent_at,omitempty"`
	DeliveredAt      *time.Time           `json:"delivered_at,omitempty"`
}

// NewNotification builds a fully-formed, validated notification in the
// pending state. When no channels are given, the notification's primary
// type is used as the single channel.
func NewNotification(title, message string, notifType Channel, severity NotificationSeverity, recipients []string, channels []Channel, relatedThreatID string) (*Notification, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !notifType.IsValid() {
		return nil, fmt.Errorf("%w: unknown notification type %q", ErrValidation, notifType)
	}
	if !severity.IsValid() {
		return nil, fmt.Errorf("%w: unknown notification severity %q", ErrValidation, severity)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrValidation)
	}
	for _, c := range channels {
		if !c.IsValid() {
			return nil, fmt.Errorf("%w: unknown channel %q", ErrValidation, c)
		}
	}
	if len(channels) == 0 {
		channels = []Channel{notifType}
	}

	return &Notification{
		ID:              uuid.New().String(),
		Type:            notifType,
		Title:           title,
		Message:         message,
		Severity:        severity,
		Recipients:      append([]string(nil), recipients...),
		Channels:        append([]Channel(nil), channels...),
		RelatedThreatID: relatedThreatID,
		Status:          NotificationPending,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// RecordAttempt appends one delivery attempt and evaluates the terminal
// policy: any success marks the notification delivered; reaching the
// cumulative attempt limit with no success marks it failed. Callers must
// serialize concurrent appends for the same notification so the attempt
// counter stays totally ordered.
func (n *Notification) RecordAttempt(channel Channel, outcome AttemptOutcome, sendErr string, at time.Time) {
	n.DeliveryAttempts = append(n.DeliveryAttempts, DeliveryAttempt{
		Attempt:   len(n.DeliveryAttempts) + 1,
		Timestamp: at,
		Channel:   channel,
		Outcome:   outcome,
		Error:     sendErr,
	})

	if outcome == AttemptSuccess {
		n.Status = NotificationDelivered
		t := at
		n.DeliveredAt = &t
		return
	}
	if len(n.DeliveryAttempts) >= MaxDeliveryAttempts && !n.HasSuccessfulAttempt() {
		n.Status = NotificationFailed
	}
}

// HasSuccessfulAttempt reports whether any attempt in the log succeeded.
func (n *Notification) HasSuccessfulAttempt() bool {
	for _, a := range n.DeliveryAttempts {
		if a.Outcome == AttemptSuccess {
			return true
		}
	}
	return false
}

// MarkRead records a read receipt for the recipient. Idempotent: an already
// present recipient is left unchanged.
func (n *Notification) MarkRead(recipient string, at time.Time) {
	for _, r := range n.ReadBy {
		if r.Recipient == recipient {
			return
		}
	}
	n.ReadBy = append(n.ReadBy, ReadReceipt{Recipient: recipient, ReadAt: at})
}

// Resend resets the notification for another dispatch round. Status returns
// to pending and the sent/delivered stamps are cleared, but the historical
// delivery log is never truncated.
func (n *Notification) Resend() {
	n.Status = NotificationPending
	n.SentAt = nil
	n.DeliveredAt = nil
}

// Cancel transitions a pending or sent notification to cancelled. Once a
// terminal state is reached the record is immutable apart from read
// receipts.
func (n *Notification) Cancel() error {
	switch n.Status {
	case NotificationPending, NotificationSent:
		n.Status = NotificationCancelled
		return nil
	}
	return fmt.Errorf("%w: cannot cancel notification in status %s", ErrInvalidTransition, n.Status)
}

// IsTerminal reports whether delivery has reached a terminal state.
func (n *Notification) IsTerminal() bool {
	switch n.Status {
	case NotificationDelivered, NotificationFailed, NotificationCancelled:
		return true
	}
	return false
}

// DeliverySuccessRate is the percentage of successful attempts over all
// attempts, 0 when no attempt has been made yet.
func (n *Notification) DeliverySuccessRate() float64 {
	if len(n.DeliveryAttempts) == 0 {
		return 0
	}
	successful := 0
	for _, a := range n.DeliveryAttempts {
		if a.Outcome == AttemptSuccess {
			successful++
		}
	}
	return float64(successful) / float64(len(n.DeliveryAttempts)) * 100
}
