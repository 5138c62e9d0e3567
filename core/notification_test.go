package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNotification(t *testing.T, channels ...Channel) *Notification {
	t.Helper()
	n, err := NewNotification("Brute force detected", "5 failed logins from 10.0.0.9",
		ChannelEmail, NotifyCritical, []string{"admin-1"}, channels, "")
	require.NoError(t, err)
	return n
}

func TestNewNotification_DefaultChannelFromType(t *testing.T) {
	n := newNotification(t)
	assert.Equal(t, []Channel{ChannelEmail}, n.Channels, "empty channel list defaults to the primary type")
	assert.Equal(t, NotificationPending, n.Status)
	assert.NotEmpty(t, n.ID)
	assert.Nil(t, n.SentAt)
	assert.Nil(t, n.DeliveredAt)
}

func TestNewNotification_Validation(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*Notification, error)
	}{
		{"missing title", func() (*Notification, error) {
			return NewNotification("", "m", ChannelEmail, NotifyInfo, []string{"u"}, nil, "")
		}},
		{"missing message", func() (*Notification, error) {
			return NewNotification("t", "", ChannelEmail, NotifyInfo, []string{"u"}, nil, "")
		}},
		{"unknown type", func() (*Notification, error) {
			return NewNotification("t", "m", Channel("pager"), NotifyInfo, []string{"u"}, nil, "")
		}},
		{"unknown severity", func() (*Notification, error) {
			return NewNotification("t", "m", ChannelEmail, NotificationSeverity("fatal"), []string{"u"}, nil, "")
		}},
		{"no recipients", func() (*Notification, error) {
			return NewNotification("t", "m", ChannelEmail, NotifyInfo, nil, nil, "")
		}},
		{"unknown channel", func() (*Notification, error) {
			return NewNotification("t", "m", ChannelEmail, NotifyInfo, []string{"u"}, []Channel{"carrier_pigeon"}, "")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tt.build()
			assert.Nil(t, n)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestRecordAttempt_SuccessAfterFailures(t *testing.T) {
	n := newNotification(t, ChannelEmail, ChannelSlack, ChannelWebhook)
	now := time.Now().UTC()

	n.RecordAttempt(ChannelEmail, AttemptFailed, "smtp timeout", now)
	assert.Equal(t, NotificationPending, n.Status, "one failure leaves the notification retryable")

	n.RecordAttempt(ChannelSlack, AttemptFailed, "503 from slack", now)
	assert.Equal(t, NotificationPending, n.Status)

	n.RecordAttempt(ChannelWebhook, AttemptSuccess, "", now)
	assert.Equal(t, NotificationDelivered, n.Status, "a single success delivers the whole notification")
	require.NotNil(t, n.DeliveredAt)

	require.Len(t, n.DeliveryAttempts, 3)
	for i, a := range n.DeliveryAttempts {
		assert.Equal(t, i+1, a.Attempt, "attempt counter is 1-based and monotonic")
	}
	assert.InDelta(t, 33.3, n.DeliverySuccessRate(), 0.1)
}

func TestRecordAttempt_ThreeFailuresIsTerminal(t *testing.T) {
	n := newNotification(t, ChannelEmail)
	now := time.Now().UTC()

	n.RecordAttempt(ChannelEmail, AttemptFailed, "timeout", now)
	n.RecordAttempt(ChannelEmail, AttemptFailed, "timeout", now)
	assert.Equal(t, NotificationPending, n.Status)

	n.RecordAttempt(ChannelEmail, AttemptFailed, "timeout", now)
	assert.Equal(t, NotificationFailed, n.Status)
	assert.Nil(t, n.DeliveredAt)
	assert.Equal(t, 0.0, n.DeliverySuccessRate())
}

func TestDeliverySuccessRate_NoAttempts(t *testing.T) {
	n := newNotification(t)
	assert.Equal(t, 0.0, n.DeliverySuccessRate())
}

func TestMarkRead_Idempotent(t *testing.T) {
	n := newNotification(t)
	first := time.Now().UTC()

	n.MarkRead("admin-1", first)
	n.MarkRead("admin-1", first.Add(time.Hour))

	require.Len(t, n.ReadBy, 1, "a recipient appears at most once")
	assert.Equal(t, first, n.ReadBy[0].ReadAt, "the original read timestamp is kept")

	n.MarkRead("admin-2", first)
	assert.Len(t, n.ReadBy, 2)
}

func TestResend_PreservesAttemptHistory(t *testing.T) {
	n := newNotification(t, ChannelEmail)
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		n.RecordAttempt(ChannelEmail, AttemptFailed, "refused", now)
	}
	require.Equal(t, NotificationFailed, n.Status)

	n.Resend()
	assert.Equal(t, NotificationPending, n.Status)
	assert.Nil(t, n.SentAt)
	assert.Nil(t, n.DeliveredAt)
	assert.Len(t, n.DeliveryAttempts, 3, "the delivery log is never truncated")
}

func TestCancel_OnlyBeforeTerminal(t *testing.T) {
	n := newNotification(t)
	require.NoError(t, n.Cancel())
	assert.Equal(t, NotificationCancelled, n.Status)
	assert.True(t, n.IsTerminal())

	delivered := newNotification(t, ChannelEmail)
	delivered.RecordAttempt(ChannelEmail, AttemptSuccess, "", time.Now().UTC())
	assert.ErrorIs(t, delivered.Cancel(), ErrInvalidTransition)
	assert.Equal(t, NotificationDelivered, delivered.Status)
}
