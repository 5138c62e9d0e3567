package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bastion/core"
)

func testNotification(t *testing.T, channels ...core.Channel) *core.Notification {
	t.Helper()
	n, err := core.NewNotification("Intrusion detected", "SQL injection from 10.0.0.7",
		core.ChannelEmail, core.NotifyCritical, []string{"admin-1"}, channels, "THREAT-x")
	require.NoError(t, err)
	return n
}

func newTestDispatcher(senders ...ChannelSender) *Dispatcher {
	return NewDispatcher(senders, 1000, zap.NewNop().Sugar())
}

func TestDispatch_SingleChannelSuccess(t *testing.T) {
	sender := NewMockSender(core.ChannelEmail, 0)
	d := newTestDispatcher(sender)

	n := d.Dispatch(context.Background(), testNotification(t, core.ChannelEmail))

	assert.Equal(t, core.NotificationDelivered, n.Status)
	require.NotNil(t, n.DeliveredAt)
	require.NotNil(t, n.SentAt)
	require.Len(t, n.DeliveryAttempts, 1)
	assert.Equal(t, 1, n.DeliveryAttempts[0].Attempt)
	assert.Equal(t, core.AttemptSuccess, n.DeliveryAttempts[0].Outcome)
}

func TestDispatch_FailureLeavesRetryable(t *testing.T) {
	sender := NewMockSender(core.ChannelEmail, 10)
	d := newTestDispatcher(sender)

	n := d.Dispatch(context.Background(), testNotification(t, core.ChannelEmail))

	assert.Equal(t, core.NotificationSent, n.Status, "below the attempt limit the notification stays retryable")
	require.Len(t, n.DeliveryAttempts, 1)
	assert.Equal(t, core.AttemptFailed, n.DeliveryAttempts[0].Outcome)
	assert.NotEmpty(t, n.DeliveryAttempts[0].Error)
}

func TestDispatch_ThreeRoundsOfFailureIsTerminal(t *testing.T) {
	sender := NewMockSender(core.ChannelEmail, 10)
	d := newTestDispatcher(sender)
	n := testNotification(t, core.ChannelEmail)

	ctx := context.Background()
	d.Dispatch(ctx, n)
	d.Dispatch(ctx, n)
	assert.Equal(t, core.NotificationSent, n.Status)

	d.Dispatch(ctx, n)
	assert.Equal(t, core.NotificationFailed, n.Status)
	assert.Len(t, n.DeliveryAttempts, 3)

	// Terminal records are immutable: a further dispatch is a no-op
	d.Dispatch(ctx, n)
	assert.Len(t, n.DeliveryAttempts, 3)
	assert.Equal(t, 3, sender.Calls())
}

func TestDispatch_FailuresThenSuccessDelivers(t *testing.T) {
	// Email keeps failing, slack keeps failing, webhook succeeds
	email := NewMockSender(core.ChannelEmail, 10)
	slack := NewMockSender(core.ChannelSlack, 10)
	webhook := NewMockSender(core.ChannelWebhook, 0)
	d := newTestDispatcher(email, slack, webhook)

	n := d.Dispatch(context.Background(), testNotification(t, core.ChannelEmail, core.ChannelSlack, core.ChannelWebhook))

	assert.Equal(t, core.NotificationDelivered, n.Status, "one success delivers regardless of other channels")
	assert.True(t, n.HasSuccessfulAttempt())

	// Attempt numbers stay a contiguous 1-based sequence even though
	// channels completed concurrently
	for i, a := range n.DeliveryAttempts {
		assert.Equal(t, i+1, a.Attempt)
	}
}

func TestDispatch_UnconfiguredChannelSkipped(t *testing.T) {
	d := newTestDispatcher(NewMockSender(core.ChannelEmail, 0))

	n := d.Dispatch(context.Background(), testNotification(t, core.ChannelSMS))

	assert.Equal(t, core.NotificationSent, n.Status, "skipped channels burn no attempts")
	assert.Empty(t, n.DeliveryAttempts)
}

func TestDispatch_ResendAfterFailure(t *testing.T) {
	sender := NewMockSender(core.ChannelEmail, 3)
	d := newTestDispatcher(sender)
	n := testNotification(t, core.ChannelEmail)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d.Dispatch(ctx, n)
	}
	require.Equal(t, core.NotificationFailed, n.Status)

	n.Resend()
	d.Dispatch(ctx, n)

	assert.Equal(t, core.NotificationDelivered, n.Status)
	assert.Len(t, n.DeliveryAttempts, 4, "resend preserves the failed history")
	assert.Equal(t, 4, n.DeliveryAttempts[3].Attempt)
}

func TestDispatch_CancelledIsUntouched(t *testing.T) {
	sender := NewMockSender(core.ChannelEmail, 0)
	d := newTestDispatcher(sender)
	n := testNotification(t, core.ChannelEmail)
	require.NoError(t, n.Cancel())

	d.Dispatch(context.Background(), n)

	assert.Equal(t, core.NotificationCancelled, n.Status)
	assert.Empty(t, n.DeliveryAttempts)
	assert.Equal(t, 0, sender.Calls())
}

func TestWebhookSender_DeliversJSON(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(WebhookConfig{URL: srv.URL}, zap.NewNop().Sugar())
	n := testNotification(t, core.ChannelWebhook)

	require.NoError(t, sender.Send(context.Background(), n))
	assert.Equal(t, n.ID, got["id"])
	assert.Equal(t, "Intrusion detected", got["title"])
	assert.Equal(t, "THREAT-x", got["related_threat_id"])
}

func TestWebhookSender_Non2xxIsDeliveryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewWebhookSender(WebhookConfig{URL: srv.URL}, zap.NewNop().Sugar())
	err := sender.Send(context.Background(), testNotification(t, core.ChannelWebhook))
	assert.ErrorIs(t, err, core.ErrDelivery)
}

func TestSlackSender_PostsAttachment(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewSlackSender(SlackConfig{WebhookURL: srv.URL}, zap.NewNop().Sugar())
	require.NoError(t, sender.Send(context.Background(), testNotification(t, core.ChannelSlack)))

	assert.Contains(t, got["text"], "Intrusion detected")
	attachments, ok := got["attachments"].([]interface{})
	require.True(t, ok)
	require.Len(t, attachments, 1)
}

func TestSMSSender_RequiresNumbers(t *testing.T) {
	sender := NewSMSSender(SMSConfig{ProviderURL: "http://localhost:1"}, zap.NewNop().Sugar())
	err := sender.Send(context.Background(), testNotification(t, core.ChannelSMS))
	assert.ErrorIs(t, err, core.ErrDelivery)
}

func TestInAppSender_AlwaysSucceeds(t *testing.T) {
	sender := NewInAppSender(zap.NewNop().Sugar())
	assert.NoError(t, sender.Send(context.Background(), testNotification(t, core.ChannelInApp)))
}

func TestDispatch_ConcurrentNotificationsDoNotInterfere(t *testing.T) {
	sender := NewMockSender(core.ChannelEmail, 0)
	d := newTestDispatcher(sender)

	done := make(chan *core.Notification, 10)
	for i := 0; i < 10; i++ {
		n := testNotification(t, core.ChannelEmail)
		go func() {
			done <- d.Dispatch(context.Background(), n)
		}()
	}

	for i := 0; i < 10; i++ {
		select {
		case n := <-done:
			assert.Equal(t, core.NotificationDelivered, n.Status)
			assert.Len(t, n.DeliveryAttempts, 1)
		case <-time.After(5 * time.Second):
			t.Fatal("dispatch did not complete")
		}
	}
}
