package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bastion/core"
	"bastion/metrics"
	"bastion/util/goroutine"
)

// Dispatcher fans a notification out across its channels and drives the
// shared delivery log to a terminal state. Channel sends run concurrently;
// the append-and-evaluate step is serialized per notification so the
// attempt counter stays totally ordered. Retry scheduling is the caller's
// concern: a non-terminal notification becomes eligible for another round
// only through an explicit re-dispatch.
type Dispatcher struct {
	senders map[core.Channel]ChannelSender
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
	nowFunc func() time.Time
}

// NewDispatcher builds a dispatcher over the given channel senders.
// Outbound sends across all notifications share one rate limiter so a burst
// of alerts cannot flood the providers.
func NewDispatcher(senders []ChannelSender, sendsPerSecond float64, logger *zap.SugaredLogger) *Dispatcher {
	byChannel := make(map[core.Channel]ChannelSender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	if sendsPerSecond <= 0 {
		sendsPerSecond = 10
	}
	return &Dispatcher{
		senders: byChannel,
		limiter: rate.NewLimiter(rate.Limit(sendsPerSecond), int(sendsPerSecond)+1),
		logger:  logger,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc replaces the clock, for tests that need fixed timestamps.
func (d *Dispatcher) SetNowFunc(now func() time.Time) {
	d.nowFunc = now
}

// Dispatch runs one delivery round for the notification and always returns
// the updated record: delivery failure is domain state, never an error to
// the caller. A notification already in a terminal state is returned
// unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, n *core.Notification) *core.Notification {
	start := time.Now()
	defer func() {
		metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	}()

	if n.IsTerminal() {
		d.logger.Warnw("Dispatch requested for terminal notification, skipping",
			"notification_id", n.ID,
			"status", n.Status)
		return n
	}

	if n.Status == core.NotificationPending {
		n.Status = core.NotificationSent
		t := d.nowFunc()
		n.SentAt = &t
	}

	// mu serializes the append-and-evaluate-terminal-state step across the
	// concurrently completing channel sends of this notification.
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, channel := range n.Channels {
		sender, ok := d.senders[channel]
		if !ok {
			d.logger.Warnw("No sender configured for channel, skipping",
				"notification_id", n.ID,
				"channel", channel)
			continue
		}

		wg.Add(1)
		go func(sender ChannelSender, channel core.Channel) {
			defer wg.Done()
			defer goroutine.Recover("dispatch-"+string(channel), d.logger)

			if err := d.limiter.Wait(ctx); err != nil {
				d.logger.Warnw("Rate limiter wait aborted",
					"notification_id", n.ID,
					"channel", channel,
					"error", err)
				return
			}

			// One success is sufficient for the whole notification: skip
			// the send if another channel already delivered it.
			mu.Lock()
			terminal := n.IsTerminal()
			mu.Unlock()
			if terminal {
				return
			}

			err := sender.Send(ctx, n)

			mu.Lock()
			defer mu.Unlock()
			if n.IsTerminal() {
				// Another channel reached a terminal state while this send
				// was in flight; the record is immutable now.
				return
			}
			if err != nil {
				d.logger.Warnw("Channel send failed",
					"notification_id", n.ID,
					"channel", channel,
					"error", err)
				n.RecordAttempt(channel, core.AttemptFailed, err.Error(), d.nowFunc())
				metrics.DeliveryAttempts.WithLabelValues(string(channel), string(core.AttemptFailed)).Inc()
			} else {
				n.RecordAttempt(channel, core.AttemptSuccess, "", d.nowFunc())
				metrics.DeliveryAttempts.WithLabelValues(string(channel), string(core.AttemptSuccess)).Inc()
			}
		}(sender, channel)
	}

	wg.Wait()

	if n.IsTerminal() {
		metrics.NotificationsTerminal.WithLabelValues(string(n.Status)).Inc()
		d.logger.Infow("Notification reached terminal state",
			"notification_id", n.ID,
			"status", n.Status,
			"attempts", len(n.DeliveryAttempts))
	}
	return n
}
