package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bastion/core"
	"bastion/notify"
	"bastion/storage"
)

// NotificationService owns notification creation, dispatch, read tracking
// and cancellation. The dispatcher handles channel fan-out; this service
// persists the resulting state and emits the domain events external
// collaborators observe.
type NotificationService struct {
	notifications storage.NotificationStorageInterface
	dispatcher    *notify.Dispatcher
	bus           *core.EventBus
	logger        *zap.SugaredLogger
	nowFunc       func() time.Time
}

// NewNotificationService creates the notification service.
func NewNotificationService(
	notifications storage.NotificationStorageInterface,
	dispatcher *notify.Dispatcher,
	bus *core.EventBus,
	logger *zap.SugaredLogger,
) *NotificationService {
	if notifications == nil {
		panic("notification storage is required")
	}
	if dispatcher == nil {
		panic("dispatcher is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &NotificationService{
		notifications: notifications,
		dispatcher:    dispatcher,
		bus:           bus,
		logger:        logger,
		nowFunc:       func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc replaces the clock, for tests that need fixed timestamps.
func (s *NotificationService) SetNowFunc(now func() time.Time) {
	s.nowFunc = now
}

// Create validates and persists a new notification in the pending state.
func (s *NotificationService) Create(ctx context.Context, title, message string, notifType core.Channel, severity core.NotificationSeverity, recipients []string, channels []core.Channel, relatedThreatID string) (*core.Notification, error) {
	n, err := core.NewNotification(title, message, notifType, severity, recipients, channels, relatedThreatID)
	if err != nil {
		return nil, err
	}
	if err := s.notifications.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	if s.bus != nil {
		s.bus.Publish(core.TopicNotificationCreated, n)
	}
	return n, nil
}

// Dispatch runs one delivery round for the notification and persists the
// outcome. Delivery failure is domain state: the returned notification
// carries the attempt log and status, and the only errors reported here are
// lookup and persistence faults.
func (s *NotificationService) Dispatch(ctx context.Context, notificationID string) (*core.Notification, error) {
	n, err := s.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}

	wasTerminal := n.IsTerminal()
	n = s.dispatcher.Dispatch(ctx, n)

	if err := s.notifications.UpdateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to persist dispatch outcome: %w", err)
	}

	if s.bus != nil && !wasTerminal {
		switch n.Status {
		case core.NotificationDelivered:
			s.bus.Publish(core.TopicNotificationDelivered, n)
		case core.NotificationFailed:
			s.bus.Publish(core.TopicNotificationFailed, n)
		}
	}
	return n, nil
}

// GetNotification fetches one notification by id.
func (s *NotificationService) GetNotification(ctx context.Context, notificationID string) (*core.Notification, error) {
	n, err := s.notifications.GetNotification(ctx, notificationID)
	if errors.Is(err, storage.ErrNotificationNotFound) {
		return nil, fmt.Errorf("%w: notification %s", core.ErrNotFound, notificationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notification: %w", err)
	}
	return n, nil
}

// MarkRead records a read receipt for the recipient and persists it.
// Idempotent: marking an already-read notification is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID, recipientID string) (*core.Notification, error) {
	if recipientID == "" {
		return nil, fmt.Errorf("%w: recipient is required", core.ErrValidation)
	}
	n, err := s.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	n.MarkRead(recipientID, s.nowFunc())
	if err := s.notifications.UpdateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to persist read receipt: %w", err)
	}
	return n, nil
}

// Resend resets the notification for another dispatch round, preserving the
// delivery history, and persists it. The actual redelivery happens on the
// next explicit Dispatch call.
func (s *NotificationService) Resend(ctx context.Context, notificationID string) (*core.Notification, error) {
	n, err := s.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	n.Resend()
	if err := s.notifications.UpdateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to persist resend: %w", err)
	}

	s.logger.Infow("Notification queued for resend",
		"notification_id", n.ID,
		"previous_attempts", len(n.DeliveryAttempts))
	return n, nil
}

// Cancel transitions a pending or sent notification to cancelled and
// persists it. Terminal notifications cannot be cancelled.
func (s *NotificationService) Cancel(ctx context.Context, notificationID string) (*core.Notification, error) {
	n, err := s.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if err := n.Cancel(); err != nil {
		return nil, err
	}
	if err := s.notifications.UpdateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to persist cancellation: %w", err)
	}

	if s.bus != nil {
		s.bus.Publish(core.TopicNotificationCancelled, n)
	}
	return n, nil
}

// GetUnread lists the recipient's unread, non-cancelled notifications.
func (s *NotificationService) GetUnread(ctx context.Context, recipientID string, limit int) ([]core.Notification, error) {
	return s.notifications.GetUnreadForRecipient(ctx, recipientID, limit)
}

// GetStatistics aggregates totals and per-status counts over all stored
// notifications.
func (s *NotificationService) GetStatistics(ctx context.Context) (*storage.NotificationStatistics, error) {
	stats, err := s.notifications.GetNotificationStatistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate notification statistics: %w", err)
	}
	return stats, nil
}
