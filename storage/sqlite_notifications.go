package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bastion/core"
)

// SQLiteNotificationStorage handles notification CRUD in SQLite. Recipients,
// channels, the delivery log and read receipts are stored as JSON; the
// unread query prefilters on a recipient LIKE pattern and confirms against
// the decoded record, since the JSON columns are opaque to SQL.
type SQLiteNotificationStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteNotificationStorage creates a notification storage handler and
// ensures its schema exists.
func NewSQLiteNotificationStorage(db *SQLite, logger *zap.SugaredLogger) (*SQLiteNotificationStorage, error) {
	s := &SQLiteNotificationStorage{db: db, logger: logger}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure notifications table: %w", err)
	}
	return s, nil
}

func (s *SQLiteNotificationStorage) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		severity TEXT NOT NULL,
		recipients TEXT NOT NULL,  -- JSON array
		channels TEXT NOT NULL,    -- JSON array
		related_threat_id TEXT,    -- weak reference, no foreign key on purpose
		status TEXT NOT NULL DEFAULT 'pending',
		delivery_attempts TEXT,    -- JSON array
		read_by TEXT,              -- JSON array
		created_at DATETIME NOT NULL,
		sent_at DATETIME,
		delivered_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status);
	CREATE INDEX IF NOT EXISTS idx_notifications_severity ON notifications(severity);
	CREATE INDEX IF NOT EXISTS idx_notifications_threat ON notifications(related_threat_id);
	CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at DESC);
	`
	if _, err := s.db.WriteDB.Exec(query); err != nil {
		return fmt.Errorf("failed to create notifications table: %w", err)
	}
	return nil
}

// CreateNotification inserts a new notification.
func (s *SQLiteNotificationStorage) CreateNotification(ctx context.Context, n *core.Notification) error {
	recipientsJSON, channelsJSON, attemptsJSON, readByJSON, err := marshalNotificationFields(n)
	if err != nil {
		return err
	}

	_, err = s.db.WriteDB.ExecContext(ctx, `
		INSERT INTO notifications (
			id, type, title, message, severity, recipients, channels,
			related_threat_id, status, delivery_attempts, read_by,
			created_at, sent_at, delivered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, string(n.Type), n.Title, n.Message, string(n.Severity),
		recipientsJSON, channelsJSON, n.RelatedThreatID, string(n.Status),
		attemptsJSON, readByJSON, n.CreatedAt, n.SentAt, n.DeliveredAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateNotification
		}
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	s.logger.Debugw("Created notification",
		"notification_id", n.ID,
		"severity", n.Severity,
		"channels", n.Channels)
	return nil
}

// GetNotification fetches one notification by id. Returns
// ErrNotificationNotFound when no row matches.
func (s *SQLiteNotificationStorage) GetNotification(ctx context.Context, id string) (*core.Notification, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, `
		SELECT id, type, title, message, severity, recipients, channels,
		       related_threat_id, status, delivery_attempts, read_by,
		       created_at, sent_at, delivered_at
		FROM notifications WHERE id = ?`, id)

	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// UpdateNotification persists the full current state of the notification.
// Returns ErrNotificationNotFound when the record does not exist.
func (s *SQLiteNotificationStorage) UpdateNotification(ctx context.Context, n *core.Notification) error {
	recipientsJSON, channelsJSON, attemptsJSON, readByJSON, err := marshalNotificationFields(n)
	if err != nil {
		return err
	}

	result, err := s.db.WriteDB.ExecContext(ctx, `
		UPDATE notifications SET
			type = ?, title = ?, message = ?, severity = ?, recipients = ?,
			channels = ?, related_threat_id = ?, status = ?,
			delivery_attempts = ?, read_by = ?, sent_at = ?, delivered_at = ?
		WHERE id = ?`,
		string(n.Type), n.Title, n.Message, string(n.Severity), recipientsJSON,
		channelsJSON, n.RelatedThreatID, string(n.Status),
		attemptsJSON, readByJSON, n.SentAt, n.DeliveredAt, n.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// GetNotifications lists notifications, newest first.
func (s *SQLiteNotificationStorage) GetNotifications(ctx context.Context, limit, offset int) ([]core.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.ReadDB.QueryContext(ctx, `
		SELECT id, type, title, message, severity, recipients, channels,
		       related_threat_id, status, delivery_attempts, read_by,
		       created_at, sent_at, delivered_at
		FROM notifications ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Debugw("Failed to close rows", "error", err)
		}
	}()

	var notifications []core.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

// GetUnreadForRecipient lists non-cancelled notifications addressed to the
// recipient that carry no read receipt from them, newest first.
func (s *SQLiteNotificationStorage) GetUnreadForRecipient(ctx context.Context, recipient string, limit int) ([]core.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	// The LIKE pattern is only a prefilter; membership is confirmed on the
	// decoded record below.
	pattern := "%" + `"` + recipient + `"` + "%"
	rows, err := s.db.ReadDB.QueryContext(ctx, `
		SELECT id, type, title, message, severity, recipients, channels,
		       related_threat_id, status, delivery_attempts, read_by,
		       created_at, sent_at, delivered_at
		FROM notifications
		WHERE recipients LIKE ? AND status != ?
		ORDER BY created_at DESC`, pattern, string(core.NotificationCancelled))
	if err != nil {
		return nil, fmt.Errorf("failed to query unread notifications: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Debugw("Failed to close rows", "error", err)
		}
	}()

	var notifications []core.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if !containsRecipient(n.Recipients, recipient) || hasReadReceipt(n.ReadBy, recipient) {
			continue
		}
		notifications = append(notifications, *n)
		if len(notifications) >= limit {
			break
		}
	}
	return notifications, rows.Err()
}

// GetNotificationStatistics aggregates totals and per-status and
// per-severity counts over all stored notifications.
func (s *SQLiteNotificationStorage) GetNotificationStatistics(ctx context.Context) (*NotificationStatistics, error) {
	stats := &NotificationStatistics{
		ByStatus:   make(map[core.NotificationStatus]int64),
		BySeverity: make(map[core.NotificationSeverity]int64),
	}

	if err := s.db.ReadDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}

	rows, err := s.db.ReadDB.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM notifications GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate notifications by status: %w", err)
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan status aggregate: %w", err)
		}
		stats.ByStatus[core.NotificationStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate status aggregates: %w", err)
	}
	_ = rows.Close()

	rows, err = s.db.ReadDB.QueryContext(ctx,
		"SELECT severity, COUNT(*) FROM notifications GROUP BY severity")
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate notifications by severity: %w", err)
	}
	for rows.Next() {
		var severity string
		var count int64
		if err := rows.Scan(&severity, &count); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan severity aggregate: %w", err)
		}
		stats.BySeverity[core.NotificationSeverity(severity)] = count
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to iterate severity aggregates: %w", err)
	}
	_ = rows.Close()

	return stats, nil
}

func marshalNotificationFields(n *core.Notification) (recipients, channels, attempts, readBy string, err error) {
	recipientsJSON, err := json.Marshal(n.Recipients)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal recipients: %w", err)
	}
	channelsJSON, err := json.Marshal(n.Channels)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal channels: %w", err)
	}
	attemptsJSON, err := json.Marshal(n.DeliveryAttempts)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal delivery attempts: %w", err)
	}
	readByJSON, err := json.Marshal(n.ReadBy)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal read receipts: %w", err)
	}
	return string(recipientsJSON), string(channelsJSON), string(attemptsJSON), string(readByJSON), nil
}

func scanNotification(row rowScanner) (*core.Notification, error) {
	var n core.Notification
	var notifType, severity, status string
	var relatedThreatID sql.NullString
	var recipientsJSON, channelsJSON, attemptsJSON, readByJSON sql.NullString
	var createdAt time.Time
	var sentAt, deliveredAt sql.NullTime

	err := row.Scan(
		&n.ID, &notifType, &n.Title, &n.Message, &severity,
		&recipientsJSON, &channelsJSON, &relatedThreatID, &status,
		&attemptsJSON, &readByJSON, &createdAt, &sentAt, &deliveredAt,
	)
	if err != nil {
		return nil, err
	}

	n.Type = core.Channel(notifType)
	n.Severity = core.NotificationSeverity(severity)
	n.Status = core.NotificationStatus(status)
	n.RelatedThreatID = relatedThreatID.String
	n.CreatedAt = createdAt
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		n.DeliveredAt = &t
	}

	for _, field := range []struct {
		raw  sql.NullString
		dest interface{}
		name string
	}{
		{recipientsJSON, &n.Recipients, "recipients"},
		{channelsJSON, &n.Channels, "channels"},
		{attemptsJSON, &n.DeliveryAttempts, "delivery attempts"},
		{readByJSON, &n.ReadBy, "read receipts"},
	} {
		if field.raw.Valid && field.raw.String != "" {
			if err := json.Unmarshal([]byte(field.raw.String), field.dest); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s: %w", field.name, err)
			}
		}
	}
	return &n, nil
}

func containsRecipient(recipients []string, recipient string) bool {
	for _, r := range recipients {
		if r == recipient {
			return true
		}
	}
	return false
}

func hasReadReceipt(receipts []core.ReadReceipt, recipient string) bool {
	for _, r := range receipts {
		if r.Recipient == recipient {
			return true
		}
	}
	return false
}
