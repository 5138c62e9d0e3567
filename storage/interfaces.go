package storage

import (
	"context"
	"time"

	"bastion/core"
)

// ThreatFilter narrows threat queries and aggregations. Zero-value fields
// are ignored; time bounds are inclusive.
type ThreatFilter struct {
	From     *time.Time
	To       *time.Time
	Type     core.ThreatType
	Severity core.Severity
	Status   core.ThreatStatus
}

// ThreatStatistics is the aggregation result over stored threat records.
type ThreatStatistics struct {
	Total         int64                       `json:"total"`
	ByType        map[core.ThreatType]int64   `json:"by_type"`
	BySeverity    map[core.Severity]int64     `json:"by_severity"`
	ByStatus      map[core.ThreatStatus]int64 `json:"by_status"`
	AvgRiskScore  float64                     `json:"avg_risk_score"`
	AvgConfidence float64                     `json:"avg_confidence"`
}

// NotificationStatistics is the aggregation result over stored notifications.
type NotificationStatistics struct {
	Total      int64                               `json:"total"`
	ByStatus   map[core.NotificationStatus]int64   `json:"by_status"`
	BySeverity map[core.NotificationSeverity]int64 `json:"by_severity"`
}

// ThreatStorageInterface defines the interface for threat record storage
type ThreatStorageInterface interface {
	CreateThreat(ctx context.Context, record *core.ThreatRecord) error
	GetThreat(ctx context.Context, id string) (*core.ThreatRecord, error)
	UpdateThreat(ctx context.Context, record *core.ThreatRecord) error
	GetThreats(ctx context.Context, filter ThreatFilter, limit, offset int) ([]core.ThreatRecord, error)
	GetThreatCount(ctx context.Context, filter ThreatFilter) (int64, error)
	GetStatistics(ctx context.Context, filter ThreatFilter) (*ThreatStatistics, error)
}

// NotificationStorageInterface defines the interface for notification storage
type NotificationStorageInterface interface {
	CreateNotification(ctx context.Context, n *core.Notification) error
	GetNotification(ctx context.Context, id string) (*core.Notification, error)
	UpdateNotification(ctx context.Context, n *core.Notification) error
	GetNotifications(ctx context.Context, limit, offset int) ([]core.Notification, error)
	GetUnreadForRecipient(ctx context.Context, recipient string, limit int) ([]core.Notification, error)
	GetNotificationStatistics(ctx context.Context) (*NotificationStatistics, error)
}
