package storage

import (
	"context"
	"sort"
	"sync"

	"bastion/core"
)

// MockThreatStorage implements ThreatStorageInterface in memory for testing.
type MockThreatStorage struct {
	mu      sync.RWMutex
	threats map[string]core.ThreatRecord
}

func NewMockThreatStorage() *MockThreatStorage {
	return &MockThreatStorage{threats: make(map[string]core.ThreatRecord)}
}

func (m *MockThreatStorage) CreateThreat(_ context.Context, record *core.ThreatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.threats[record.ThreatID]; exists {
		return ErrDuplicateThreat
	}
	m.threats[record.ThreatID] = *record
	return nil
}

func (m *MockThreatStorage) GetThreat(_ context.Context, id string) (*core.ThreatRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.threats[id]
	if !ok {
		return nil, ErrThreatNotFound
	}
	out := record
	return &out, nil
}

func (m *MockThreatStorage) UpdateThreat(_ context.Context, record *core.ThreatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threats[record.ThreatID]; !ok {
		return ErrThreatNotFound
	}
	m.threats[record.ThreatID] = *record
	return nil
}

func (m *MockThreatStorage) GetThreats(_ context.Context, filter ThreatFilter, limit, offset int) ([]core.ThreatRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	matched := m.matchingLocked(filter)
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (m *MockThreatStorage) GetThreatCount(_ context.Context, filter ThreatFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.matchingLocked(filter))), nil
}

func (m *MockThreatStorage) GetStatistics(_ context.Context, filter ThreatFilter) (*ThreatStatistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &ThreatStatistics{
		ByType:     make(map[core.ThreatType]int64),
		BySeverity: make(map[core.Severity]int64),
		ByStatus:   make(map[core.ThreatStatus]int64),
	}
	var riskSum, confidenceSum int64
	for _, record := range m.matchingLocked(filter) {
		stats.Total++
		stats.ByType[record.Type]++
		stats.BySeverity[record.Severity]++
		stats.ByStatus[record.Status]++
		riskSum += int64(record.Analysis.RiskScore)
		confidenceSum += int64(record.Analysis.Confidence)
	}
	if stats.Total > 0 {
		stats.AvgRiskScore = float64(riskSum) / float64(stats.Total)
		stats.AvgConfidence = float64(confidenceSum) / float64(stats.Total)
	}
	return stats, nil
}

func (m *MockThreatStorage) matchingLocked(filter ThreatFilter) []core.ThreatRecord {
	var matched []core.ThreatRecord
	for _, record := range m.threats {
		if filter.From != nil && record.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && record.CreatedAt.After(*filter.To) {
			continue
		}
		if filter.Type != "" && record.Type != filter.Type {
			continue
		}
		if filter.Severity != "" && record.Severity != filter.Severity {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		matched = append(matched, record)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched
}

// MockNotificationStorage implements NotificationStorageInterface in memory
// for testing.
type MockNotificationStorage struct {
	mu            sync.RWMutex
	notifications map[string]core.Notification
}

func NewMockNotificationStorage() *MockNotificationStorage {
	return &MockNotificationStorage{notifications: make(map[string]core.Notification)}
}

func (m *MockNotificationStorage) CreateNotification(_ context.Context, n *core.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.notifications[n.ID]; exists {
		return ErrDuplicateNotification
	}
	m.notifications[n.ID] = *n
	return nil
}

func (m *MockNotificationStorage) GetNotification(_ context.Context, id string) (*core.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	out := n
	return &out, nil
}

func (m *MockNotificationStorage) UpdateNotification(_ context.Context, n *core.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; !ok {
		return ErrNotificationNotFound
	}
	m.notifications[n.ID] = *n
	return nil
}

func (m *MockNotificationStorage) GetNotifications(_ context.Context, limit, offset int) ([]core.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	all := make([]core.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MockNotificationStorage) GetUnreadForRecipient(_ context.Context, recipient string, limit int) ([]core.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var unread []core.Notification
	for _, n := range m.notifications {
		if n.Status == core.NotificationCancelled {
			continue
		}
		if !containsRecipient(n.Recipients, recipient) || hasReadReceipt(n.ReadBy, recipient) {
			continue
		}
		unread = append(unread, n)
	}
	sort.Slice(unread, func(i, j int) bool {
		return unread[i].CreatedAt.After(unread[j].CreatedAt)
	})
	if len(unread) > limit {
		unread = unread[:limit]
	}
	return unread, nil
}

func (m *MockNotificationStorage) GetNotificationStatistics(_ context.Context) (*NotificationStatistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &NotificationStatistics{
		ByStatus:   make(map[core.NotificationStatus]int64),
		BySeverity: make(map[core.NotificationSeverity]int64),
	}
	for _, n := range m.notifications {
		stats.Total++
		stats.ByStatus[n.Status]++
		stats.BySeverity[n.Severity]++
	}
	return stats, nil
}
