package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bastion/core"
	"bastion/detect"
	"bastion/metrics"
	"bastion/storage"
)

// ThreatService drives the detection-to-record pipeline and owns the
// lifecycle operations on stored threat records. It sits between the ingest
// boundary and the storage layer; persistence of every mutation is explicit
// here, never implicit in the record itself.
type ThreatService struct {
	detector *detect.Detector
	threats  storage.ThreatStorageInterface
	notifier *NotificationService
	bus      *core.EventBus
	logger   *zap.SugaredLogger

	// adminRecipients receive the automatic notification for high and
	// critical threats. Empty disables auto-notification.
	adminRecipients []string
}

// NewThreatService creates the threat pipeline service. The notifier may be
// nil, which disables automatic notifications.
func NewThreatService(
	detector *detect.Detector,
	threats storage.ThreatStorageInterface,
	notifier *NotificationService,
	bus *core.EventBus,
	adminRecipients []string,
	logger *zap.SugaredLogger,
) *ThreatService {
	if detector == nil {
		panic("detector is required")
	}
	if threats == nil {
		panic("threat storage is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &ThreatService{
		detector:        detector,
		threats:         threats,
		notifier:        notifier,
		bus:             bus,
		adminRecipients: adminRecipients,
		logger:          logger,
	}
}

// SubmitEvent runs one event through detection, scoring and record
// creation. It returns nil when no signature or threshold is crossed; the
// caller may still log the raw event outside this pipeline. When detection
// produced a record of high or critical severity, an admin notification is
// created and dispatched automatically.
func (s *ThreatService) SubmitEvent(ctx context.Context, event *core.SecurityEvent) (*core.ThreatRecord, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: event is required", core.ErrValidation)
	}
	if event.SourceIdentity == "" {
		return nil, fmt.Errorf("%w: source identity is required", core.ErrValidation)
	}
	if event.EventType == "" {
		return nil, fmt.Errorf("%w: event type is required", core.ErrValidation)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	det := s.detector.Detect(ctx, event)
	if det.Empty() {
		return nil, nil
	}

	analysis := detect.Score(det)
	severity := detect.DeriveSeverity(det.Types)

	record, err := core.NewThreatRecord(primaryThreatType(det.Types), severity, event.SourceIdentity, analysis)
	if err != nil {
		return nil, err
	}
	record.TargetEndpoint = event.TargetEndpoint

	if err := s.threats.CreateThreat(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist threat record: %w", err)
	}
	metrics.ThreatRecordsCreated.WithLabelValues(string(severity)).Inc()

	if s.bus != nil {
		s.bus.Publish(core.TopicThreatCreated, record)
	}

	if severity.Rank() >= core.SeverityHigh.Rank() {
		s.autoNotify(ctx, record)
	}

	return record, nil
}

// autoNotify creates and dispatches the admin alert for a high or critical
// threat. Notification failure never fails event submission; the threat
// record already exists and the delivery outcome is tracked on the
// notification itself.
func (s *ThreatService) autoNotify(ctx context.Context, record *core.ThreatRecord) {
	if s.notifier == nil || len(s.adminRecipients) == 0 {
		return
	}

	title := fmt.Sprintf("Security threat detected: %s", record.Type)
	message := fmt.Sprintf("%s from %s (risk score %d)",
		record.Analysis.Description, record.SourceIdentity, record.Analysis.RiskScore)

	n, err := s.notifier.Create(ctx, title, message, core.ChannelInApp,
		detect.NotificationSeverityFor(record.Severity), s.adminRecipients,
		[]core.Channel{core.ChannelInApp, core.ChannelEmail}, record.ThreatID)
	if err != nil {
		s.logger.Errorw("Failed to create automatic notification",
			"threat_id", record.ThreatID,
			"error", err)
		return
	}

	if _, err := s.notifier.Dispatch(ctx, n.ID); err != nil {
		s.logger.Errorw("Failed to dispatch automatic notification",
			"threat_id", record.ThreatID,
			"notification_id", n.ID,
			"error", err)
	}
}

// GetThreat fetches one threat record by id.
func (s *ThreatService) GetThreat(ctx context.Context, threatID string) (*core.ThreatRecord, error) {
	record, err := s.threats.GetThreat(ctx, threatID)
	if errors.Is(err, storage.ErrThreatNotFound) {
		return nil, fmt.Errorf("%w: threat %s", core.ErrNotFound, threatID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load threat record: %w", err)
	}
	return record, nil
}

// GetThreats lists threat records matching the filter, newest first.
func (s *ThreatService) GetThreats(ctx context.Context, filter storage.ThreatFilter, limit, offset int) ([]core.ThreatRecord, error) {
	return s.threats.GetThreats(ctx, filter, limit, offset)
}

// AddNote appends an investigation note and persists the record.
func (s *ThreatService) AddNote(ctx context.Context, threatID, content, authorID string) (*core.ThreatRecord, error) {
	record, err := s.GetThreat(ctx, threatID)
	if err != nil {
		return nil, err
	}
	if err := record.AddNote(content, authorID); err != nil {
		return nil, err
	}
	if err := s.threats.UpdateThreat(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist note: %w", err)
	}
	return record, nil
}

// Assign sets the investigation assignee and persists the record. The
// threat status is left unchanged.
func (s *ThreatService) Assign(ctx context.Context, threatID, userID string) (*core.ThreatRecord, error) {
	record, err := s.GetThreat(ctx, threatID)
	if err != nil {
		return nil, err
	}
	if err := record.Assign(userID); err != nil {
		return nil, err
	}
	if err := s.threats.UpdateThreat(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist assignment: %w", err)
	}
	return record, nil
}

// UpdateStatus transitions the record through the lifecycle state machine
// and persists it. Invalid transitions leave the stored record unchanged.
func (s *ThreatService) UpdateStatus(ctx context.Context, threatID string, newStatus core.ThreatStatus) (*core.ThreatRecord, error) {
	record, err := s.GetThreat(ctx, threatID)
	if err != nil {
		return nil, err
	}
	previous := record.Status
	if err := record.TransitionTo(newStatus); err != nil {
		return nil, err
	}
	if err := s.threats.UpdateThreat(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist status change: %w", err)
	}

	s.logger.Infow("Threat status changed",
		"threat_id", threatID,
		"from", previous,
		"to", newStatus)
	if s.bus != nil {
		s.bus.Publish(core.TopicThreatStatusChanged, record)
	}
	return record, nil
}

// RecordAction appends a response action with its own execution status,
// independent of the parent threat's status, and persists the record.
func (s *ThreatService) RecordAction(ctx context.Context, threatID string, actionType core.ActionType, description, executedBy string, status core.ActionStatus) (*core.ThreatRecord, error) {
	record, err := s.GetThreat(ctx, threatID)
	if err != nil {
		return nil, err
	}
	if err := record.RecordAction(actionType, description, executedBy, status); err != nil {
		return nil, err
	}
	if err := s.threats.UpdateThreat(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist action: %w", err)
	}
	return record, nil
}

// GetStatistics aggregates the stored threat records matching the filter.
func (s *ThreatService) GetStatistics(ctx context.Context, filter storage.ThreatFilter) (*storage.ThreatStatistics, error) {
	stats, err := s.threats.GetStatistics(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate threat statistics: %w", err)
	}
	return stats, nil
}

// primaryThreatType picks the record type when an event matched several
// categories at once: the one carrying the highest derived severity wins,
// ties resolve to detection order.
func primaryThreatType(types []core.ThreatType) core.ThreatType {
	primary := types[0]
	best := detect.DeriveSeverity([]core.ThreatType{primary}).Rank()
	for _, t := range types[1:] {
		if r := detect.DeriveSeverity([]core.ThreatType{t}).Rank(); r > best {
			primary = t
			best = r
		}
	}
	return primary
}
