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

// SQLiteThreatStorage handles threat record CRUD and aggregation in SQLite.
// Confidence and risk score are promoted to columns so statistics can run
// as SQL aggregates; the nested investigation and action structures are
// stored as JSON.
type SQLiteThreatStorage struct {
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteThreatStorage creates a threat storage handler and ensures its
// schema exists.
func NewSQLiteThreatStorage(db *SQLite, logger *zap.SugaredLogger) (*SQLiteThreatStorage, error) {
	s := &SQLiteThreatStorage{db: db, logger: logger}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure threats table: %w", err)
	}
	return s, nil
}

func (s *SQLiteThreatStorage) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS threats (
		threat_id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'new',
		source_identity TEXT NOT NULL,
		target_endpoint TEXT,
		confidence INTEGER NOT NULL,
		risk_score INTEGER NOT NULL,
		patterns TEXT,       -- JSON array
		description TEXT,
		investigation TEXT,  -- JSON object
		actions TEXT,        -- JSON array
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_threats_type ON threats(type);
	CREATE INDEX IF NOT EXISTS idx_threats_severity ON threats(severity);
	CREATE INDEX IF NOT EXISTS idx_threats_status ON threats(status);
	CREATE INDEX IF NOT EXISTS idx_threats_source ON threats(source_identity);
	CREATE INDEX IF NOT EXISTS idx_threats_created_at ON threats(created_at DESC);
	`
	if _, err := s.db.WriteDB.Exec(query); err != nil {
		return fmt.Errorf("failed to create threats table: %w", err)
	}
	return nil
}

// CreateThreat inserts a new threat record.
func (s *SQLiteThreatStorage) CreateThreat(ctx context.Context, record *core.ThreatRecord) error {
	patternsJSON, err := json.Marshal(record.Analysis.Patterns)
	if err != nil {
		return fmt.Errorf("failed to marshal patterns: %w", err)
	}
	investigationJSON, err := json.Marshal(record.Investigation)
	if err != nil {
		return fmt.Errorf("failed to marshal investigation: %w", err)
	}
	actionsJSON, err := json.Marshal(record.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	_, err = s.db.WriteDB.ExecContext(ctx, `
		INSERT INTO threats (
			threat_id, type, severity, status, source_identity, target_endpoint,
			confidence, risk_score, patterns, description, investigation, actions,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ThreatID, string(record.Type), string(record.Severity), string(record.Status),
		record.SourceIdentity, record.TargetEndpoint,
		record.Analysis.Confidence, record.Analysis.RiskScore,
		string(patternsJSON), record.Analysis.Description,
		string(investigationJSON), string(actionsJSON),
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateThreat
		}
		return fmt.Errorf("failed to insert threat record: %w", err)
	}

	s.logger.Debugw("Created threat record",
		"threat_id", record.ThreatID,
		"type", record.Type,
		"severity", record.Severity)
	return nil
}

// GetThreat fetches one threat record by id. Returns ErrThreatNotFound when
// no row matches.
func (s *SQLiteThreatStorage) GetThreat(ctx context.Context, id string) (*core.ThreatRecord, error) {
	row := s.db.ReadDB.QueryRowContext(ctx, `
		SELECT threat_id, type, severity, status, source_identity, target_endpoint,
		       confidence, risk_score, patterns, description, investigation, actions,
		       created_at, updated_at
		FROM threats WHERE threat_id = ?`, id)

	record, err := scanThreat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get threat record: %w", err)
	}
	return record, nil
}

// UpdateThreat persists the full current state of the record. Returns
// ErrThreatNotFound when the record does not exist.
func (s *SQLiteThreatStorage) UpdateThreat(ctx context.Context, record *core.ThreatRecord) error {
	patternsJSON, err := json.Marshal(record.Analysis.Patterns)
	if err != nil {
		return fmt.Errorf("failed to marshal patterns: %w", err)
	}
	investigationJSON, err := json.Marshal(record.Investigation)
	if err != nil {
		return fmt.Errorf("failed to marshal investigation: %w", err)
	}
	actionsJSON, err := json.Marshal(record.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	result, err := s.db.WriteDB.ExecContext(ctx, `
		UPDATE threats SET
			type = ?, severity = ?, status = ?, source_identity = ?, target_endpoint = ?,
			confidence = ?, risk_score = ?, patterns = ?, description = ?,
			investigation = ?, actions = ?, updated_at = ?
		WHERE threat_id = ?`,
		string(record.Type), string(record.Severity), string(record.Status),
		record.SourceIdentity, record.TargetEndpoint,
		record.Analysis.Confidence, record.Analysis.RiskScore,
		string(patternsJSON), record.Analysis.Description,
		string(investigationJSON), string(actionsJSON),
		record.UpdatedAt, record.ThreatID,
	)
	if err != nil {
		return fmt.Errorf("failed to update threat record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ErrThreatNotFound
	}
	return nil
}

// GetThreats lists threat records matching the filter, newest first.
func (s *SQLiteThreatStorage) GetThreats(ctx context.Context, filter ThreatFilter, limit, offset int) ([]core.ThreatRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := buildThreatFilter(filter)
	query := `
		SELECT threat_id, type, severity, status, source_identity, target_endpoint,
		       confidence, risk_score, patterns, description, investigation, actions,
		       created_at, updated_at
		FROM threats` + where + `
		ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query threat records: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Debugw("Failed to close rows", "error", err)
		}
	}()

	var records []core.ThreatRecord
	for rows.Next() {
		record, err := scanThreat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan threat record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// GetThreatCount counts threat records matching the filter.
func (s *SQLiteThreatStorage) GetThreatCount(ctx context.Context, filter ThreatFilter) (int64, error) {
	where, args := buildThreatFilter(filter)
	var count int64
	err := s.db.ReadDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM threats"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count threat records: %w", err)
	}
	return count, nil
}

// GetStatistics aggregates the stored records matching the filter: totals,
// per-enum breakdowns, and average risk score and confidence.
func (s *SQLiteThreatStorage) GetStatistics(ctx context.Context, filter ThreatFilter) (*ThreatStatistics, error) {
	where, args := buildThreatFilter(filter)

	stats := &ThreatStatistics{
		ByType:     make(map[core.ThreatType]int64),
		BySeverity: make(map[core.Severity]int64),
		ByStatus:   make(map[core.ThreatStatus]int64),
	}

	var avgRisk, avgConfidence sql.NullFloat64
	err := s.db.ReadDB.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(risk_score), AVG(confidence) FROM threats"+where, args...,
	).Scan(&stats.Total, &avgRisk, &avgConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate threat totals: %w", err)
	}
	stats.AvgRiskScore = avgRisk.Float64
	stats.AvgConfidence = avgConfidence.Float64

	for _, group := range []struct {
		column string
		assign func(key string, count int64)
	}{
		{"type", func(k string, c int64) { stats.ByType[core.ThreatType(k)] = c }},
		{"severity", func(k string, c int64) { stats.BySeverity[core.Severity(k)] = c }},
		{"status", func(k string, c int64) { stats.ByStatus[core.ThreatStatus(k)] = c }},
	} {
		query := fmt.Sprintf("SELECT %s, COUNT(*) FROM threats%s GROUP BY %s", group.column, where, group.column)
		rows, err := s.db.ReadDB.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate threats by %s: %w", group.column, err)
		}
		for rows.Next() {
			var key string
			var count int64
			if err := rows.Scan(&key, &count); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan %s aggregate: %w", group.column, err)
			}
			group.assign(key, count)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to iterate %s aggregates: %w", group.column, err)
		}
		_ = rows.Close()
	}

	return stats, nil
}

// buildThreatFilter translates the filter into a WHERE clause with
// positional args. Returns an empty clause for a zero filter.
func buildThreatFilter(filter ThreatFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.From != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, *filter.To)
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanThreat(row rowScanner) (*core.ThreatRecord, error) {
	var record core.ThreatRecord
	var threatType, severity, status string
	var targetEndpoint sql.NullString
	var patternsJSON, description, investigationJSON, actionsJSON sql.NullString
	var createdAt, updatedAt time.Time

	err := row.Scan(
		&record.ThreatID, &threatType, &severity, &status,
		&record.SourceIdentity, &targetEndpoint,
		&record.Analysis.Confidence, &record.Analysis.RiskScore,
		&patternsJSON, &description, &investigationJSON, &actionsJSON,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Type = core.ThreatType(threatType)
	record.Severity = core.Severity(severity)
	record.Status = core.ThreatStatus(status)
	record.TargetEndpoint = targetEndpoint.String
	record.Analysis.Description = description.String
	record.CreatedAt = createdAt
	record.UpdatedAt = updatedAt

	if patternsJSON.Valid && patternsJSON.String != "" {
		if err := json.Unmarshal([]byte(patternsJSON.String), &record.Analysis.Patterns); err != nil {
			return nil, fmt.Errorf("failed to unmarshal patterns: %w", err)
		}
	}
	if investigationJSON.Valid && investigationJSON.String != "" {
		if err := json.Unmarshal([]byte(investigationJSON.String), &record.Investigation); err != nil {
			return nil, fmt.Errorf("failed to unmarshal investigation: %w", err)
		}
	}
	if actionsJSON.Valid && actionsJSON.String != "" {
		if err := json.Unmarshal([]byte(actionsJSON.String), &record.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
		}
	}
	return &record, nil
}
