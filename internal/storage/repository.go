package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

// CreateConnectionSettings stores a new target-database connection and makes
// it the single active one.
func (r *Repository) CreateConnectionSettings(ctx context.Context, cs ConnectionSettings) (string, error) {
	tx, err := r.Store.Pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `UPDATE connection_settings SET is_active=false WHERE is_active=true`); err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO connection_settings (id, driver, host, port, database_name, user_name, password, ssl, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,true,now())`,
		id, cs.Driver, cs.Host, cs.Port, cs.DatabaseName, cs.Username, cs.Password, cs.SSL,
	)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ActiveConnectionSettings(ctx context.Context) (ConnectionSettings, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, driver, host, port, database_name, user_name, password, ssl, is_active, created_at
		FROM connection_settings WHERE is_active=true ORDER BY created_at DESC LIMIT 1`)
	var cs ConnectionSettings
	if err := row.Scan(&cs.ID, &cs.Driver, &cs.Host, &cs.Port, &cs.DatabaseName, &cs.Username, &cs.Password, &cs.SSL, &cs.IsActive, &cs.CreatedAt); err != nil {
		return ConnectionSettings{}, ErrNotFound
	}
	return cs, nil
}

func (r *Repository) CreateRule(ctx context.Context, rec RuleRecord) (string, error) {
	id := uuid.NewString()
	var policyID any
	if rec.PolicyID != "" {
		policyID = rec.PolicyID
	}
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO rules (id, policy_id, rule_code, description, evaluation_criteria, target_table, generated_sql, severity, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())`,
		id, policyID, rec.RuleCode, rec.Description, rec.EvaluationCriteria, rec.TargetTable, rec.GeneratedSQL, rec.Severity, rec.IsActive,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

const ruleColumns = `id, COALESCE(policy_id::text, ''), rule_code, description, evaluation_criteria, target_table, generated_sql, severity, is_active, created_at`

func scanRule(row pgx.Row) (RuleRecord, error) {
	var rec RuleRecord
	err := row.Scan(&rec.ID, &rec.PolicyID, &rec.RuleCode, &rec.Description, &rec.EvaluationCriteria, &rec.TargetTable, &rec.GeneratedSQL, &rec.Severity, &rec.IsActive, &rec.CreatedAt)
	return rec, err
}

func (r *Repository) GetRule(ctx context.Context, id string) (RuleRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id=$1`, id)
	rec, err := scanRule(row)
	if err != nil {
		return RuleRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *Repository) ActiveRules(ctx context.Context) ([]RuleRecord, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE is_active=true ORDER BY created_at`)
}

// RulesForPolicy lists every rule extracted from one policy document.
func (r *Repository) RulesForPolicy(ctx context.Context, policyID string) ([]RuleRecord, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE policy_id=$1 ORDER BY created_at`, policyID)
}

func (r *Repository) queryRules(ctx context.Context, query string, args ...any) ([]RuleRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []RuleRecord{}
	for rows.Next() {
		rec, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// UpdateRuleSQL persists the query synthesized for a rule back onto its
// cache field.
func (r *Repository) UpdateRuleSQL(ctx context.Context, id string, generatedSQL string) error {
	_, err := r.Store.Pool.Exec(ctx, `UPDATE rules SET generated_sql=$1 WHERE id=$2`, generatedSQL, id)
	return err
}

// InsertViolations persists a batch of violations in a single transaction.
// The whole batch commits or none of it does.
func (r *Repository) InsertViolations(ctx context.Context, violations []ViolationRecord) error {
	if len(violations) == 0 {
		return nil
	}
	tx, err := r.Store.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for i := range violations {
		v := &violations[i]
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		data, err := json.Marshal(v.RecordData)
		if err != nil {
			return fmt.Errorf("marshal record data: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO violations (id, rule_id, record_identifier, record_data, justification, remediation_suggestion, severity, status, detected_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			v.ID, v.RuleID, v.RecordIdentifier, data, v.Justification, v.RemediationSuggestion, v.Severity, v.Status, v.DetectedAt,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ViolationKeys returns the dedup keys of every stored violation.
func (r *Repository) ViolationKeys(ctx context.Context) (map[ViolationKey]struct{}, error) {
	rows, err := r.Store.Pool.Query(ctx, `SELECT rule_id, record_identifier FROM violations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := map[ViolationKey]struct{}{}
	for rows.Next() {
		var key ViolationKey
		if err := rows.Scan(&key.RuleID, &key.RecordIdentifier); err != nil {
			return nil, err
		}
		keys[key] = struct{}{}
	}
	return keys, rows.Err()
}

func (r *Repository) ListViolations(ctx context.Context, status string, limit int) ([]ViolationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, rule_id, record_identifier, record_data, justification, remediation_suggestion, severity, status, detected_at, resolved_at
		FROM violations`
	args := []any{}
	if status != "" {
		query += ` WHERE status=$1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY detected_at DESC LIMIT %d`, limit)
	rows, err := r.Store.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []ViolationRecord{}
	for rows.Next() {
		var rec ViolationRecord
		var data []byte
		if err := rows.Scan(&rec.ID, &rec.RuleID, &rec.RecordIdentifier, &data, &rec.Justification, &rec.RemediationSuggestion, &rec.Severity, &rec.Status, &rec.DetectedAt, &rec.ResolvedAt); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &rec.RecordData)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (r *Repository) GetViolation(ctx context.Context, id string) (ViolationRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, rule_id, record_identifier, record_data, justification, remediation_suggestion, severity, status, detected_at, resolved_at
		FROM violations WHERE id=$1`, id)
	var rec ViolationRecord
	var data []byte
	if err := row.Scan(&rec.ID, &rec.RuleID, &rec.RecordIdentifier, &data, &rec.Justification, &rec.RemediationSuggestion, &rec.Severity, &rec.Status, &rec.DetectedAt, &rec.ResolvedAt); err != nil {
		return ViolationRecord{}, ErrNotFound
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &rec.RecordData)
	}
	return rec, nil
}

// ReviewViolation applies a review status. Resolving stamps resolved_at.
func (r *Repository) ReviewViolation(ctx context.Context, id string, status string) error {
	if !ValidViolationStatus(status) {
		return fmt.Errorf("invalid violation status %q", status)
	}
	var resolvedAt *time.Time
	if status == ViolationResolved {
		now := time.Now().UTC()
		resolvedAt = &now
	}
	tag, err := r.Store.Pool.Exec(ctx, `UPDATE violations SET status=$1, resolved_at=$2 WHERE id=$3`, status, resolvedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) CreateScanRecord(ctx context.Context, rec ScanRecord) (string, error) {
	id := uuid.NewString()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO scan_records (id, started_at, status, violations_found, new_violations)
		VALUES ($1,$2,$3,0,0)`,
		id, rec.StartedAt, rec.Status,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) UpdateScanRecord(ctx context.Context, rec ScanRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		UPDATE scan_records
		SET completed_at=$1, status=$2, violations_found=$3, new_violations=$4, error_message=$5
		WHERE id=$6`,
		rec.CompletedAt, rec.Status, rec.ViolationsFound, rec.NewViolations, rec.ErrorMessage, rec.ID,
	)
	return err
}

func (r *Repository) GetScheduleConfig(ctx context.Context) (ScheduleConfig, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, interval_minutes, is_enabled, next_run_at, last_run_at
		FROM schedule_config LIMIT 1`)
	var cfg ScheduleConfig
	if err := row.Scan(&cfg.ID, &cfg.IntervalMinutes, &cfg.IsEnabled, &cfg.NextRunAt, &cfg.LastRunAt); err != nil {
		return ScheduleConfig{}, ErrNotFound
	}
	return cfg, nil
}

// SaveScheduleConfig creates the single schedule row on first use and updates
// it thereafter.
func (r *Repository) SaveScheduleConfig(ctx context.Context, intervalMinutes int, enabled bool, nextRun *time.Time) error {
	existing, err := r.GetScheduleConfig(ctx)
	if err != nil {
		_, err := r.Store.Pool.Exec(ctx, `
			INSERT INTO schedule_config (id, interval_minutes, is_enabled, next_run_at)
			VALUES ($1,$2,$3,$4)`,
			uuid.NewString(), intervalMinutes, enabled, nextRun,
		)
		return err
	}
	_, err = r.Store.Pool.Exec(ctx, `
		UPDATE schedule_config SET interval_minutes=$1, is_enabled=$2, next_run_at=$3 WHERE id=$4`,
		intervalMinutes, enabled, nextRun, existing.ID,
	)
	return err
}

func (r *Repository) DisableSchedule(ctx context.Context) error {
	_, err := r.Store.Pool.Exec(ctx, `UPDATE schedule_config SET is_enabled=false, next_run_at=NULL`)
	return err
}

// UpdateScheduleLastRun records a completed run and, only while the schedule
// is enabled, recomputes next_run_at as last run plus the interval.
func (r *Repository) UpdateScheduleLastRun(ctx context.Context, lastRun time.Time) error {
	cfg, err := r.GetScheduleConfig(ctx)
	if err != nil {
		return nil
	}
	var nextRun *time.Time
	if cfg.IsEnabled && cfg.IntervalMinutes > 0 {
		next := lastRun.Add(time.Duration(cfg.IntervalMinutes) * time.Minute)
		nextRun = &next
	} else {
		nextRun = cfg.NextRunAt
	}
	_, err = r.Store.Pool.Exec(ctx, `
		UPDATE schedule_config SET last_run_at=$1, next_run_at=$2 WHERE id=$3`,
		lastRun, nextRun, cfg.ID,
	)
	return err
}
