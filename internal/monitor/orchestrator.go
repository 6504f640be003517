// Package monitor owns the scan lifecycle and the recurring schedule.
//
// Nothing here serializes a manually triggered scan against a concurrently
// firing scheduled one: both may read the pre-scan violation set and write
// new violations at the same time. Each scan owns its own target connection
// for its own duration.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"datapolicy-backend/internal/bus"
	"datapolicy-backend/internal/dbconn"
	"datapolicy-backend/internal/llm"
	"datapolicy-backend/internal/scan"
	"datapolicy-backend/internal/storage"
)

// Store is the slice of the durable store the orchestrator consumes.
type Store interface {
	CreateScanRecord(ctx context.Context, rec storage.ScanRecord) (string, error)
	UpdateScanRecord(ctx context.Context, rec storage.ScanRecord) error
	ActiveConnectionSettings(ctx context.Context) (storage.ConnectionSettings, error)
	ActiveRules(ctx context.Context) ([]storage.RuleRecord, error)
	ViolationKeys(ctx context.Context) (map[storage.ViolationKey]struct{}, error)
	InsertViolations(ctx context.Context, violations []storage.ViolationRecord) error
	UpdateRuleSQL(ctx context.Context, id string, generatedSQL string) error
	UpdateScheduleLastRun(ctx context.Context, lastRun time.Time) error
}

// TargetConn is a scan-scoped connection handle.
type TargetConn interface {
	scan.TargetConnection
	Disconnect()
}

// ConnectFunc opens a fresh connection handle for one scan.
type ConnectFunc func(ctx context.Context, cfg dbconn.ConnectionConfig) (TargetConn, error)

type ScanResult struct {
	ScanID          string         `json:"scan_id"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at"`
	TotalViolations int            `json:"total_violations"`
	NewViolations   int            `json:"new_violations"`
	RulesEvaluated  int            `json:"rules_evaluated"`
	SeverityCounts  map[string]int `json:"severity_counts"`
	Status          string         `json:"status"`
	Message         string         `json:"message"`
	ErrorMessage    string         `json:"error_message,omitempty"`
}

// Orchestrator drives one scan from history record to completion. Constructed
// once at process start and passed by reference; there is no process-wide
// instance.
type Orchestrator struct {
	store   Store
	client  llm.Client
	events  *bus.Publisher
	connect ConnectFunc
	logger  *slog.Logger
}

func NewOrchestrator(store Store, client llm.Client, events *bus.Publisher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:  store,
		client: client,
		events: events,
		connect: func(ctx context.Context, cfg dbconn.ConnectionConfig) (TargetConn, error) {
			mgr := dbconn.NewManager(logger)
			if err := mgr.Connect(ctx, cfg); err != nil {
				return nil, err
			}
			return mgr, nil
		},
		logger: logger,
	}
}

// RunScan executes one full scan. It never returns an error: failures are
// recorded on the ScanRecord and reflected in the result status.
func (o *Orchestrator) RunScan(ctx context.Context) ScanResult {
	startedAt := time.Now().UTC()
	result := ScanResult{
		StartedAt:      startedAt,
		SeverityCounts: map[string]int{},
		Status:         storage.ScanRunning,
	}

	scanID, err := o.store.CreateScanRecord(ctx, storage.ScanRecord{
		StartedAt: startedAt,
		Status:    storage.ScanRunning,
	})
	if err != nil {
		o.logger.Error("failed to create scan record", slog.String("error", err.Error()))
		result.Status = storage.ScanFailed
		result.CompletedAt = time.Now().UTC()
		result.ErrorMessage = err.Error()
		result.Message = "Scan failed before it could be recorded"
		return result
	}
	result.ScanID = scanID
	o.logger.Info("starting compliance scan", slog.String("scan_id", scanID))

	if err := o.runBody(ctx, &result); err != nil {
		completedAt := time.Now().UTC()
		result.Status = storage.ScanFailed
		result.CompletedAt = completedAt
		result.ErrorMessage = err.Error()
		result.Message = "Scan failed: " + err.Error()
		o.logger.Error("scan failed", slog.String("scan_id", scanID), slog.String("error", err.Error()))
		if updErr := o.store.UpdateScanRecord(ctx, storage.ScanRecord{
			ID:           scanID,
			StartedAt:    startedAt,
			CompletedAt:  &completedAt,
			Status:       storage.ScanFailed,
			ErrorMessage: err.Error(),
		}); updErr != nil {
			o.logger.Error("failed to record scan failure", slog.String("error", updErr.Error()))
		}
	}
	return result
}

func (o *Orchestrator) runBody(ctx context.Context, result *ScanResult) error {
	settings, err := o.store.ActiveConnectionSettings(ctx)
	if err != nil {
		return fmt.Errorf("no active database connection configured")
	}

	rules, err := o.store.ActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("load active rules: %w", err)
	}
	if len(rules) == 0 {
		// Nothing ran: the scan record completes with zero counts but the
		// schedule row is left untouched and no events fire.
		o.logger.Warn("no active compliance rules found")
		completedAt := time.Now().UTC()
		result.Status = storage.ScanCompleted
		result.CompletedAt = completedAt
		result.Message = "Scan completed: no active rules to evaluate"
		if err := o.store.UpdateScanRecord(ctx, storage.ScanRecord{
			ID:          result.ScanID,
			StartedAt:   result.StartedAt,
			CompletedAt: &completedAt,
			Status:      storage.ScanCompleted,
		}); err != nil {
			return fmt.Errorf("update scan record: %w", err)
		}
		return nil
	}

	// Dedup keys are captured before the scan runs.
	existingKeys, err := o.store.ViolationKeys(ctx)
	if err != nil {
		return fmt.Errorf("load violation keys: %w", err)
	}

	conn, err := o.connect(ctx, dbconn.ConnectionConfig{
		Driver:   settings.Driver,
		Host:     settings.Host,
		Port:     settings.Port,
		Database: settings.DatabaseName,
		User:     settings.Username,
		Password: settings.Password,
		SSL:      settings.SSL,
	})
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	missingSQL := map[string]bool{}
	for _, rule := range rules {
		if rule.GeneratedSQL == "" {
			missingSQL[rule.ID] = true
		}
	}

	extractor := scan.NewExtractor(conn, scan.NewSynthesizer(o.client, o.logger), o.store, o.logger)
	violations, err := extractor.ScanForViolations(ctx, rules)
	if err != nil {
		return err
	}

	// Persist queries the synthesizer wrote back onto rules during the scan.
	for _, rule := range rules {
		if missingSQL[rule.ID] && rule.GeneratedSQL != "" {
			if err := o.store.UpdateRuleSQL(ctx, rule.ID, rule.GeneratedSQL); err != nil {
				o.logger.Error("failed to cache generated SQL",
					slog.String("rule_code", rule.RuleCode),
					slog.String("error", err.Error()))
			}
		}
	}

	return o.complete(ctx, result, rules, violations, countNew(violations, existingKeys))
}

func (o *Orchestrator) complete(ctx context.Context, result *ScanResult, rules []storage.RuleRecord, violations []storage.ViolationRecord, newCount int) error {
	completedAt := time.Now().UTC()
	result.Status = storage.ScanCompleted
	result.CompletedAt = completedAt
	result.TotalViolations = len(violations)
	result.NewViolations = newCount
	result.RulesEvaluated = len(rules)
	for _, v := range violations {
		result.SeverityCounts[v.Severity]++
	}
	result.Message = fmt.Sprintf("Scan completed: %d violations found, %d new", len(violations), newCount)

	if err := o.store.UpdateScanRecord(ctx, storage.ScanRecord{
		ID:              result.ScanID,
		StartedAt:       result.StartedAt,
		CompletedAt:     &completedAt,
		Status:          storage.ScanCompleted,
		ViolationsFound: len(violations),
		NewViolations:   newCount,
	}); err != nil {
		return fmt.Errorf("update scan record: %w", err)
	}
	if err := o.store.UpdateScheduleLastRun(ctx, completedAt); err != nil {
		o.logger.Error("failed to update schedule last run", slog.String("error", err.Error()))
	}

	o.logger.Info("scan completed",
		slog.String("scan_id", result.ScanID),
		slog.Int("violations_found", len(violations)),
		slog.Int("new_violations", newCount))

	if err := o.events.Publish(bus.SubjectScanCompleted, result); err != nil {
		o.logger.Error("failed to publish scan event", slog.String("error", err.Error()))
	}
	if newCount > 0 {
		if err := o.events.Publish(bus.SubjectViolationDetected, map[string]any{
			"scan_id":        result.ScanID,
			"new_violations": newCount,
		}); err != nil {
			o.logger.Error("failed to publish violation event", slog.String("error", err.Error()))
		}
	}
	return nil
}

func countNew(violations []storage.ViolationRecord, existing map[storage.ViolationKey]struct{}) int {
	count := 0
	for _, v := range violations {
		key := storage.ViolationKey{RuleID: v.RuleID, RecordIdentifier: v.RecordIdentifier}
		if _, ok := existing[key]; !ok {
			count++
		}
	}
	return count
}
