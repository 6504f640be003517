package scan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"datapolicy-backend/internal/dbconn"
	"datapolicy-backend/internal/storage"
)

// maxViolationsPerRule caps the rows processed per rule to bound memory and
// output size.
const maxViolationsPerRule = 50

// TargetConnection is the slice of dbconn.Manager the extractor needs.
type TargetConnection interface {
	IsConnected() bool
	Snapshot(ctx context.Context) (*dbconn.SchemaSnapshot, error)
	Query(ctx context.Context, query string) ([]dbconn.Row, error)
}

// ViolationSink persists a whole batch of violations in a single commit.
type ViolationSink interface {
	InsertViolations(ctx context.Context, violations []storage.ViolationRecord) error
}

type Extractor struct {
	conn   TargetConnection
	synth  *Synthesizer
	sink   ViolationSink
	logger *slog.Logger
}

func NewExtractor(conn TargetConnection, synth *Synthesizer, sink ViolationSink, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{conn: conn, synth: synth, sink: sink, logger: logger}
}

// ScanForViolations runs every active rule's query against the target
// database and builds violation records. Per-rule failures (synthesis,
// execution) are logged and skipped; only the missing-connection
// precondition fails the whole call. All violations are persisted in one
// commit at the end; zero violations issue no commit.
func (e *Extractor) ScanForViolations(ctx context.Context, rules []storage.RuleRecord) ([]storage.ViolationRecord, error) {
	if !e.conn.IsConnected() {
		return nil, dbconn.ErrNotConnected
	}

	var schema *dbconn.SchemaSnapshot
	violations := []storage.ViolationRecord{}

	active := 0
	for i := range rules {
		rule := &rules[i]
		if !rule.IsActive {
			continue
		}
		active++

		query := rule.GeneratedSQL
		if query == "" {
			if schema == nil {
				snap, err := e.conn.Snapshot(ctx)
				if err != nil {
					e.logger.Warn("skipping rule, schema snapshot failed",
						slog.String("rule_code", rule.RuleCode),
						slog.String("error", err.Error()))
					continue
				}
				schema = snap
			}
			generated, err := e.synth.GenerateQuery(ctx, rule, schema)
			if err != nil {
				e.logger.Warn("skipping rule, query synthesis failed",
					slog.String("rule_code", rule.RuleCode),
					slog.String("error", err.Error()))
				continue
			}
			query = generated
		}

		rows, err := e.conn.Query(ctx, query)
		if err != nil {
			e.logger.Error("skipping rule, query execution failed",
				slog.String("rule_code", rule.RuleCode),
				slog.String("error", err.Error()))
			continue
		}
		e.logger.Info("rule evaluated",
			slog.String("rule_code", rule.RuleCode),
			slog.Int("matches", len(rows)))

		if len(rows) > maxViolationsPerRule {
			rows = rows[:maxViolationsPerRule]
		}
		for _, row := range rows {
			recordID := deriveIdentifier(row)
			violations = append(violations, storage.ViolationRecord{
				RuleID:           rule.ID,
				RecordIdentifier: recordID,
				RecordData:       row.Values,
				Justification: fmt.Sprintf("Record violates rule '%s': %s. Evaluation criteria: %s",
					rule.RuleCode, rule.Description, rule.EvaluationCriteria),
				RemediationSuggestion: fmt.Sprintf("Review record '%s' and ensure compliance with rule '%s'.",
					recordID, rule.RuleCode),
				Severity:   rule.Severity,
				Status:     storage.ViolationPending,
				DetectedAt: time.Now().UTC(),
			})
		}
	}

	e.logger.Info("scan finished",
		slog.Int("active_rules", active),
		slog.Int("violations", len(violations)))

	if len(violations) > 0 {
		if err := e.sink.InsertViolations(ctx, violations); err != nil {
			return nil, fmt.Errorf("persist violations: %w", err)
		}
	}
	return violations, nil
}

// deriveIdentifier picks a record identifier in priority order: a field
// named "id", the first field ending in "_id", the first field in row order,
// then the literal "unknown".
func deriveIdentifier(row dbconn.Row) string {
	if v, ok := row.Values["id"]; ok {
		return fmt.Sprint(v)
	}
	for _, col := range row.Columns {
		if strings.HasSuffix(col, "_id") {
			return fmt.Sprint(row.Values[col])
		}
	}
	if len(row.Columns) > 0 {
		return fmt.Sprint(row.Values[row.Columns[0]])
	}
	return "unknown"
}
