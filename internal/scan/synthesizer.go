package scan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"datapolicy-backend/internal/dbconn"
	"datapolicy-backend/internal/llm"
	"datapolicy-backend/internal/storage"
)

// ReviewError marks a rule whose query could not be synthesized. Callers are
// expected to skip the rule and surface it for human review rather than
// abort the scan.
type ReviewError struct {
	RuleCode string
	Reason   string
}

func (e *ReviewError) Error() string {
	return fmt.Sprintf("rule %q needs human review: %s", e.RuleCode, e.Reason)
}

type Synthesizer struct {
	client llm.Client
	logger *slog.Logger
}

func NewSynthesizer(client llm.Client, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{client: client, logger: logger}
}

// GenerateQuery turns a rule plus a schema snapshot into a validated SQL
// string. On success the query is also written back onto the rule's cache
// field. Every failure is a ReviewError carrying the rule code.
func (s *Synthesizer) GenerateQuery(ctx context.Context, rule *storage.RuleRecord, schema *dbconn.SchemaSnapshot) (string, error) {
	if strings.TrimSpace(rule.EvaluationCriteria) == "" {
		return "", &ReviewError{RuleCode: rule.RuleCode, Reason: "rule has no evaluation criteria defined"}
	}
	if s.client == nil {
		return "", &ReviewError{RuleCode: rule.RuleCode, Reason: "model client unavailable"}
	}
	summary := llm.RuleSummary{
		RuleCode:           rule.RuleCode,
		Description:        rule.Description,
		EvaluationCriteria: rule.EvaluationCriteria,
		TargetTable:        rule.TargetTable,
	}
	generated, err := s.client.GenerateSQL(ctx, summary, schema.Summary())
	if err != nil {
		return "", &ReviewError{RuleCode: rule.RuleCode, Reason: err.Error()}
	}
	if strings.TrimSpace(generated) == "" {
		return "", &ReviewError{RuleCode: rule.RuleCode, Reason: "model returned an empty response"}
	}
	if ok, reason := ValidateSQL(generated); !ok {
		return "", &ReviewError{RuleCode: rule.RuleCode, Reason: "SQL validation failed: " + reason}
	}
	s.logger.Info("generated SQL for rule", slog.String("rule_code", rule.RuleCode))
	rule.GeneratedSQL = generated
	return generated, nil
}
