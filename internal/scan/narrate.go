package scan

import (
	"context"
	"encoding/json"
	"fmt"

	"datapolicy-backend/internal/llm"
	"datapolicy-backend/internal/storage"
)

// ExplainViolation asks the model for a reviewer-facing explanation. Any
// model failure falls back to the template justification; it never errors.
func ExplainViolation(ctx context.Context, client llm.Client, rule storage.RuleRecord, violation storage.ViolationRecord) string {
	fallback := fmt.Sprintf("Record violates rule '%s': %s", rule.RuleCode, rule.Description)
	if client == nil {
		return fallback
	}
	recordJSON, err := json.Marshal(violation.RecordData)
	if err != nil {
		return fallback
	}
	summary := llm.RuleSummary{
		RuleCode:           rule.RuleCode,
		Description:        rule.Description,
		EvaluationCriteria: rule.EvaluationCriteria,
		TargetTable:        rule.TargetTable,
	}
	explanation, err := client.ExplainViolation(ctx, summary, string(recordJSON))
	if err != nil || explanation == "" {
		return fallback
	}
	return explanation
}

// SuggestRemediation asks the model for remediation steps. Nil means manual
// review is required; it never errors.
func SuggestRemediation(ctx context.Context, client llm.Client, rule storage.RuleRecord, violation storage.ViolationRecord) *string {
	if client == nil {
		return nil
	}
	recordJSON, err := json.Marshal(violation.RecordData)
	if err != nil {
		return nil
	}
	remediation, err := client.SuggestRemediation(ctx, llm.ViolationSummary{
		RuleDescription: rule.Description,
		Justification:   violation.Justification,
		RecordJSON:      string(recordJSON),
	})
	if err != nil || remediation == "" {
		return nil
	}
	return &remediation
}
