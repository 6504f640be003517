// Package llm talks to the AI text-generation collaborator. All four
// operations are request/response with no streaming; callers treat any error
// or empty reply as a soft failure and never let it crash a scan.
package llm

import "context"

type ExtractedRule struct {
	RuleCode           string `json:"rule_code"`
	Description        string `json:"description"`
	EvaluationCriteria string `json:"evaluation_criteria"`
	Severity           string `json:"severity"`
	TargetEntities     string `json:"target_entities"`
}

type RuleSummary struct {
	RuleCode           string
	Description        string
	EvaluationCriteria string
	TargetTable        string
}

type ViolationSummary struct {
	RuleDescription string
	Justification   string
	RecordJSON      string
}

type Client interface {
	ExtractRules(ctx context.Context, policyText string) ([]ExtractedRule, error)
	GenerateSQL(ctx context.Context, rule RuleSummary, schemaJSON string) (string, error)
	ExplainViolation(ctx context.Context, rule RuleSummary, recordJSON string) (string, error)
	SuggestRemediation(ctx context.Context, violation ViolationSummary) (string, error)
}
