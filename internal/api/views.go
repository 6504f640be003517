package api

import (
	"time"

	"datapolicy-backend/internal/storage"
)

type violationView struct {
	ID                    string         `json:"id"`
	RuleID                string         `json:"rule_id"`
	RecordIdentifier      string         `json:"record_identifier"`
	RecordData            map[string]any `json:"record_data"`
	Justification         string         `json:"justification"`
	RemediationSuggestion string         `json:"remediation_suggestion"`
	Severity              string         `json:"severity"`
	Status                string         `json:"status"`
	DetectedAt            time.Time      `json:"detected_at"`
	ResolvedAt            *time.Time     `json:"resolved_at,omitempty"`
}

type ruleView struct {
	ID                 string    `json:"id"`
	PolicyID           string    `json:"policy_id,omitempty"`
	RuleCode           string    `json:"rule_code"`
	Description        string    `json:"description"`
	EvaluationCriteria string    `json:"evaluation_criteria"`
	TargetTable        string    `json:"target_table,omitempty"`
	GeneratedSQL       string    `json:"generated_sql,omitempty"`
	Severity           string    `json:"severity"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
}

type policyView struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Status     string    `json:"status"`
	UploadedAt time.Time `json:"uploaded_at"`
	RuleCount  int       `json:"rule_count"`
}

type dashboardView struct {
	TotalViolations    int            `json:"total_violations"`
	TotalPolicies      int            `json:"total_policies"`
	TotalRules         int            `json:"total_rules"`
	PendingCount       int            `json:"pending_count"`
	ConfirmedCount     int            `json:"confirmed_count"`
	ResolvedCount      int            `json:"resolved_count"`
	FalsePositiveCount int            `json:"false_positive_count"`
	BySeverity         map[string]int `json:"by_severity"`
	LastScanAt         *time.Time     `json:"last_scan_at"`
	NextScanAt         *time.Time     `json:"next_scan_at"`
}

func toPolicyView(p storage.PolicyRecord) policyView {
	return policyView{
		ID:         p.ID,
		Filename:   p.Filename,
		Status:     p.Status,
		UploadedAt: p.UploadedAt,
		RuleCount:  p.RuleCount,
	}
}

func toPolicyViews(records []storage.PolicyRecord) []policyView {
	views := make([]policyView, 0, len(records))
	for _, p := range records {
		views = append(views, toPolicyView(p))
	}
	return views
}

func toDashboardView(s storage.DashboardSummary, nextScan *time.Time) dashboardView {
	return dashboardView{
		TotalViolations:    s.TotalViolations,
		TotalPolicies:      s.TotalPolicies,
		TotalRules:         s.TotalRules,
		PendingCount:       s.StatusCounts[storage.ViolationPending],
		ConfirmedCount:     s.StatusCounts[storage.ViolationConfirmed],
		ResolvedCount:      s.StatusCounts[storage.ViolationResolved],
		FalsePositiveCount: s.StatusCounts[storage.ViolationFalsePositive],
		BySeverity:         s.SeverityCounts,
		LastScanAt:         s.LastScanAt,
		NextScanAt:         nextScan,
	}
}

func toViolationViews(records []storage.ViolationRecord) []violationView {
	views := make([]violationView, 0, len(records))
	for _, v := range records {
		views = append(views, violationView{
			ID:                    v.ID,
			RuleID:                v.RuleID,
			RecordIdentifier:      v.RecordIdentifier,
			RecordData:            v.RecordData,
			Justification:         v.Justification,
			RemediationSuggestion: v.RemediationSuggestion,
			Severity:              v.Severity,
			Status:                v.Status,
			DetectedAt:            v.DetectedAt,
			ResolvedAt:            v.ResolvedAt,
		})
	}
	return views
}

func toRuleViews(records []storage.RuleRecord) []ruleView {
	views := make([]ruleView, 0, len(records))
	for _, r := range records {
		views = append(views, ruleView{
			ID:                 r.ID,
			PolicyID:           r.PolicyID,
			RuleCode:           r.RuleCode,
			Description:        r.Description,
			EvaluationCriteria: r.EvaluationCriteria,
			TargetTable:        r.TargetTable,
			GeneratedSQL:       r.GeneratedSQL,
			Severity:           r.Severity,
			IsActive:           r.IsActive,
			CreatedAt:          r.CreatedAt,
		})
	}
	return views
}
