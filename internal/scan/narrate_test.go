package scan

import (
	"context"
	"testing"

	"datapolicy-backend/internal/storage"
)

func TestExplainViolationFallsBackWithoutClient(t *testing.T) {
	rule := storage.RuleRecord{RuleCode: "R-1", Description: "emails required"}
	got := ExplainViolation(context.Background(), nil, rule, storage.ViolationRecord{})
	want := "Record violates rule 'R-1': emails required"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExplainViolationFallsBackOnModelFailure(t *testing.T) {
	// stubClient's ExplainViolation always errors.
	rule := storage.RuleRecord{RuleCode: "R-1", Description: "emails required"}
	got := ExplainViolation(context.Background(), &stubClient{}, rule, storage.ViolationRecord{})
	if got != "Record violates rule 'R-1': emails required" {
		t.Fatalf("expected template fallback, got %q", got)
	}
}

func TestSuggestRemediationNilWithoutClient(t *testing.T) {
	if got := SuggestRemediation(context.Background(), nil, storage.RuleRecord{}, storage.ViolationRecord{}); got != nil {
		t.Fatalf("expected nil, got %q", *got)
	}
}

func TestSuggestRemediationNilOnModelFailure(t *testing.T) {
	got := SuggestRemediation(context.Background(), &stubClient{}, storage.RuleRecord{}, storage.ViolationRecord{})
	if got != nil {
		t.Fatalf("expected nil, got %q", *got)
	}
}
