package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"datapolicy-backend/internal/monitor"
	"datapolicy-backend/internal/storage"
)

type stubStore struct {
	violations []storage.ViolationRecord
	rules      map[string]storage.RuleRecord
	reviewed   map[string]string
	policies   []storage.PolicyRecord
	deleted    []string
	summary    storage.DashboardSummary
}

func newStubStore() *stubStore {
	return &stubStore{
		rules:    map[string]storage.RuleRecord{},
		reviewed: map[string]string{},
	}
}

func (s *stubStore) CreateConnectionSettings(ctx context.Context, cs storage.ConnectionSettings) (string, error) {
	return "conn-1", nil
}

func (s *stubStore) ActiveConnectionSettings(ctx context.Context) (storage.ConnectionSettings, error) {
	return storage.ConnectionSettings{}, storage.ErrNotFound
}

func (s *stubStore) ActiveRules(ctx context.Context) ([]storage.RuleRecord, error) {
	rules := []storage.RuleRecord{}
	for _, r := range s.rules {
		rules = append(rules, r)
	}
	return rules, nil
}

func (s *stubStore) GetRule(ctx context.Context, id string) (storage.RuleRecord, error) {
	if r, ok := s.rules[id]; ok {
		return r, nil
	}
	return storage.RuleRecord{}, storage.ErrNotFound
}

func (s *stubStore) ListViolations(ctx context.Context, status string, limit int) ([]storage.ViolationRecord, error) {
	if status == "" {
		return s.violations, nil
	}
	matched := []storage.ViolationRecord{}
	for _, v := range s.violations {
		if v.Status == status {
			matched = append(matched, v)
		}
	}
	return matched, nil
}

func (s *stubStore) GetViolation(ctx context.Context, id string) (storage.ViolationRecord, error) {
	for _, v := range s.violations {
		if v.ID == id {
			return v, nil
		}
	}
	return storage.ViolationRecord{}, storage.ErrNotFound
}

func (s *stubStore) ReviewViolation(ctx context.Context, id string, status string) error {
	for _, v := range s.violations {
		if v.ID == id {
			s.reviewed[id] = status
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *stubStore) ListPolicies(ctx context.Context) ([]storage.PolicyRecord, error) {
	return s.policies, nil
}

func (s *stubStore) GetPolicy(ctx context.Context, id string) (storage.PolicyRecord, error) {
	for _, p := range s.policies {
		if p.ID == id {
			return p, nil
		}
	}
	return storage.PolicyRecord{}, storage.ErrNotFound
}

func (s *stubStore) RulesForPolicy(ctx context.Context, policyID string) ([]storage.RuleRecord, error) {
	rules := []storage.RuleRecord{}
	for _, r := range s.rules {
		if r.PolicyID == policyID {
			rules = append(rules, r)
		}
	}
	return rules, nil
}

func (s *stubStore) DeletePolicy(ctx context.Context, id string) error {
	if _, err := s.GetPolicy(ctx, id); err != nil {
		return err
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubStore) DashboardSummary(ctx context.Context) (storage.DashboardSummary, error) {
	return s.summary, nil
}

type noopRunner struct{}

func (noopRunner) RunScan(ctx context.Context) monitor.ScanResult {
	return monitor.ScanResult{
		ScanID:      "scan-1",
		Status:      storage.ScanCompleted,
		CompletedAt: time.Now().UTC(),
		Message:     "Scan completed: 0 violations found, 0 new",
	}
}

type noopScheduleStore struct{}

func (noopScheduleStore) SaveScheduleConfig(ctx context.Context, intervalMinutes int, enabled bool, nextRun *time.Time) error {
	return nil
}

func (noopScheduleStore) DisableSchedule(ctx context.Context) error { return nil }

func newTestHandler(store *stubStore) (*Handler, *monitor.Scheduler) {
	scheduler := monitor.NewScheduler(noopRunner{}, noopScheduleStore{}, nil)
	h := &Handler{
		Repo:      store,
		Scheduler: scheduler,
		Timeout:   time.Second,
	}
	return h, scheduler
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestScheduleEndpointRejectsOutOfRange(t *testing.T) {
	h, scheduler := newTestHandler(newStubStore())
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodPost, "/monitoring/schedule", strings.NewReader(`{"interval_minutes":30}`))
	rec := serve(h, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestScheduleEndpointAccepts(t *testing.T) {
	h, scheduler := newTestHandler(newStubStore())
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodPost, "/monitoring/schedule", strings.NewReader(`{"interval_minutes":60}`))
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/monitoring/status", nil)
	statusRec := serve(h, statusReq)
	var status monitor.Status
	if err := json.Unmarshal(statusRec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.IsEnabled || status.IntervalMinutes == nil || *status.IntervalMinutes != 60 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestCancelEndpointReportsExistence(t *testing.T) {
	h, scheduler := newTestHandler(newStubStore())
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodDelete, "/monitoring/schedule", nil)
	rec := serve(h, req)
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["cancelled"] != false {
		t.Fatalf("expected cancelled=false, got %v", body["cancelled"])
	}
}

func TestTriggerScanEndpoint(t *testing.T) {
	h, scheduler := newTestHandler(newStubStore())
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodPost, "/scans", nil)
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result monitor.ScanResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ScanID != "scan-1" || result.Status != storage.ScanCompleted {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestViolationsListFiltersByStatus(t *testing.T) {
	store := newStubStore()
	store.violations = []storage.ViolationRecord{
		{ID: "v1", Status: storage.ViolationPending},
		{ID: "v2", Status: storage.ViolationResolved},
	}
	h, scheduler := newTestHandler(store)
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodGet, "/violations/?status=pending", nil)
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Violations []violationView `json:"violations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Violations) != 1 || body.Violations[0].ID != "v1" {
		t.Fatalf("unexpected violations %+v", body.Violations)
	}
}

func TestReviewEndpoint(t *testing.T) {
	store := newStubStore()
	store.violations = []storage.ViolationRecord{{ID: "v1", Status: storage.ViolationPending}}
	h, scheduler := newTestHandler(store)
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodPost, "/violations/v1/review", strings.NewReader(`{"action":"false_positive"}`))
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.reviewed["v1"] != storage.ViolationFalsePositive {
		t.Fatalf("unexpected review status %q", store.reviewed["v1"])
	}
}

func TestReviewEndpointUnknownAction(t *testing.T) {
	store := newStubStore()
	store.violations = []storage.ViolationRecord{{ID: "v1"}}
	h, scheduler := newTestHandler(store)
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodPost, "/violations/v1/review", strings.NewReader(`{"action":"ignore"}`))
	rec := serve(h, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReviewEndpointNotFound(t *testing.T) {
	h, scheduler := newTestHandler(newStubStore())
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodPost, "/violations/missing/review", strings.NewReader(`{"action":"confirm"}`))
	rec := serve(h, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestConnectionCreateValidation(t *testing.T) {
	h, scheduler := newTestHandler(newStubStore())
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodPost, "/connections", strings.NewReader(`{"driver":"postgres"}`))
	rec := serve(h, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestConnectionCreate(t *testing.T) {
	h, scheduler := newTestHandler(newStubStore())
	defer scheduler.Shutdown()

	payload := `{"driver":"postgres","host":"db","port":5432,"database":"appdb","user":"u","password":"p"}`
	req := httptest.NewRequest(http.MethodPost, "/connections", strings.NewReader(payload))
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["connection_id"] != "conn-1" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestPoliciesList(t *testing.T) {
	store := newStubStore()
	store.policies = []storage.PolicyRecord{
		{ID: "p1", Filename: "gdpr.pdf", Status: storage.PolicyCompleted, RuleCount: 3},
	}
	h, scheduler := newTestHandler(store)
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodGet, "/policies/", nil)
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Policies []policyView `json:"policies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Policies) != 1 || body.Policies[0].Filename != "gdpr.pdf" || body.Policies[0].RuleCount != 3 {
		t.Fatalf("unexpected policies %+v", body.Policies)
	}
}

func TestPolicyGetIncludesRules(t *testing.T) {
	store := newStubStore()
	store.policies = []storage.PolicyRecord{{ID: "p1", Filename: "sox.txt"}}
	store.rules["r1"] = storage.RuleRecord{ID: "r1", PolicyID: "p1", RuleCode: "SOX-001"}
	store.rules["r2"] = storage.RuleRecord{ID: "r2", PolicyID: "other", RuleCode: "GDPR-001"}
	h, scheduler := newTestHandler(store)
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodGet, "/policies/p1", nil)
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Policy policyView `json:"policy"`
		Rules  []ruleView `json:"rules"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Policy.ID != "p1" {
		t.Fatalf("unexpected policy %+v", body.Policy)
	}
	if len(body.Rules) != 1 || body.Rules[0].RuleCode != "SOX-001" {
		t.Fatalf("expected only the policy's own rules, got %+v", body.Rules)
	}
}

func TestPolicyGetNotFound(t *testing.T) {
	h, scheduler := newTestHandler(newStubStore())
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodGet, "/policies/missing", nil)
	rec := serve(h, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPolicyDelete(t *testing.T) {
	store := newStubStore()
	store.policies = []storage.PolicyRecord{{ID: "p1"}}
	h, scheduler := newTestHandler(store)
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodDelete, "/policies/p1", nil)
	rec := serve(h, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "p1" {
		t.Fatalf("unexpected deletions %v", store.deleted)
	}

	missing := httptest.NewRequest(http.MethodDelete, "/policies/p2", nil)
	if rec := serve(h, missing); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown policy, got %d", rec.Code)
	}
}

func TestDashboardSummaryEndpoint(t *testing.T) {
	store := newStubStore()
	lastScan := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store.summary = storage.DashboardSummary{
		TotalViolations: 5,
		TotalPolicies:   2,
		TotalRules:      4,
		StatusCounts: map[string]int{
			storage.ViolationPending:       3,
			storage.ViolationConfirmed:     1,
			storage.ViolationResolved:      1,
			storage.ViolationFalsePositive: 0,
		},
		SeverityCounts: map[string]int{storage.SeverityHigh: 5},
		LastScanAt:     &lastScan,
	}
	h, scheduler := newTestHandler(store)
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodGet, "/dashboard/summary", nil)
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body dashboardView
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.TotalViolations != 5 || body.TotalPolicies != 2 || body.TotalRules != 4 {
		t.Fatalf("unexpected totals %+v", body)
	}
	if body.PendingCount != 3 || body.ConfirmedCount != 1 || body.ResolvedCount != 1 || body.FalsePositiveCount != 0 {
		t.Fatalf("unexpected status counts %+v", body)
	}
	if body.BySeverity[storage.SeverityHigh] != 5 {
		t.Fatalf("unexpected severity counts %v", body.BySeverity)
	}
	if body.LastScanAt == nil || !body.LastScanAt.Equal(lastScan) {
		t.Fatalf("unexpected last scan %v", body.LastScanAt)
	}
	if body.NextScanAt != nil {
		t.Fatalf("no schedule is configured, next scan must be null, got %v", body.NextScanAt)
	}
}

func TestSchemaEndpointWithoutConnection(t *testing.T) {
	h, scheduler := newTestHandler(newStubStore())
	defer scheduler.Shutdown()

	req := httptest.NewRequest(http.MethodGet, "/schema", nil)
	rec := serve(h, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
