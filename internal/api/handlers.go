package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"datapolicy-backend/internal/dbconn"
	"datapolicy-backend/internal/llm"
	"datapolicy-backend/internal/monitor"
	"datapolicy-backend/internal/policy"
	"datapolicy-backend/internal/scan"
	"datapolicy-backend/internal/storage"
)

// Store is the slice of the durable store the HTTP layer consumes.
type Store interface {
	CreateConnectionSettings(ctx context.Context, cs storage.ConnectionSettings) (string, error)
	ActiveConnectionSettings(ctx context.Context) (storage.ConnectionSettings, error)
	ActiveRules(ctx context.Context) ([]storage.RuleRecord, error)
	GetRule(ctx context.Context, id string) (storage.RuleRecord, error)
	ListViolations(ctx context.Context, status string, limit int) ([]storage.ViolationRecord, error)
	GetViolation(ctx context.Context, id string) (storage.ViolationRecord, error)
	ReviewViolation(ctx context.Context, id string, status string) error
	ListPolicies(ctx context.Context) ([]storage.PolicyRecord, error)
	GetPolicy(ctx context.Context, id string) (storage.PolicyRecord, error)
	RulesForPolicy(ctx context.Context, policyID string) ([]storage.RuleRecord, error)
	DeletePolicy(ctx context.Context, id string) error
	DashboardSummary(ctx context.Context) (storage.DashboardSummary, error)
}

type Handler struct {
	Repo      Store
	Scheduler *monitor.Scheduler
	Ingestor  *policy.Ingestor
	LLM       llm.Client
	Logger    *slog.Logger
	Timeout   time.Duration
}

type connectionRequest struct {
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSL      bool   `json:"ssl"`
}

type scheduleRequest struct {
	IntervalMinutes int `json:"interval_minutes"`
}

type reviewRequest struct {
	Action string `json:"action"`
}

type policyTextRequest struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/monitoring", func(r chi.Router) {
		r.Get("/status", h.handleMonitoringStatus)
		r.Post("/schedule", h.handleSchedule)
		r.Delete("/schedule", h.handleCancelSchedule)
	})
	r.Post("/scans", h.handleTriggerScan)
	r.Route("/violations", func(r chi.Router) {
		r.Get("/", h.handleViolationsList)
		r.Post("/{id}/review", h.handleViolationReview)
		r.Post("/{id}/explain", h.handleViolationExplain)
	})
	r.Get("/rules", h.handleRulesList)
	r.Post("/connections", h.handleConnectionCreate)
	r.Post("/connections/test", h.handleConnectionTest)
	r.Get("/schema", h.handleSchema)
	r.Route("/policies", func(r chi.Router) {
		r.Post("/text", h.handlePolicyText)
		r.Get("/", h.handlePoliciesList)
		r.Get("/{id}", h.handlePolicyGet)
		r.Delete("/{id}", h.handlePolicyDelete)
	})
	r.Get("/dashboard/summary", h.handleDashboardSummary)
}

func (h *Handler) handleMonitoringStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Scheduler.GetStatus())
}

func (h *Handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Scheduler.Schedule(ctx, req.IntervalMinutes); err != nil {
		var cfgErr *monitor.ConfigError
		if errors.As(err, &cfgErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"ok": false, "message": cfgErr.Message})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "Scheduled compliance scans every " + strconv.Itoa(req.IntervalMinutes) + " minutes",
	})
}

func (h *Handler) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	cancelled := h.Scheduler.Cancel(ctx)
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
}

func (h *Handler) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	// No per-request timeout: query execution inside a scan is unbounded.
	result := h.Scheduler.RunNow(r.Context())
	status := http.StatusOK
	if result.Status == storage.ScanFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (h *Handler) handleViolationsList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	violations, err := h.Repo.ListViolations(ctx, r.URL.Query().Get("status"), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list violations"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"violations": toViolationViews(violations)})
}

func (h *Handler) handleViolationReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	status, ok := reviewStatus(req.Action)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "unknown review action"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Repo.ReviewViolation(ctx, chi.URLParam(r, "id"), status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "violation not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to update violation"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": status})
}

func (h *Handler) handleViolationExplain(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	violation, err := h.Repo.GetViolation(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "violation not found"})
		return
	}
	rule, err := h.Repo.GetRule(ctx, violation.RuleID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "owning rule not found"})
		return
	}
	explanation := scan.ExplainViolation(ctx, h.LLM, rule, violation)
	remediation := scan.SuggestRemediation(ctx, h.LLM, rule, violation)
	writeJSON(w, http.StatusOK, map[string]any{
		"justification": explanation,
		"remediation":   remediation,
	})
}

func (h *Handler) handleRulesList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	rules, err := h.Repo.ActiveRules(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list rules"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": toRuleViews(rules)})
}

func (h *Handler) handleConnectionCreate(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if req.Host == "" || req.Database == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "host and database are required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	id, err := h.Repo.CreateConnectionSettings(ctx, storage.ConnectionSettings{
		Driver:       req.Driver,
		Host:         req.Host,
		Port:         req.Port,
		DatabaseName: req.Database,
		Username:     req.User,
		Password:     req.Password,
		SSL:          req.SSL,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to store connection"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection_id": id})
}

func (h *Handler) handleConnectionTest(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	mgr := dbconn.NewManager(h.Logger)
	defer mgr.Disconnect()
	err := mgr.Connect(r.Context(), dbconn.ConnectionConfig{
		Driver:   req.Driver,
		Host:     req.Host,
		Port:     req.Port,
		Database: req.Database,
		User:     req.User,
		Password: req.Password,
		SSL:      req.SSL,
	})
	if err != nil {
		var connErr *dbconn.ConnError
		if errors.As(err, &connErr) {
			writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "kind": string(connErr.Kind), "message": connErr.Message})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Repo.ActiveConnectionSettings(r.Context())
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "no active database connection configured"})
		return
	}
	mgr := dbconn.NewManager(h.Logger)
	defer mgr.Disconnect()
	if err := mgr.Connect(r.Context(), dbconn.ConnectionConfig{
		Driver:   settings.Driver,
		Host:     settings.Host,
		Port:     settings.Port,
		Database: settings.DatabaseName,
		User:     settings.Username,
		Password: settings.Password,
		SSL:      settings.SSL,
	}); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	snapshot, err := mgr.Snapshot(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handlePolicyText(w http.ResponseWriter, r *http.Request) {
	var req policyTextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	pol, rules, err := h.Ingestor.IngestText(ctx, req.Filename, req.Text)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"policy":        toPolicyView(pol),
		"rules_created": len(rules),
		"rules":         toRuleViews(rules),
	})
}

func (h *Handler) handlePoliciesList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	policies, err := h.Repo.ListPolicies(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list policies"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": toPolicyViews(policies)})
}

func (h *Handler) handlePolicyGet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	id := chi.URLParam(r, "id")
	pol, err := h.Repo.GetPolicy(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "policy not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to load policy"})
		return
	}
	rules, err := h.Repo.RulesForPolicy(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to load policy rules"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policy": toPolicyView(pol), "rules": toRuleViews(rules)})
}

func (h *Handler) handlePolicyDelete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Repo.DeletePolicy(ctx, chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "policy not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to delete policy"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	summary, err := h.Repo.DashboardSummary(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to build summary"})
		return
	}
	writeJSON(w, http.StatusOK, toDashboardView(summary, h.Scheduler.GetStatus().NextRunTime))
}

func reviewStatus(action string) (string, bool) {
	switch action {
	case "confirm":
		return storage.ViolationConfirmed, true
	case "false_positive":
		return storage.ViolationFalsePositive, true
	case "resolve":
		return storage.ViolationResolved, true
	default:
		return "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}
