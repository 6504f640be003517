// Package policy turns extracted policy text into stored compliance rules.
// Document text extraction itself happens upstream; this package starts from
// plain text.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"datapolicy-backend/internal/llm"
	"datapolicy-backend/internal/storage"
)

// Store persists policy documents and the rules extracted from them.
type Store interface {
	CreatePolicy(ctx context.Context, rec storage.PolicyRecord) (string, error)
	UpdatePolicyStatus(ctx context.Context, id string, status string) error
	CreateRule(ctx context.Context, rec storage.RuleRecord) (string, error)
}

type Ingestor struct {
	client llm.Client
	store  Store
	logger *slog.Logger
}

func NewIngestor(client llm.Client, store Store, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{client: client, store: store, logger: logger}
}

// IngestText stores the policy document, extracts rules from its text and
// persists them as active, linked to the policy. The policy's status tracks
// the extraction: processing while under way, completed or failed after.
// Rules missing a code or evaluation criteria are skipped with a log line;
// unknown severities fall back to medium.
func (i *Ingestor) IngestText(ctx context.Context, filename, text string) (storage.PolicyRecord, []storage.RuleRecord, error) {
	if strings.TrimSpace(text) == "" {
		return storage.PolicyRecord{}, nil, errors.New("policy text is empty")
	}
	if i.client == nil {
		return storage.PolicyRecord{}, nil, errors.New("model client unavailable")
	}
	if strings.TrimSpace(filename) == "" {
		filename = "untitled"
	}

	pol := storage.PolicyRecord{
		Filename: filename,
		RawText:  text,
		Status:   storage.PolicyProcessing,
	}
	policyID, err := i.store.CreatePolicy(ctx, pol)
	if err != nil {
		return storage.PolicyRecord{}, nil, fmt.Errorf("store policy: %w", err)
	}
	pol.ID = policyID

	extracted, err := i.client.ExtractRules(ctx, text)
	if err != nil {
		i.markFailed(ctx, policyID)
		return storage.PolicyRecord{}, nil, fmt.Errorf("extract rules: %w", err)
	}

	created := []storage.RuleRecord{}
	for _, raw := range extracted {
		code := strings.TrimSpace(raw.RuleCode)
		criteria := strings.TrimSpace(raw.EvaluationCriteria)
		if code == "" || criteria == "" {
			i.logger.Warn("skipping extracted rule without code or criteria",
				slog.String("rule_code", raw.RuleCode))
			continue
		}
		severity := strings.ToLower(strings.TrimSpace(raw.Severity))
		if !storage.ValidSeverity(severity) {
			severity = storage.SeverityMedium
		}
		rec := storage.RuleRecord{
			PolicyID:           policyID,
			RuleCode:           code,
			Description:        strings.TrimSpace(raw.Description),
			EvaluationCriteria: criteria,
			TargetTable:        strings.TrimSpace(raw.TargetEntities),
			Severity:           severity,
			IsActive:           true,
		}
		id, err := i.store.CreateRule(ctx, rec)
		if err != nil {
			i.markFailed(ctx, policyID)
			return storage.PolicyRecord{}, nil, fmt.Errorf("store rule %q: %w", code, err)
		}
		rec.ID = id
		created = append(created, rec)
	}

	pol.Status = storage.PolicyCompleted
	pol.RuleCount = len(created)
	if err := i.store.UpdatePolicyStatus(ctx, policyID, storage.PolicyCompleted); err != nil {
		i.logger.Error("failed to mark policy completed",
			slog.String("policy_id", policyID),
			slog.String("error", err.Error()))
	}
	i.logger.Info("ingested policy rules",
		slog.String("policy_id", policyID),
		slog.Int("count", len(created)))
	return pol, created, nil
}

func (i *Ingestor) markFailed(ctx context.Context, policyID string) {
	if err := i.store.UpdatePolicyStatus(ctx, policyID, storage.PolicyFailed); err != nil {
		i.logger.Error("failed to mark policy failed",
			slog.String("policy_id", policyID),
			slog.String("error", err.Error()))
	}
}
