package storage

import (
	"context"
	"time"
)

// DashboardSummary is the compliance-posture overview: totals, violation
// counts grouped by status and severity, and the last completed scan time.
type DashboardSummary struct {
	TotalViolations int
	TotalPolicies   int
	TotalRules      int
	StatusCounts    map[string]int
	SeverityCounts  map[string]int
	LastScanAt      *time.Time
}

func (r *Repository) DashboardSummary(ctx context.Context) (DashboardSummary, error) {
	summary := DashboardSummary{
		StatusCounts: map[string]int{
			ViolationPending:       0,
			ViolationConfirmed:     0,
			ViolationFalsePositive: 0,
			ViolationResolved:      0,
		},
		SeverityCounts: map[string]int{
			SeverityLow:      0,
			SeverityMedium:   0,
			SeverityHigh:     0,
			SeverityCritical: 0,
		},
	}

	if err := r.Store.Pool.QueryRow(ctx, `SELECT count(*) FROM violations`).Scan(&summary.TotalViolations); err != nil {
		return DashboardSummary{}, err
	}
	if err := r.Store.Pool.QueryRow(ctx, `SELECT count(*) FROM policies`).Scan(&summary.TotalPolicies); err != nil {
		return DashboardSummary{}, err
	}
	if err := r.Store.Pool.QueryRow(ctx, `SELECT count(*) FROM rules`).Scan(&summary.TotalRules); err != nil {
		return DashboardSummary{}, err
	}

	if err := r.groupedCounts(ctx, `SELECT status, count(*) FROM violations GROUP BY status`, summary.StatusCounts); err != nil {
		return DashboardSummary{}, err
	}
	if err := r.groupedCounts(ctx, `SELECT severity, count(*) FROM violations GROUP BY severity`, summary.SeverityCounts); err != nil {
		return DashboardSummary{}, err
	}

	var lastScan *time.Time
	err := r.Store.Pool.QueryRow(ctx, `
		SELECT completed_at FROM scan_records
		WHERE status=$1 AND completed_at IS NOT NULL
		ORDER BY completed_at DESC LIMIT 1`, ScanCompleted).Scan(&lastScan)
	if err == nil {
		summary.LastScanAt = lastScan
	}
	return summary, nil
}

// groupedCounts fills dst from a (key, count) query. Keys outside dst are
// kept too, so unexpected stored values still surface.
func (r *Repository) groupedCounts(ctx context.Context, query string, dst map[string]int) error {
	rows, err := r.Store.Pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		dst[key] = count
	}
	return rows.Err()
}
