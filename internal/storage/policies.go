package storage

import (
	"context"

	"github.com/google/uuid"
)

func (r *Repository) CreatePolicy(ctx context.Context, rec PolicyRecord) (string, error) {
	id := uuid.NewString()
	status := rec.Status
	if status == "" {
		status = PolicyPending
	}
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO policies (id, filename, raw_text, status, uploaded_at)
		VALUES ($1,$2,$3,$4,now())`,
		id, rec.Filename, rec.RawText, status,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) UpdatePolicyStatus(ctx context.Context, id string, status string) error {
	tag, err := r.Store.Pool.Exec(ctx, `UPDATE policies SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPolicies returns policies newest first, each carrying its rule count.
func (r *Repository) ListPolicies(ctx context.Context) ([]PolicyRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT p.id, p.filename, p.raw_text, p.status, p.uploaded_at,
			(SELECT count(*) FROM rules ru WHERE ru.policy_id = p.id)
		FROM policies p ORDER BY p.uploaded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []PolicyRecord{}
	for rows.Next() {
		var rec PolicyRecord
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.RawText, &rec.Status, &rec.UploadedAt, &rec.RuleCount); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (r *Repository) GetPolicy(ctx context.Context, id string) (PolicyRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT p.id, p.filename, p.raw_text, p.status, p.uploaded_at,
			(SELECT count(*) FROM rules ru WHERE ru.policy_id = p.id)
		FROM policies p WHERE p.id=$1`, id)
	var rec PolicyRecord
	if err := row.Scan(&rec.ID, &rec.Filename, &rec.RawText, &rec.Status, &rec.UploadedAt, &rec.RuleCount); err != nil {
		return PolicyRecord{}, ErrNotFound
	}
	return rec, nil
}

// DeletePolicy removes a policy and deactivates its rules. The rules
// themselves are kept: violations reference them and history must survive.
func (r *Repository) DeletePolicy(ctx context.Context, id string) error {
	tx, err := r.Store.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `UPDATE rules SET is_active=false WHERE policy_id=$1`, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM policies WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}
