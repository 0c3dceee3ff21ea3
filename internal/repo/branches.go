package repo

import (
	"context"
	"database/sql"

	"courierline/internal/domain"
)

func (r Repo) InsertBranch(ctx context.Context, tx *sql.Tx, b domain.Branch) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO branches(name,created_at) VALUES (?,?)`, b.Name, b.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetBranch(ctx context.Context, tx *sql.Tx, id int64) (domain.Branch, error) {
	var b domain.Branch
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,created_at FROM branches WHERE id=?`, id).Scan(&b.ID, &b.Name, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

// ListBranches returns the branches visible to c: every branch for super admins,
// only their own otherwise.
func (r Repo) ListBranches(ctx context.Context, c domain.Caller) ([]domain.Branch, error) {
	var (
		clauses []string
		args    []any
	)
	if !c.IsSuperAdmin() {
		clauses = append(clauses, "id=?")
		args = append(args, c.Branch())
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM branches`+where(clauses)+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Branch
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
