package repo

import (
	"context"
	"database/sql"

	"courierline/internal/domain"
)

func (r Repo) InsertLocation(ctx context.Context, tx *sql.Tx, l domain.Location) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO locations(branch_id,name,address,created_at) VALUES (?,?,?,?)`,
		l.BranchID, l.Name, nullable(l.Address), l.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetLocation(ctx context.Context, tx *sql.Tx, c domain.Caller, id int64) (domain.Location, error) {
	clauses, args := scopeFor(c, "locations", "")
	clauses = append(clauses, "locations.id=?")
	args = append(args, id)
	var l domain.Location
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,branch_id,name,COALESCE(address,''),created_at FROM locations`+where(clauses), args...).
		Scan(&l.ID, &l.BranchID, &l.Name, &l.Address, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) ListLocations(ctx context.Context, c domain.Caller) ([]domain.Location, error) {
	clauses, args := scopeFor(c, "locations", "")
	rows, err := r.DB.QueryContext(ctx, `SELECT id,branch_id,name,COALESCE(address,''),created_at FROM locations`+where(clauses)+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Location
	for rows.Next() {
		var l domain.Location
		if err := rows.Scan(&l.ID, &l.BranchID, &l.Name, &l.Address, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
