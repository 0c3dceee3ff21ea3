package repo

import (
	"context"
	"database/sql"

	"courierline/internal/domain"
)

const productColumns = `products.id,products.branch_id,products.name,products.quantity,products.location_id,products.status,products.created_at,products.updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var loc sql.NullInt64
	err := row.Scan(&p.ID, &p.BranchID, &p.Name, &p.Quantity, &loc, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.LocationID = idPtr(loc)
	return p, err
}

func (r Repo) InsertProduct(ctx context.Context, tx *sql.Tx, p domain.Product) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO products(branch_id,name,quantity,location_id,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.BranchID, p.Name, p.Quantity, nullableID(p.LocationID), p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetProduct(ctx context.Context, tx *sql.Tx, c domain.Caller, id int64) (domain.Product, error) {
	clauses, args := scopeFor(c, "products", "")
	clauses = append(clauses, "products.id=?")
	args = append(args, id)
	return scanProduct(r.q(tx).QueryRowContext(ctx, `SELECT `+productColumns+` FROM products`+where(clauses), args...))
}

type ProductFilter struct {
	Status     string
	LocationID int64
}

func (r Repo) ListProducts(ctx context.Context, c domain.Caller, f ProductFilter) ([]domain.Product, error) {
	clauses, args := scopeFor(c, "products", "")
	if f.Status != "" {
		clauses = append(clauses, "products.status=?")
		args = append(args, f.Status)
	}
	if f.LocationID != 0 {
		clauses = append(clauses, "products.location_id=?")
		args = append(args, f.LocationID)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+productColumns+` FROM products`+where(clauses)+` ORDER BY products.id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ReserveProduct moves an available product in branchID to pending. It returns
// ErrUnavailable when the product is no longer available, so two assignments
// racing for the same product cannot both succeed.
func (r Repo) ReserveProduct(ctx context.Context, tx *sql.Tx, branchID, id int64, now string) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE products SET status=?, updated_at=? WHERE id=? AND branch_id=? AND status=?`,
		domain.ProductPending, now, id, branchID, domain.ProductAvailable))
}

// SetProductStatus moves a product from one status to another.
func (r Repo) SetProductStatus(ctx context.Context, tx *sql.Tx, id int64, from, to domain.ProductStatus, now string) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE products SET status=?, updated_at=? WHERE id=? AND status=?`, to, now, id, from))
}
