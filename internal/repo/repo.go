package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"courierline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrUnavailable reports a guarded update that matched no row because the
	// target is no longer in a state that allows it.
	ErrUnavailable = errors.New("resource unavailable")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns tx when set so reads inside a transaction see its own writes.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// scopeFor returns the WHERE clauses limiting rows of table to what caller may see.
// ownerColumn names the column holding the courier's user id; delivery users are
// further restricted to rows where it equals their own id. An empty ownerColumn
// leaves delivery users at branch scope.
func scopeFor(c domain.Caller, table, ownerColumn string) ([]string, []any) {
	if c.IsSuperAdmin() {
		return nil, nil
	}
	if c.BranchID == nil {
		return []string{"1=0"}, nil
	}
	clauses := []string{table + ".branch_id=?"}
	args := []any{*c.BranchID}
	if c.Role == domain.RoleDeliveryUser && ownerColumn != "" {
		clauses = append(clauses, table+"."+ownerColumn+"=?")
		args = append(args, c.UserID)
	}
	return clauses, args
}

func where(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

// expectOne maps a zero-row guarded update to ErrUnavailable.
func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnavailable
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func idPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
