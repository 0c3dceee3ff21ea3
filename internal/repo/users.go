package repo

import (
	"context"
	"database/sql"
	"strings"

	"courierline/internal/domain"
)

const userColumns = `users.id,users.branch_id,users.name,users.email,COALESCE(users.phone,''),users.password_hash,users.role,users.status,users.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var branch sql.NullInt64
	err := row.Scan(&u.ID, &branch, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Role, &u.Status, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.BranchID = idPtr(branch)
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(branch_id,name,email,phone,password_hash,role,status,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		nullableID(u.BranchID), u.Name, strings.ToLower(strings.TrimSpace(u.Email)), nullable(u.Phone), u.PasswordHash, u.Role, u.Status, u.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetUserByID loads a user without scoping. Used by authentication only.
func (r Repo) GetUserByID(ctx context.Context, id int64) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, strings.ToLower(strings.TrimSpace(email))))
}

// GetUser loads a user within c's scope. Delivery users only see themselves.
func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, c domain.Caller, id int64) (domain.User, error) {
	clauses, args := scopeFor(c, "users", "id")
	clauses = append(clauses, "users.id=?")
	args = append(args, id)
	return scanUser(r.q(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users`+where(clauses), args...))
}

type UserFilter struct {
	Role   string
	Status string
}

func (r Repo) ListUsers(ctx context.Context, c domain.Caller, f UserFilter) ([]domain.User, error) {
	clauses, args := scopeFor(c, "users", "id")
	if f.Role != "" {
		clauses = append(clauses, "users.role=?")
		args = append(args, f.Role)
	}
	if f.Status != "" {
		clauses = append(clauses, "users.status=?")
		args = append(args, f.Status)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users`+where(clauses)+` ORDER BY users.name, users.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) SetUserStatus(ctx context.Context, tx *sql.Tx, c domain.Caller, id int64, status domain.UserStatus) error {
	clauses, args := scopeFor(c, "users", "id")
	clauses = append(clauses, "users.id=?")
	args = append([]any{status}, append(args, id)...)
	res, err := r.q(tx).ExecContext(ctx, `UPDATE users SET status=?`+where(clauses), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountUsersByRole(ctx context.Context, role domain.Role) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role=?`, role).Scan(&n)
	return n, err
}
