package repo

import (
	"context"

	"courierline/internal/domain"
)

func (r Repo) countBy(ctx context.Context, table, column string, clauses []string, args []any) ([]domain.StatusCount, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+table+`.`+column+`, COUNT(*) FROM `+table+where(clauses)+
		` GROUP BY `+table+`.`+column+` ORDER BY `+table+`.`+column, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.StatusCount{}
	for rows.Next() {
		var sc domain.StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, err
		}
		res = append(res, sc)
	}
	return res, rows.Err()
}

func (r Repo) TaskCountsByStatus(ctx context.Context, c domain.Caller) ([]domain.StatusCount, error) {
	clauses, args := scopeFor(c, "delivery_tasks", "delivery_user_id")
	return r.countBy(ctx, "delivery_tasks", "status", clauses, args)
}

func (r Repo) TaskCountsByPriority(ctx context.Context, c domain.Caller) ([]domain.StatusCount, error) {
	clauses, args := scopeFor(c, "delivery_tasks", "delivery_user_id")
	return r.countBy(ctx, "delivery_tasks", "priority", clauses, args)
}

func (r Repo) ShipmentCountsByStatus(ctx context.Context, c domain.Caller) ([]domain.StatusCount, error) {
	clauses, args := scopeFor(c, "shipments", "delivery_user_id")
	return r.countBy(ctx, "shipments", "status", clauses, args)
}

func (r Repo) ProductCountsByStatus(ctx context.Context, c domain.Caller) ([]domain.StatusCount, error) {
	clauses, args := scopeFor(c, "products", "")
	return r.countBy(ctx, "products", "status", clauses, args)
}

func (r Repo) CountActiveCouriers(ctx context.Context, c domain.Caller) (int, error) {
	clauses, args := scopeFor(c, "users", "id")
	clauses = append(clauses, "users.role=?", "users.status=?")
	args = append(args, domain.RoleDeliveryUser, domain.UserActive)
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where(clauses), args...).Scan(&n)
	return n, err
}

// Workload counts tasks per delivery user in scope. Completions whose completed_at
// falls in [dayStart, dayEnd) count toward CompletedToday.
func (r Repo) Workload(ctx context.Context, c domain.Caller, dayStart, dayEnd string) ([]domain.Workload, error) {
	clauses, args := scopeFor(c, "users", "id")
	clauses = append(clauses, "users.role=?")
	args = append([]any{dayStart, dayEnd}, append(args, domain.RoleDeliveryUser)...)
	rows, err := r.DB.QueryContext(ctx, `SELECT users.id, users.name,
  COALESCE(SUM(CASE WHEN t.status='assigned' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN t.status='in_progress' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN t.status='completed' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN t.status='completed' AND t.completed_at >= ? AND t.completed_at < ? THEN 1 ELSE 0 END),0)
FROM users LEFT JOIN delivery_tasks t ON t.delivery_user_id = users.id`+where(clauses)+`
GROUP BY users.id, users.name
ORDER BY users.name, users.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Workload{}
	for rows.Next() {
		var w domain.Workload
		if err := rows.Scan(&w.DeliveryUserID, &w.Name, &w.Assigned, &w.InProgress, &w.Completed, &w.CompletedToday); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}
