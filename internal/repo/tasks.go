package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"courierline/internal/domain"
)

const taskColumns = `delivery_tasks.id,delivery_tasks.branch_id,delivery_tasks.product_id,delivery_tasks.shipment_id,delivery_tasks.delivery_user_id,
delivery_tasks.location_id,delivery_tasks.priority,delivery_tasks.status,COALESCE(delivery_tasks.scheduled_date,''),COALESCE(delivery_tasks.instructions,''),
delivery_tasks.created_by,delivery_tasks.created_at,delivery_tasks.updated_at,delivery_tasks.completed_at`

// priorityRankSQL mirrors domain.Priority.Rank.
const priorityRankSQL = `(CASE delivery_tasks.priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END)`

const scheduledSortSQL = `COALESCE(delivery_tasks.scheduled_date,'9999-12-31')`

func scanTask(row rowScanner) (domain.DeliveryTask, error) {
	var t domain.DeliveryTask
	var product, shipment, courier, location sql.NullInt64
	var completed sql.NullString
	err := row.Scan(&t.ID, &t.BranchID, &product, &shipment, &courier, &location, &t.Priority, &t.Status,
		&t.ScheduledDate, &t.Instructions, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &completed)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	t.ProductID = idPtr(product)
	t.ShipmentID = idPtr(shipment)
	t.DeliveryUserID = idPtr(courier)
	t.LocationID = idPtr(location)
	t.CompletedAt = strPtr(completed)
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.DeliveryTask) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO delivery_tasks(branch_id,product_id,shipment_id,delivery_user_id,location_id,priority,status,scheduled_date,instructions,created_by,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.BranchID, nullableID(t.ProductID), nullableID(t.ShipmentID), nullableID(t.DeliveryUserID), nullableID(t.LocationID),
		t.Priority, t.Status, nullable(t.ScheduledDate), nullable(t.Instructions), t.CreatedBy, t.CreatedAt, t.UpdatedAt, nil)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetTask loads a task within c's scope. Delivery users only see their own tasks.
func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, c domain.Caller, id int64) (domain.DeliveryTask, error) {
	clauses, args := scopeFor(c, "delivery_tasks", "delivery_user_id")
	clauses = append(clauses, "delivery_tasks.id=?")
	args = append(args, id)
	return scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM delivery_tasks`+where(clauses), args...))
}

type TaskFilter struct {
	Statuses       []string
	Priority       string
	DeliveryUserID int64
	ProductID      int64
	ShipmentID     int64
	ScheduledDate  string
	Limit          int
	Cursor         string
}

// TaskCursor encodes the sort key of the last task on a page.
func TaskCursor(t domain.DeliveryTask) string {
	date := t.ScheduledDate
	if date == "" {
		date = "9999-12-31"
	}
	return fmt.Sprintf("%d|%s|%d", t.Priority.Rank(), date, t.ID)
}

// ErrInvalidCursor is returned for a cursor not produced by TaskCursor.
var ErrInvalidCursor = errors.New("invalid cursor")

func parseTaskCursor(cursor string) (int, string, int64, error) {
	parts := strings.Split(cursor, "|")
	if len(parts) != 3 {
		return 0, "", 0, ErrInvalidCursor
	}
	rank, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", 0, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, "", 0, ErrInvalidCursor
	}
	return rank, parts[1], id, nil
}

// ListTasks returns tasks ordered most urgent first, then by scheduled date and id.
func (r Repo) ListTasks(ctx context.Context, c domain.Caller, f TaskFilter) ([]domain.DeliveryTask, error) {
	clauses, args := scopeFor(c, "delivery_tasks", "delivery_user_id")
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "delivery_tasks.status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if f.Priority != "" {
		clauses = append(clauses, "delivery_tasks.priority=?")
		args = append(args, f.Priority)
	}
	if f.DeliveryUserID != 0 {
		clauses = append(clauses, "delivery_tasks.delivery_user_id=?")
		args = append(args, f.DeliveryUserID)
	}
	if f.ProductID != 0 {
		clauses = append(clauses, "delivery_tasks.product_id=?")
		args = append(args, f.ProductID)
	}
	if f.ShipmentID != 0 {
		clauses = append(clauses, "delivery_tasks.shipment_id=?")
		args = append(args, f.ShipmentID)
	}
	if f.ScheduledDate != "" {
		clauses = append(clauses, "delivery_tasks.scheduled_date=?")
		args = append(args, f.ScheduledDate)
	}
	if f.Cursor != "" {
		rank, date, id, err := parseTaskCursor(f.Cursor)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, "("+priorityRankSQL+" < ? OR ("+priorityRankSQL+" = ? AND ("+scheduledSortSQL+" > ? OR ("+scheduledSortSQL+" = ? AND delivery_tasks.id > ?))))")
		args = append(args, rank, rank, date, date, id)
	}
	query := `SELECT ` + taskColumns + ` FROM delivery_tasks` + where(clauses) +
		` ORDER BY ` + priorityRankSQL + ` DESC, ` + scheduledSortSQL + ` ASC, delivery_tasks.id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DeliveryTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpdateTaskStatus moves a task from one status to another. completedAt is
// written only when non-empty. A task that has already left from yields
// ErrUnavailable.
func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, id int64, from, to domain.TaskStatus, completedAt, now string) error {
	query := `UPDATE delivery_tasks SET status=?, updated_at=?`
	args := []any{to, now}
	if completedAt != "" {
		query += `, completed_at=?`
		args = append(args, completedAt)
	}
	query += ` WHERE id=? AND status=?`
	args = append(args, id, from)
	return expectOne(tx.ExecContext(ctx, query, args...))
}

// CountTasks counts every task row, used by tests and diagnostics.
func (r Repo) CountTasks(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_tasks`).Scan(&n)
	return n, err
}
