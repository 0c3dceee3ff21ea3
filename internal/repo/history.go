package repo

import (
	"context"
	"database/sql"

	"courierline/internal/domain"
)

// ListTaskHistory returns the audit trail of a task in c's scope, oldest first.
func (r Repo) ListTaskHistory(ctx context.Context, c domain.Caller, taskID int64) ([]domain.TaskHistory, error) {
	if _, err := r.GetTask(ctx, nil, c, taskID); err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,status,COALESCE(notes,''),created_by,created_at FROM task_history WHERE task_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskHistory
	for rows.Next() {
		var h domain.TaskHistory
		if err := rows.Scan(&h.ID, &h.TaskID, &h.Status, &h.Notes, &h.CreatedBy, &h.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// ListTrackingHistory returns a shipment's tracking trail, oldest first. Callers
// check scope on the shipment before calling.
func (r Repo) ListTrackingHistory(ctx context.Context, shipmentID int64) ([]domain.TrackingHistory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,shipment_id,status,COALESCE(location,''),COALESCE(notes,''),created_by,created_at FROM tracking_history WHERE shipment_id=? ORDER BY id`, shipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TrackingHistory
	for rows.Next() {
		var h domain.TrackingHistory
		var by sql.NullInt64
		if err := rows.Scan(&h.ID, &h.ShipmentID, &h.Status, &h.Location, &h.Notes, &by, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.CreatedBy = by.Int64
		res = append(res, h)
	}
	return res, rows.Err()
}

// CountTaskHistory counts history rows for a task with the given status.
func (r Repo) CountTaskHistory(ctx context.Context, taskID int64, status domain.TaskStatus) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_history WHERE task_id=? AND status=?`, taskID, status).Scan(&n)
	return n, err
}
