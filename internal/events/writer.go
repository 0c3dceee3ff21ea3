package events

import (
	"context"
	"database/sql"
	"time"

	"courierline/internal/domain"
)

// Writer is the only writer of task_history and tracking_history. Both tables are
// append-only: Writer inserts and never updates or deletes.
type Writer struct {
	Now func() time.Time
}

func (w Writer) ts() string {
	if w.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return w.Now().UTC().Format(time.RFC3339)
}

func (w Writer) TaskHistory(ctx context.Context, tx *sql.Tx, taskID int64, status domain.TaskStatus, notes string, actorID int64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_history(task_id,status,notes,created_by,created_at) VALUES (?,?,?,?,?)`,
		taskID, status, nullable(notes), actorID, w.ts())
	return err
}

func (w Writer) TrackingHistory(ctx context.Context, tx *sql.Tx, shipmentID int64, status domain.ShipmentStatus, location, notes string, actorID int64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tracking_history(shipment_id,status,location,notes,created_by,created_at) VALUES (?,?,?,?,?,?)`,
		shipmentID, status, nullable(location), nullable(notes), actorID, w.ts())
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
