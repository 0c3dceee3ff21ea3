package repo

import (
	"context"
	"database/sql"

	"courierline/internal/domain"
)

const shipmentColumns = `shipments.id,shipments.branch_id,shipments.tracking_number,shipments.sender_name,COALESCE(shipments.sender_phone,''),shipments.sender_address,
shipments.recipient_name,COALESCE(shipments.recipient_phone,''),shipments.recipient_address,shipments.delivery_user_id,shipments.status,shipments.created_at,shipments.updated_at`

func scanShipment(row rowScanner) (domain.Shipment, error) {
	var s domain.Shipment
	var courier sql.NullInt64
	err := row.Scan(&s.ID, &s.BranchID, &s.TrackingNumber, &s.SenderName, &s.SenderPhone, &s.SenderAddress,
		&s.RecipientName, &s.RecipientPhone, &s.RecipientAddress, &courier, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.DeliveryUserID = idPtr(courier)
	return s, err
}

func (r Repo) InsertShipment(ctx context.Context, tx *sql.Tx, s domain.Shipment) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO shipments(branch_id,tracking_number,sender_name,sender_phone,sender_address,recipient_name,recipient_phone,recipient_address,delivery_user_id,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.BranchID, s.TrackingNumber, s.SenderName, nullable(s.SenderPhone), s.SenderAddress,
		s.RecipientName, nullable(s.RecipientPhone), s.RecipientAddress, nullableID(s.DeliveryUserID), s.Status, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// TrackingNumberExists reports whether number is already taken.
func (r Repo) TrackingNumberExists(ctx context.Context, tx *sql.Tx, number string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM shipments WHERE tracking_number=?`, number).Scan(&n)
	return n > 0, err
}

// GetShipment loads a shipment within c's scope. Delivery users only see
// shipments they carry.
func (r Repo) GetShipment(ctx context.Context, tx *sql.Tx, c domain.Caller, id int64) (domain.Shipment, error) {
	clauses, args := scopeFor(c, "shipments", "delivery_user_id")
	clauses = append(clauses, "shipments.id=?")
	args = append(args, id)
	return scanShipment(r.q(tx).QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments`+where(clauses), args...))
}

// GetShipmentByTracking is the unscoped lookup behind public tracking.
func (r Repo) GetShipmentByTracking(ctx context.Context, number string) (domain.Shipment, error) {
	return scanShipment(r.DB.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE tracking_number=?`, number))
}

type ShipmentFilter struct {
	Status         string
	DeliveryUserID int64
	Search         string
}

func (r Repo) ListShipments(ctx context.Context, c domain.Caller, f ShipmentFilter) ([]domain.Shipment, error) {
	clauses, args := scopeFor(c, "shipments", "delivery_user_id")
	if f.Status != "" {
		clauses = append(clauses, "shipments.status=?")
		args = append(args, f.Status)
	}
	if f.DeliveryUserID != 0 {
		clauses = append(clauses, "shipments.delivery_user_id=?")
		args = append(args, f.DeliveryUserID)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		clauses = append(clauses, "(shipments.tracking_number LIKE ? OR shipments.recipient_name LIKE ? OR shipments.sender_name LIKE ?)")
		args = append(args, like, like, like)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+shipmentColumns+` FROM shipments`+where(clauses)+` ORDER BY shipments.id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// DispatchShipment hands a shipment in branchID to courierID and marks it in transit.
// Only pending, delayed and issue shipments without an active task can be
// dispatched; anything else yields ErrUnavailable.
func (r Repo) DispatchShipment(ctx context.Context, tx *sql.Tx, branchID, id, courierID int64, now string) error {
	from := domain.DispatchableShipmentStatuses
	active := domain.ActiveTaskStatuses
	args := []any{domain.ShipmentInTransit, courierID, now, id, branchID}
	for _, s := range from {
		args = append(args, s)
	}
	for _, s := range active {
		args = append(args, s)
	}
	return expectOne(tx.ExecContext(ctx, `UPDATE shipments SET status=?, delivery_user_id=?, updated_at=?
WHERE id=? AND branch_id=? AND status IN (`+placeholders(len(from))+`)
AND NOT EXISTS (SELECT 1 FROM delivery_tasks WHERE delivery_tasks.shipment_id=shipments.id AND delivery_tasks.status IN (`+placeholders(len(active))+`))`, args...))
}

// ActiveShipmentTask returns the assigned or in-progress task holding shipmentID, if any.
func (r Repo) ActiveShipmentTask(ctx context.Context, tx *sql.Tx, shipmentID int64) (int64, bool, error) {
	active := domain.ActiveTaskStatuses
	args := []any{shipmentID}
	for _, s := range active {
		args = append(args, s)
	}
	var id int64
	err := r.q(tx).QueryRowContext(ctx, `SELECT id FROM delivery_tasks WHERE shipment_id=? AND status IN (`+placeholders(len(active))+`) ORDER BY id LIMIT 1`, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// MoveShipmentTask hands an active shipment task to courierID.
func (r Repo) MoveShipmentTask(ctx context.Context, tx *sql.Tx, taskID, courierID int64, now string) error {
	active := domain.ActiveTaskStatuses
	args := []any{courierID, now, taskID}
	for _, s := range active {
		args = append(args, s)
	}
	return expectOne(tx.ExecContext(ctx, `UPDATE delivery_tasks SET delivery_user_id=?, updated_at=? WHERE id=? AND status IN (`+placeholders(len(active))+`)`, args...))
}

// SetShipmentStatus moves a shipment from one status to another. A non-nil
// courier replaces delivery_user_id; clearCourier sets it to NULL.
func (r Repo) SetShipmentStatus(ctx context.Context, tx *sql.Tx, id int64, from, to domain.ShipmentStatus, courier *int64, clearCourier bool, now string) error {
	query := `UPDATE shipments SET status=?, updated_at=?`
	args := []any{to, now}
	switch {
	case clearCourier:
		query += `, delivery_user_id=NULL`
	case courier != nil:
		query += `, delivery_user_id=?`
		args = append(args, *courier)
	}
	query += ` WHERE id=? AND status=?`
	args = append(args, id, from)
	return expectOne(tx.ExecContext(ctx, query, args...))
}
