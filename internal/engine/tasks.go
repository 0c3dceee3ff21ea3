package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"courierline/internal/domain"
	"courierline/internal/engine/auth"
	"courierline/internal/events"
	"courierline/internal/repo"
)

// AssignTaskInput describes one assignment. Exactly one of ProductID and
// ShipmentID must be set; zero means absent.
type AssignTaskInput struct {
	DeliveryUserID int64
	ProductID      int64
	ShipmentID     int64
	LocationID     int64
	Priority       domain.Priority
	ScheduledDate  string
	Instructions   string
	Notes          string
}

// BatchAssignInput assigns many products and shipments to one delivery user.
type BatchAssignInput struct {
	DeliveryUserID int64
	ProductIDs     []int64
	ShipmentIDs    []int64
	LocationID     int64
	Priority       domain.Priority
	ScheduledDate  string
	Instructions   string
	Notes          string
}

type TransitionInput struct {
	TaskID int64
	Status domain.TaskStatus
	Notes  string
}

type target struct {
	productID  int64
	shipmentID int64
	branchID   int64
}

func (t target) kind() string {
	if t.shipmentID != 0 {
		return "shipment"
	}
	return "product"
}

// assignment is a validated plan: everything needed to write the tasks.
type assignment struct {
	courier  domain.User
	targets  []target
	location *int64
	priority domain.Priority
	date     string
	notes    string
	instr    string
}

func (e Engine) AssignTask(ctx context.Context, c domain.Caller, in AssignTaskInput) (domain.DeliveryTask, error) {
	if err := e.Auth.Require(c, auth.PermTaskAssign); err != nil {
		return domain.DeliveryTask{}, err
	}
	var p problems
	switch {
	case in.ProductID == 0 && in.ShipmentID == 0:
		p.addf("either product_id or shipment_id is required")
	case in.ProductID != 0 && in.ShipmentID != 0:
		p.addf("a task targets a product or a shipment, not both")
	}
	var products, shipments []int64
	if in.ProductID != 0 {
		products = []int64{in.ProductID}
	}
	if in.ShipmentID != 0 {
		shipments = []int64{in.ShipmentID}
	}
	plan, err := e.planAssignment(ctx, c, p, in.DeliveryUserID, products, shipments, in.LocationID, in.Priority, in.ScheduledDate)
	if err != nil {
		return domain.DeliveryTask{}, err
	}
	plan.notes, plan.instr = in.Notes, in.Instructions
	tasks, err := e.writeAssignment(ctx, c, plan)
	if err != nil {
		return domain.DeliveryTask{}, err
	}
	return tasks[0], nil
}

// BatchAssign creates one task per distinct product and shipment inside a single
// transaction. Either every task is created or none is.
func (e Engine) BatchAssign(ctx context.Context, c domain.Caller, in BatchAssignInput) ([]domain.DeliveryTask, error) {
	if err := e.Auth.Require(c, auth.PermTaskAssign); err != nil {
		return nil, err
	}
	var p problems
	products, shipments := dedupe(in.ProductIDs), dedupe(in.ShipmentIDs)
	if len(products) == 0 && len(shipments) == 0 {
		p.addf("select at least one product or shipment")
	}
	plan, err := e.planAssignment(ctx, c, p, in.DeliveryUserID, products, shipments, in.LocationID, in.Priority, in.ScheduledDate)
	if err != nil {
		return nil, err
	}
	plan.notes, plan.instr = in.Notes, in.Instructions
	return e.writeAssignment(ctx, c, plan)
}

func dedupe(ids []int64) []int64 {
	seen := map[int64]bool{}
	var out []int64
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// planAssignment validates everything an assignment touches before any write.
func (e Engine) planAssignment(ctx context.Context, c domain.Caller, p problems, courierID int64, products, shipments []int64, locationID int64, priority domain.Priority, date string) (assignment, error) {
	plan := assignment{priority: priority, date: date}
	if plan.priority == "" {
		plan.priority = domain.PriorityMedium
	}
	if !plan.priority.Valid() {
		p.addf("priority must be one of low, medium, high, urgent")
	}
	if date != "" && !validDate(date) {
		p.addf("scheduled_date must be YYYY-MM-DD")
	}
	if courierID == 0 {
		p.addf("delivery_user_id is required")
	} else {
		u, err := e.Repo.GetUser(ctx, nil, c, courierID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			p.addf("delivery user %d not found", courierID)
		case err != nil:
			return plan, err
		case u.Role != domain.RoleDeliveryUser:
			p.addf("user %d is not a delivery user", courierID)
		case u.Status != domain.UserActive:
			p.addf("delivery user %d is inactive", courierID)
		default:
			plan.courier = u
		}
	}
	if err := p.err(); err != nil {
		return plan, err
	}

	for _, id := range products {
		prod, err := e.Repo.GetProduct(ctx, nil, c, id)
		if err != nil {
			return plan, fmt.Errorf("product %d: %w", id, err)
		}
		if prod.Status != domain.ProductAvailable {
			return plan, fmt.Errorf("product %d is %s: %w", id, prod.Status, repo.ErrUnavailable)
		}
		plan.targets = append(plan.targets, target{productID: id, branchID: prod.BranchID})
	}
	for _, id := range shipments {
		s, err := e.Repo.GetShipment(ctx, nil, c, id)
		if err != nil {
			return plan, fmt.Errorf("shipment %d: %w", id, err)
		}
		if !dispatchable(s.Status) {
			return plan, fmt.Errorf("shipment %d is %s: %w", id, s.Status, repo.ErrUnavailable)
		}
		if taskID, held, err := e.Repo.ActiveShipmentTask(ctx, nil, id); err != nil {
			return plan, err
		} else if held {
			return plan, fmt.Errorf("shipment %d is held by task %d: %w", id, taskID, repo.ErrUnavailable)
		}
		plan.targets = append(plan.targets, target{shipmentID: id, branchID: s.BranchID})
	}
	for _, t := range plan.targets {
		if plan.courier.BranchID == nil || *plan.courier.BranchID != t.branchID {
			p.addf("delivery user %d does not belong to the branch of %s %d", courierID, t.kind(), t.productID+t.shipmentID)
		}
	}
	if locationID != 0 {
		loc, err := e.Repo.GetLocation(ctx, nil, c, locationID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			p.addf("location %d not found", locationID)
		case err != nil:
			return plan, err
		case plan.courier.BranchID != nil && loc.BranchID != *plan.courier.BranchID:
			p.addf("location %d belongs to another branch", locationID)
		default:
			plan.location = &loc.ID
		}
	}
	return plan, p.err()
}

func dispatchable(s domain.ShipmentStatus) bool {
	for _, d := range domain.DispatchableShipmentStatuses {
		if s == d {
			return true
		}
	}
	return false
}

func (e Engine) writeAssignment(ctx context.Context, c domain.Caller, plan assignment) ([]domain.DeliveryTask, error) {
	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	tasks := make([]domain.DeliveryTask, 0, len(plan.targets))
	for _, tg := range plan.targets {
		t, err := e.assignOne(ctx, tx, c, plan, tg, now)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	msgs := make([]events.Message, 0, len(tasks))
	branches := map[int64]bool{}
	for _, t := range tasks {
		e.Metrics.RecordTaskAssigned(t.Kind())
		m := events.NewMessage(events.TypeTaskAssigned, "task", t.ID, t.BranchID, string(t.Status), c.UserID, e.now())
		m.Data = map[string]any{"delivery_user_id": plan.courier.ID, "priority": t.Priority, "target": t.Kind()}
		msgs = append(msgs, m)
		branches[t.BranchID] = true
	}
	e.publish(ctx, msgs...)
	for b := range branches {
		e.invalidateReports(ctx, b)
	}
	return tasks, nil
}

func (e Engine) assignOne(ctx context.Context, tx *sql.Tx, c domain.Caller, plan assignment, tg target, now string) (domain.DeliveryTask, error) {
	courierID := plan.courier.ID
	t := domain.DeliveryTask{
		BranchID:       tg.branchID,
		DeliveryUserID: &courierID,
		LocationID:     plan.location,
		Priority:       plan.priority,
		Status:         domain.TaskAssigned,
		ScheduledDate:  plan.date,
		Instructions:   plan.instr,
		CreatedBy:      c.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if tg.productID != 0 {
		id := tg.productID
		t.ProductID = &id
		if err := e.Repo.ReserveProduct(ctx, tx, tg.branchID, id, now); err != nil {
			return t, fmt.Errorf("reserve product %d: %w", id, err)
		}
	} else {
		id := tg.shipmentID
		t.ShipmentID = &id
		if err := e.Repo.DispatchShipment(ctx, tx, tg.branchID, id, courierID, now); err != nil {
			return t, fmt.Errorf("dispatch shipment %d: %w", id, err)
		}
		note := fmt.Sprintf("Assigned to %s", plan.courier.Name)
		if err := e.history().TrackingHistory(ctx, tx, id, domain.ShipmentInTransit, "", note, c.UserID); err != nil {
			return t, err
		}
	}
	id, err := e.Repo.InsertTask(ctx, tx, t)
	if err != nil {
		return t, fmt.Errorf("insert task: %w", err)
	}
	t.ID = id
	if err := e.history().TaskHistory(ctx, tx, t.ID, domain.TaskAssigned, plan.notes, c.UserID); err != nil {
		return t, err
	}
	return t, nil
}

// TransitionTask moves a task along the transition table and applies the
// consequences to its product or shipment in the same transaction.
func (e Engine) TransitionTask(ctx context.Context, c domain.Caller, in TransitionInput) (domain.DeliveryTask, error) {
	if !in.Status.Valid() {
		return domain.DeliveryTask{}, ValidationError{Problems: []string{"status must be one of assigned, in_progress, completed, cancelled"}}
	}
	if err := e.Auth.Require(c, auth.PermTaskUpdate); err != nil {
		return domain.DeliveryTask{}, err
	}
	if in.Status == domain.TaskCancelled {
		if err := e.Auth.Require(c, auth.PermTaskCancel); err != nil {
			return domain.DeliveryTask{}, err
		}
	}
	t, err := e.Repo.GetTask(ctx, nil, c, in.TaskID)
	if err != nil {
		return t, err
	}
	from := t.Status
	if !from.CanTransitionTo(in.Status) {
		return t, TransitionError{Entity: "task", From: string(from), To: string(in.Status)}
	}

	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	completedAt := ""
	if in.Status == domain.TaskCompleted {
		completedAt = now
	}
	if err := e.Repo.UpdateTaskStatus(ctx, tx, t.ID, from, in.Status, completedAt, now); err != nil {
		return t, fmt.Errorf("update task %d: %w", t.ID, err)
	}
	var shipmentMsg *events.Message
	switch in.Status {
	case domain.TaskCompleted:
		shipmentMsg, err = e.completeTarget(ctx, tx, c, t, now)
	case domain.TaskCancelled:
		shipmentMsg, err = e.releaseTarget(ctx, tx, c, t, now)
	}
	if err != nil {
		return t, err
	}
	if err := e.history().TaskHistory(ctx, tx, t.ID, in.Status, in.Notes, c.UserID); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}

	t.Status = in.Status
	t.UpdatedAt = now
	if completedAt != "" {
		t.CompletedAt = &completedAt
	}
	e.Metrics.RecordTaskTransition(string(from), string(in.Status))
	msgs := []events.Message{events.NewMessage(events.TypeTaskStatusChanged, "task", t.ID, t.BranchID, string(t.Status), c.UserID, e.now())}
	if shipmentMsg != nil {
		msgs = append(msgs, *shipmentMsg)
		e.Metrics.RecordShipmentUpdate(shipmentMsg.Status)
	}
	e.publish(ctx, msgs...)
	e.invalidateReports(ctx, t.BranchID)
	return t, nil
}

// completeTarget marks the product or shipment delivered.
func (e Engine) completeTarget(ctx context.Context, tx *sql.Tx, c domain.Caller, t domain.DeliveryTask, now string) (*events.Message, error) {
	if t.ProductID != nil {
		if err := e.Repo.SetProductStatus(ctx, tx, *t.ProductID, domain.ProductPending, domain.ProductDelivered, now); err != nil {
			return nil, fmt.Errorf("deliver product %d: %w", *t.ProductID, err)
		}
		return nil, nil
	}
	s, err := e.Repo.GetShipment(ctx, tx, system, *t.ShipmentID)
	if err != nil {
		return nil, err
	}
	if s.Status == domain.ShipmentDelivered {
		return nil, nil
	}
	if !s.Status.CanTransitionTo(domain.ShipmentDelivered) {
		return nil, TransitionError{Entity: "shipment", From: string(s.Status), To: string(domain.ShipmentDelivered)}
	}
	if err := e.Repo.SetShipmentStatus(ctx, tx, s.ID, s.Status, domain.ShipmentDelivered, nil, false, now); err != nil {
		return nil, fmt.Errorf("deliver shipment %d: %w", s.ID, err)
	}
	if err := e.history().TrackingHistory(ctx, tx, s.ID, domain.ShipmentDelivered, "", "Delivered", c.UserID); err != nil {
		return nil, err
	}
	m := events.NewMessage(events.TypeShipmentStatusChanged, "shipment", s.ID, s.BranchID, string(domain.ShipmentDelivered), c.UserID, e.now())
	return &m, nil
}

// releaseTarget frees the product or shipment of a cancelled task so it can be
// assigned again.
func (e Engine) releaseTarget(ctx context.Context, tx *sql.Tx, c domain.Caller, t domain.DeliveryTask, now string) (*events.Message, error) {
	if t.ProductID != nil {
		p, err := e.Repo.GetProduct(ctx, tx, system, *t.ProductID)
		if err != nil {
			return nil, err
		}
		if p.Status != domain.ProductPending {
			return nil, nil
		}
		if err := e.Repo.SetProductStatus(ctx, tx, p.ID, domain.ProductPending, domain.ProductAvailable, now); err != nil {
			return nil, fmt.Errorf("release product %d: %w", p.ID, err)
		}
		return nil, nil
	}
	s, err := e.Repo.GetShipment(ctx, tx, system, *t.ShipmentID)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() || s.Status == domain.ShipmentPending {
		return nil, nil
	}
	if s.DeliveryUserID == nil || t.DeliveryUserID == nil || *s.DeliveryUserID != *t.DeliveryUserID {
		return nil, nil
	}
	if err := e.Repo.SetShipmentStatus(ctx, tx, s.ID, s.Status, domain.ShipmentPending, nil, true, now); err != nil {
		return nil, fmt.Errorf("release shipment %d: %w", s.ID, err)
	}
	if err := e.history().TrackingHistory(ctx, tx, s.ID, domain.ShipmentPending, "", "Delivery task cancelled", c.UserID); err != nil {
		return nil, err
	}
	m := events.NewMessage(events.TypeShipmentStatusChanged, "shipment", s.ID, s.BranchID, string(domain.ShipmentPending), c.UserID, e.now())
	return &m, nil
}
