package domain

type TaskStatus string

const (
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskAssigned:   {TaskInProgress, TaskCancelled},
	TaskInProgress: {TaskCompleted, TaskCancelled},
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskAssigned, TaskInProgress, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type ShipmentStatus string

const (
	ShipmentPending   ShipmentStatus = "pending"
	ShipmentInTransit ShipmentStatus = "in_transit"
	ShipmentDelivered ShipmentStatus = "delivered"
	ShipmentCancelled ShipmentStatus = "cancelled"
	ShipmentDelayed   ShipmentStatus = "delayed"
	ShipmentIssue     ShipmentStatus = "issue"
)

var shipmentTransitions = map[ShipmentStatus][]ShipmentStatus{
	ShipmentPending:   {ShipmentInTransit, ShipmentDelayed, ShipmentIssue, ShipmentCancelled},
	ShipmentInTransit: {ShipmentDelivered, ShipmentDelayed, ShipmentIssue, ShipmentCancelled},
	ShipmentDelayed:   {ShipmentInTransit, ShipmentDelivered, ShipmentIssue, ShipmentCancelled},
	ShipmentIssue:     {ShipmentInTransit, ShipmentDelayed, ShipmentCancelled},
}

// ActiveTaskStatuses are the states in which a task still holds its product or shipment.
var ActiveTaskStatuses = []TaskStatus{TaskAssigned, TaskInProgress}

// DispatchableShipmentStatuses lists the states a shipment may be handed to a courier from.
var DispatchableShipmentStatuses = []ShipmentStatus{ShipmentPending, ShipmentDelayed, ShipmentIssue}

func (s ShipmentStatus) Valid() bool {
	switch s {
	case ShipmentPending, ShipmentInTransit, ShipmentDelivered, ShipmentCancelled, ShipmentDelayed, ShipmentIssue:
		return true
	}
	return false
}

func (s ShipmentStatus) Terminal() bool {
	return s == ShipmentDelivered || s == ShipmentCancelled
}

func (s ShipmentStatus) CanTransitionTo(next ShipmentStatus) bool {
	for _, allowed := range shipmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Shipment struct {
	ID               int64          `json:"id"`
	BranchID         int64          `json:"branch_id"`
	TrackingNumber   string         `json:"tracking_number"`
	SenderName       string         `json:"sender_name"`
	SenderPhone      string         `json:"sender_phone,omitempty"`
	SenderAddress    string         `json:"sender_address"`
	RecipientName    string         `json:"recipient_name"`
	RecipientPhone   string         `json:"recipient_phone,omitempty"`
	RecipientAddress string         `json:"recipient_address"`
	DeliveryUserID   *int64         `json:"delivery_user_id,omitempty"`
	Status           ShipmentStatus `json:"status" enum:"pending,in_transit,delivered,cancelled,delayed,issue"`
	CreatedAt        string         `json:"created_at" format:"date-time"`
	UpdatedAt        string         `json:"updated_at" format:"date-time"`
}

// DeliveryTask links a delivery user to exactly one product or shipment.
type DeliveryTask struct {
	ID             int64      `json:"id"`
	BranchID       int64      `json:"branch_id"`
	ProductID      *int64     `json:"product_id,omitempty"`
	ShipmentID     *int64     `json:"shipment_id,omitempty"`
	DeliveryUserID *int64     `json:"delivery_user_id,omitempty"`
	LocationID     *int64     `json:"location_id,omitempty"`
	Priority       Priority   `json:"priority" enum:"low,medium,high,urgent"`
	Status         TaskStatus `json:"status" enum:"assigned,in_progress,completed,cancelled"`
	ScheduledDate  string     `json:"scheduled_date,omitempty" format:"date"`
	Instructions   string     `json:"instructions,omitempty"`
	CreatedBy      int64      `json:"created_by"`
	CreatedAt      string     `json:"created_at" format:"date-time"`
	UpdatedAt      string     `json:"updated_at" format:"date-time"`
	CompletedAt    *string    `json:"completed_at,omitempty" format:"date-time"`
}

// Kind is "product" or "shipment" depending on which target is set.
func (t DeliveryTask) Kind() string {
	if t.ShipmentID != nil {
		return "shipment"
	}
	return "product"
}

type TaskHistory struct {
	ID        int64      `json:"id"`
	TaskID    int64      `json:"task_id"`
	Status    TaskStatus `json:"status"`
	Notes     string     `json:"notes,omitempty"`
	CreatedBy int64      `json:"created_by"`
	CreatedAt string     `json:"created_at" format:"date-time"`
}

type TrackingHistory struct {
	ID         int64          `json:"id"`
	ShipmentID int64          `json:"shipment_id"`
	Status     ShipmentStatus `json:"status"`
	Location   string         `json:"location,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	CreatedBy  int64          `json:"created_by"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type Workload struct {
	DeliveryUserID int64  `json:"delivery_user_id"`
	Name           string `json:"name"`
	Assigned       int    `json:"assigned"`
	InProgress     int    `json:"in_progress"`
	Completed      int    `json:"completed"`
	CompletedToday int    `json:"completed_today"`
}

type Dashboard struct {
	BranchID         *int64        `json:"branch_id,omitempty"`
	TasksByStatus    []StatusCount `json:"tasks_by_status"`
	TasksByPriority  []StatusCount `json:"tasks_by_priority"`
	ShipmentsByState []StatusCount `json:"shipments_by_status"`
	ProductsByStatus []StatusCount `json:"products_by_status"`
	ActiveCouriers   int           `json:"active_couriers"`
	GeneratedAt      string        `json:"generated_at" format:"date-time"`
}
