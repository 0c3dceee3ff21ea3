package domain

type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleBranchAdmin  Role = "branch_admin"
	RoleDeliveryUser Role = "delivery_user"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleBranchAdmin, RoleDeliveryUser:
		return true
	}
	return false
}

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
)

func (s UserStatus) Valid() bool {
	return s == UserActive || s == UserInactive
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Rank orders priorities, urgent first when sorted descending.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

type ProductStatus string

const (
	ProductAvailable ProductStatus = "available"
	ProductPending   ProductStatus = "pending"
	ProductDelivered ProductStatus = "delivered"
	ProductCancelled ProductStatus = "cancelled"
)

func (s ProductStatus) Valid() bool {
	switch s {
	case ProductAvailable, ProductPending, ProductDelivered, ProductCancelled:
		return true
	}
	return false
}

// Caller is the authenticated principal every repository and engine call is scoped by.
// BranchID is nil only for super admins.
type Caller struct {
	UserID   int64
	Role     Role
	BranchID *int64
}

func (c Caller) IsSuperAdmin() bool { return c.Role == RoleSuperAdmin }

// Branch returns the caller's branch id, or 0 when unscoped.
func (c Caller) Branch() int64 {
	if c.BranchID == nil {
		return 0
	}
	return *c.BranchID
}

type Branch struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Location struct {
	ID        int64  `json:"id"`
	BranchID  int64  `json:"branch_id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID           int64      `json:"id"`
	BranchID     *int64     `json:"branch_id,omitempty"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone,omitempty"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role" enum:"super_admin,branch_admin,delivery_user"`
	Status       UserStatus `json:"status" enum:"active,inactive"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
}

// Caller converts a stored user into the principal used for scoping.
func (u User) Caller() Caller {
	return Caller{UserID: u.ID, Role: u.Role, BranchID: u.BranchID}
}

type Product struct {
	ID         int64         `json:"id"`
	BranchID   int64         `json:"branch_id"`
	Name       string        `json:"name"`
	Quantity   int           `json:"quantity"`
	LocationID *int64        `json:"location_id,omitempty"`
	Status     ProductStatus `json:"status" enum:"available,pending,delivered,cancelled"`
	CreatedAt  string        `json:"created_at" format:"date-time"`
	UpdatedAt  string        `json:"updated_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
