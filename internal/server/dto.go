package server

import (
	"courierline/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AssignTaskRequest struct {
	DeliveryUserID int64  `json:"delivery_user_id"`
	ProductID      int64  `json:"product_id,omitempty"`
	ShipmentID     int64  `json:"shipment_id,omitempty"`
	LocationID     int64  `json:"location_id,omitempty"`
	Priority       string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	ScheduledDate  string `json:"scheduled_date,omitempty" format:"date"`
	Instructions   string `json:"instructions,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

type BatchAssignRequest struct {
	DeliveryUserID int64   `json:"delivery_user_id"`
	ProductIDs     []int64 `json:"product_ids,omitempty"`
	ShipmentIDs    []int64 `json:"shipment_ids,omitempty"`
	LocationID     int64   `json:"location_id,omitempty"`
	Priority       string  `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	ScheduledDate  string  `json:"scheduled_date,omitempty" format:"date"`
	Instructions   string  `json:"instructions,omitempty"`
	Notes          string  `json:"notes,omitempty"`
}

type TaskStatusRequest struct {
	Status string `json:"status" enum:"assigned,in_progress,completed,cancelled"`
	Notes  string `json:"notes,omitempty"`
}

type CreateProductRequest struct {
	BranchID   int64  `json:"branch_id,omitempty"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity,omitempty"`
	LocationID int64  `json:"location_id,omitempty"`
}

type CreateShipmentRequest struct {
	BranchID         int64  `json:"branch_id,omitempty"`
	SenderName       string `json:"sender_name"`
	SenderPhone      string `json:"sender_phone,omitempty"`
	SenderAddress    string `json:"sender_address"`
	RecipientName    string `json:"recipient_name"`
	RecipientPhone   string `json:"recipient_phone,omitempty"`
	RecipientAddress string `json:"recipient_address"`
	Notes            string `json:"notes,omitempty"`
}

type ShipmentStatusRequest struct {
	Status         string `json:"status" enum:"pending,in_transit,delivered,cancelled,delayed,issue"`
	DeliveryUserID int64  `json:"delivery_user_id,omitempty"`
	Location       string `json:"location,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

type CreateUserRequest struct {
	BranchID int64  `json:"branch_id,omitempty"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty" enum:"super_admin,branch_admin,delivery_user"`
}

type UserStatusRequest struct {
	Status string `json:"status" enum:"active,inactive"`
}

type CreateLocationRequest struct {
	BranchID int64  `json:"branch_id,omitempty"`
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
}

type CreateBranchRequest struct {
	Name string `json:"name"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Responses

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at" format:"date-time"`
	User      domain.User `json:"user"`
}

type MeResponse struct {
	User        domain.User `json:"user"`
	Permissions []string    `json:"permissions"`
	AuthSource  string      `json:"auth_source"`
}

type TaskPage struct {
	Items      []domain.DeliveryTask `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type BatchAssignResponse struct {
	Created int                   `json:"created"`
	Tasks   []domain.DeliveryTask `json:"tasks"`
}

type TrackingResponse struct {
	Shipment domain.Shipment          `json:"shipment"`
	History  []domain.TrackingHistory `json:"history"`
}

// PublicTrackingResponse is what an unauthenticated tracking lookup may see.
type PublicTrackingResponse struct {
	TrackingNumber string          `json:"tracking_number"`
	Status         string          `json:"status"`
	RecipientName  string          `json:"recipient_name"`
	UpdatedAt      string          `json:"updated_at" format:"date-time"`
	History        []TrackingEvent `json:"history"`
}

type TrackingEvent struct {
	Status    string `json:"status"`
	Location  string `json:"location,omitempty"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeyResponse struct {
	Key    string        `json:"key,omitempty"`
	APIKey domain.APIKey `json:"api_key"`
}

func publicTracking(s domain.Shipment, h []domain.TrackingHistory) PublicTrackingResponse {
	resp := PublicTrackingResponse{
		TrackingNumber: s.TrackingNumber,
		Status:         string(s.Status),
		RecipientName:  s.RecipientName,
		UpdatedAt:      s.UpdatedAt,
		History:        make([]TrackingEvent, 0, len(h)),
	}
	for _, e := range h {
		resp.History = append(resp.History, TrackingEvent{
			Status:    string(e.Status),
			Location:  e.Location,
			Notes:     e.Notes,
			CreatedAt: e.CreatedAt,
		})
	}
	return resp
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
