package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"courierline/internal/domain"
	"courierline/internal/engine/auth"
	"courierline/internal/events"
	"courierline/internal/repo"
)

type CreateShipmentInput struct {
	BranchID         int64
	SenderName       string
	SenderPhone      string
	SenderAddress    string
	RecipientName    string
	RecipientPhone   string
	RecipientAddress string
	Notes            string
}

// ShipmentStatusInput drives the manual courier update flow. DeliveryUserID,
// when set, hands the shipment to another courier.
type ShipmentStatusInput struct {
	ShipmentID     int64
	Status         domain.ShipmentStatus
	DeliveryUserID int64
	Location       string
	Notes          string
}

const trackingAttempts = 5

func (e Engine) newTrackingNumber() string {
	return fmt.Sprintf("TRK%d%04d", e.now().Unix(), rand.IntN(10000))
}

func (e Engine) CreateShipment(ctx context.Context, c domain.Caller, in CreateShipmentInput) (domain.Shipment, error) {
	if err := e.Auth.Require(c, auth.PermShipmentManage); err != nil {
		return domain.Shipment{}, err
	}
	var p problems
	branchID := e.branchFor(ctx, c, in.BranchID, &p)
	required := []struct{ field, value string }{
		{"sender_name", in.SenderName},
		{"sender_address", in.SenderAddress},
		{"recipient_name", in.RecipientName},
		{"recipient_address", in.RecipientAddress},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			p.addf("%s is required", r.field)
		}
	}
	if err := p.err(); err != nil {
		return domain.Shipment{}, err
	}

	now := e.stamp()
	s := domain.Shipment{
		BranchID:         branchID,
		SenderName:       strings.TrimSpace(in.SenderName),
		SenderPhone:      strings.TrimSpace(in.SenderPhone),
		SenderAddress:    strings.TrimSpace(in.SenderAddress),
		RecipientName:    strings.TrimSpace(in.RecipientName),
		RecipientPhone:   strings.TrimSpace(in.RecipientPhone),
		RecipientAddress: strings.TrimSpace(in.RecipientAddress),
		Status:           domain.ShipmentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()

	for i := 0; i < trackingAttempts && s.TrackingNumber == ""; i++ {
		candidate := e.newTrackingNumber()
		taken, err := e.Repo.TrackingNumberExists(ctx, tx, candidate)
		if err != nil {
			return s, err
		}
		if !taken {
			s.TrackingNumber = candidate
		}
	}
	if s.TrackingNumber == "" {
		return s, errors.New("could not allocate a tracking number")
	}
	id, err := e.Repo.InsertShipment(ctx, tx, s)
	if err != nil {
		return s, fmt.Errorf("insert shipment: %w", err)
	}
	s.ID = id
	notes := in.Notes
	if notes == "" {
		notes = "Shipment created"
	}
	if err := e.history().TrackingHistory(ctx, tx, s.ID, s.Status, "", notes, c.UserID); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	e.invalidateReports(ctx, s.BranchID)
	return s, nil
}

// UpdateShipmentStatus applies a manual status change, optionally reassigning
// the courier, and appends to the tracking trail.
func (e Engine) UpdateShipmentStatus(ctx context.Context, c domain.Caller, in ShipmentStatusInput) (domain.Shipment, error) {
	if !in.Status.Valid() {
		return domain.Shipment{}, ValidationError{Problems: []string{"status must be one of pending, in_transit, delivered, cancelled, delayed, issue"}}
	}
	if err := e.Auth.Require(c, auth.PermShipmentUpdate); err != nil {
		return domain.Shipment{}, err
	}
	if in.DeliveryUserID != 0 {
		if err := e.Auth.Require(c, auth.PermShipmentManage); err != nil {
			return domain.Shipment{}, err
		}
	}
	s, err := e.Repo.GetShipment(ctx, nil, c, in.ShipmentID)
	if err != nil {
		return s, err
	}
	reassign := in.DeliveryUserID != 0 && (s.DeliveryUserID == nil || *s.DeliveryUserID != in.DeliveryUserID)
	if in.Status != s.Status || !reassign {
		if !s.Status.CanTransitionTo(in.Status) {
			return s, TransitionError{Entity: "shipment", From: string(s.Status), To: string(in.Status)}
		}
	}
	var courier *int64
	if reassign {
		u, err := e.Repo.GetUser(ctx, nil, c, in.DeliveryUserID)
		var p problems
		switch {
		case errors.Is(err, repo.ErrNotFound):
			p.addf("delivery user %d not found", in.DeliveryUserID)
		case err != nil:
			return s, err
		case u.Role != domain.RoleDeliveryUser || u.Status != domain.UserActive:
			p.addf("user %d is not an active delivery user", in.DeliveryUserID)
		case u.BranchID == nil || *u.BranchID != s.BranchID:
			p.addf("delivery user %d does not belong to the shipment's branch", in.DeliveryUserID)
		}
		if err := p.err(); err != nil {
			return s, err
		}
		courier = &u.ID
	}

	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetShipmentStatus(ctx, tx, s.ID, s.Status, in.Status, courier, false, now); err != nil {
		return s, fmt.Errorf("update shipment %d: %w", s.ID, err)
	}
	// The active task follows the shipment to its new courier.
	if courier != nil {
		taskID, held, err := e.Repo.ActiveShipmentTask(ctx, tx, s.ID)
		if err != nil {
			return s, err
		}
		if held {
			if err := e.Repo.MoveShipmentTask(ctx, tx, taskID, *courier, now); err != nil {
				return s, fmt.Errorf("move task %d: %w", taskID, err)
			}
		}
	}
	if err := e.history().TrackingHistory(ctx, tx, s.ID, in.Status, in.Location, in.Notes, c.UserID); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.Status = in.Status
	s.UpdatedAt = now
	if courier != nil {
		s.DeliveryUserID = courier
	}
	e.Metrics.RecordShipmentUpdate(string(s.Status))
	e.publish(ctx, events.NewMessage(events.TypeShipmentStatusChanged, "shipment", s.ID, s.BranchID, string(s.Status), c.UserID, e.now()))
	e.invalidateReports(ctx, s.BranchID)
	return s, nil
}

// Tracking returns a shipment in c's scope with its trail.
func (e Engine) Tracking(ctx context.Context, c domain.Caller, shipmentID int64) (domain.Shipment, []domain.TrackingHistory, error) {
	s, err := e.Repo.GetShipment(ctx, nil, c, shipmentID)
	if err != nil {
		return s, nil, err
	}
	h, err := e.Repo.ListTrackingHistory(ctx, s.ID)
	return s, h, err
}

// TrackPublic looks a shipment up by tracking number without authentication.
func (e Engine) TrackPublic(ctx context.Context, number string) (domain.Shipment, []domain.TrackingHistory, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	if number == "" {
		return domain.Shipment{}, nil, repo.ErrNotFound
	}
	s, err := e.Repo.GetShipmentByTracking(ctx, number)
	if err != nil {
		return s, nil, err
	}
	h, err := e.Repo.ListTrackingHistory(ctx, s.ID)
	return s, h, err
}
