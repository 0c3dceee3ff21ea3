package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"courierline/internal/domain"
	"courierline/internal/engine"
	"courierline/internal/repo"
)

func (h handlers) registerShipments(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-shipment",
		Method:        http.MethodPost,
		Path:          "/shipments",
		Summary:       "Create shipment",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateShipmentRequest
	}) (*out[domain.Shipment], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		s, err := h.e.CreateShipment(ctx, c, engine.CreateShipmentInput{
			BranchID:         b.BranchID,
			SenderName:       b.SenderName,
			SenderPhone:      b.SenderPhone,
			SenderAddress:    b.SenderAddress,
			RecipientName:    b.RecipientName,
			RecipientPhone:   b.RecipientPhone,
			RecipientAddress: b.RecipientAddress,
			Notes:            b.Notes,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(s)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-shipments",
		Method:      http.MethodGet,
		Path:        "/shipments",
		Summary:     "List shipments",
	}, func(ctx context.Context, input *struct {
		Status         string `query:"status"`
		DeliveryUserID int64  `query:"delivery_user_id"`
		Search         string `query:"search" doc:"Matches tracking number or recipient name"`
	}) (*out[[]domain.Shipment], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.Repo.ListShipments(ctx, c, repo.ShipmentFilter{
			Status:         input.Status,
			DeliveryUserID: input.DeliveryUserID,
			Search:         input.Search,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNilSlice(items))
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-shipment",
		Method:      http.MethodGet,
		Path:        "/shipments/{id}",
		Summary:     "Get shipment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*out[domain.Shipment], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := h.e.Repo.GetShipment(ctx, nil, c, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(s)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-shipment-status",
		Method:      http.MethodPatch,
		Path:        "/shipments/{id}/status",
		Summary:     "Record a shipment status change",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body ShipmentStatusRequest
	}) (*out[domain.Shipment], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := h.e.UpdateShipmentStatus(ctx, c, engine.ShipmentStatusInput{
			ShipmentID:     input.ID,
			Status:         domain.ShipmentStatus(input.Body.Status),
			DeliveryUserID: input.Body.DeliveryUserID,
			Location:       input.Body.Location,
			Notes:          input.Body.Notes,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(s)
	})

	huma.Register(api, huma.Operation{
		OperationID: "shipment-tracking",
		Method:      http.MethodGet,
		Path:        "/shipments/{id}/tracking",
		Summary:     "Shipment with its tracking history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*out[TrackingResponse], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, hist, err := h.e.Tracking(ctx, c, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(TrackingResponse{Shipment: s, History: nonNilSlice(hist)})
	})

	huma.Register(api, huma.Operation{
		OperationID: "track",
		Method:      http.MethodGet,
		Path:        "/track/{tracking_number}",
		Summary:     "Public tracking lookup",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TrackingNumber string `path:"tracking_number"`
	}) (*out[PublicTrackingResponse], error) {
		s, hist, err := h.e.TrackPublic(ctx, input.TrackingNumber)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(publicTracking(s, hist))
	})
}
