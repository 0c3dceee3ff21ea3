package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"courierline/internal/domain"
	"courierline/internal/engine"
	"courierline/internal/repo"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func (h handlers) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "assign-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Assign a product or shipment to a delivery user",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body AssignTaskRequest
	}) (*out[domain.DeliveryTask], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		t, err := h.e.AssignTask(ctx, c, engine.AssignTaskInput{
			DeliveryUserID: b.DeliveryUserID,
			ProductID:      b.ProductID,
			ShipmentID:     b.ShipmentID,
			LocationID:     b.LocationID,
			Priority:       domain.Priority(b.Priority),
			ScheduledDate:  b.ScheduledDate,
			Instructions:   b.Instructions,
			Notes:          b.Notes,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(t)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "batch-assign-tasks",
		Method:        http.MethodPost,
		Path:          "/tasks/batch",
		Summary:       "Assign many products and shipments in one transaction",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body BatchAssignRequest
	}) (*out[BatchAssignResponse], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		tasks, err := h.e.BatchAssign(ctx, c, engine.BatchAssignInput{
			DeliveryUserID: b.DeliveryUserID,
			ProductIDs:     b.ProductIDs,
			ShipmentIDs:    b.ShipmentIDs,
			LocationID:     b.LocationID,
			Priority:       domain.Priority(b.Priority),
			ScheduledDate:  b.ScheduledDate,
			Instructions:   b.Instructions,
			Notes:          b.Notes,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(BatchAssignResponse{Created: len(tasks), Tasks: tasks})
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks, most urgent first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status         string `query:"status" doc:"Comma separated statuses"`
		Priority       string `query:"priority"`
		DeliveryUserID int64  `query:"delivery_user_id"`
		ProductID      int64  `query:"product_id"`
		ShipmentID     int64  `query:"shipment_id"`
		ScheduledDate  string `query:"scheduled_date"`
		Limit          int    `query:"limit" default:"50"`
		Cursor         string `query:"cursor"`
	}) (*out[TaskPage], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		filter := repo.TaskFilter{
			Priority:       input.Priority,
			DeliveryUserID: input.DeliveryUserID,
			ProductID:      input.ProductID,
			ShipmentID:     input.ShipmentID,
			ScheduledDate:  input.ScheduledDate,
			Limit:          limit + 1,
			Cursor:         input.Cursor,
		}
		for _, s := range strings.Split(input.Status, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, s)
			}
		}
		tasks, err := h.e.Repo.ListTasks(ctx, c, filter)
		if err != nil {
			return nil, h.handleError(err)
		}
		page := TaskPage{Items: nonNilSlice(tasks)}
		if len(tasks) > limit {
			page.Items = tasks[:limit]
			page.NextCursor = repo.TaskCursor(tasks[limit-1])
		}
		return reply(page)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*out[domain.DeliveryTask], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.e.Repo.GetTask(ctx, nil, c, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/status",
		Summary:     "Move a task along its lifecycle",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body TaskStatusRequest
	}) (*out[domain.DeliveryTask], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.e.TransitionTask(ctx, c, engine.TransitionInput{
			TaskID: input.ID,
			Status: domain.TaskStatus(input.Body.Status),
			Notes:  input.Body.Notes,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(t)
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-history",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/history",
		Summary:     "Status history of a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*out[[]domain.TaskHistory], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		hist, err := h.e.Repo.ListTaskHistory(ctx, c, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNilSlice(hist))
	})
}
