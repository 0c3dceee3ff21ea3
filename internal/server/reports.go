package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"courierline/internal/domain"
)

func (h handlers) registerReports(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/reports/dashboard",
		Summary:     "Counts by status for the caller's branch",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*out[domain.Dashboard], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := h.e.Dashboard(ctx, c)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(d)
	})

	huma.Register(api, huma.Operation{
		OperationID: "workload",
		Method:      http.MethodGet,
		Path:        "/reports/workload",
		Summary:     "Per-courier task counts",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Date string `query:"date" doc:"Day for completed_today, YYYY-MM-DD (UTC). Defaults to today."`
	}) (*out[[]domain.Workload], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var day time.Time
		if input.Date != "" {
			var err error
			if day, err = time.Parse("2006-01-02", input.Date); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "date must be YYYY-MM-DD", map[string]any{"date": input.Date})
			}
		}
		rows, err := h.e.Workload(ctx, c, day)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNilSlice(rows))
	})
}
