package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jinzhu/now"

	"courierline/internal/domain"
	"courierline/internal/engine/auth"
)

func dashboardKey(branchID *int64) string {
	if branchID == nil {
		return "courierline:dashboard:all"
	}
	return "courierline:dashboard:branch:" + strconv.FormatInt(*branchID, 10)
}

// Dashboard aggregates counts for the caller's scope. Branch-wide snapshots are
// cached per branch for ReportTTL and dropped whenever a mutation touches the
// branch. Delivery users only count their own tasks, so their view is never cached.
func (e Engine) Dashboard(ctx context.Context, c domain.Caller) (domain.Dashboard, error) {
	if err := e.Auth.Require(c, auth.PermReportView); err != nil {
		return domain.Dashboard{}, err
	}
	var branch *int64
	if !c.IsSuperAdmin() {
		branch = c.BranchID
	}
	key := dashboardKey(branch)
	cached := e.Cache != nil && e.ReportTTL > 0 && c.Role != domain.RoleDeliveryUser
	if cached {
		raw, ok, err := e.Cache.Get(ctx, key)
		if err != nil {
			e.log().Warn("read report cache", "key", key, "error", err)
		}
		e.Metrics.RecordCacheLookup(ok)
		if ok {
			var d domain.Dashboard
			if err := json.Unmarshal(raw, &d); err == nil {
				return d, nil
			}
		}
	}

	d := domain.Dashboard{BranchID: branch, GeneratedAt: e.stamp()}
	var err error
	if d.TasksByStatus, err = e.Repo.TaskCountsByStatus(ctx, c); err != nil {
		return d, err
	}
	if d.TasksByPriority, err = e.Repo.TaskCountsByPriority(ctx, c); err != nil {
		return d, err
	}
	if d.ShipmentsByState, err = e.Repo.ShipmentCountsByStatus(ctx, c); err != nil {
		return d, err
	}
	if d.ProductsByStatus, err = e.Repo.ProductCountsByStatus(ctx, c); err != nil {
		return d, err
	}
	if d.ActiveCouriers, err = e.Repo.CountActiveCouriers(ctx, c); err != nil {
		return d, err
	}
	if cached {
		if raw, err := json.Marshal(d); err == nil {
			if err := e.Cache.Set(ctx, key, raw, e.ReportTTL); err != nil {
				e.log().Warn("write report cache", "key", key, "error", err)
			}
		}
	}
	return d, nil
}

// Workload reports per-courier task counts. CompletedToday counts completions
// on the calendar day containing day, in day's location.
func (e Engine) Workload(ctx context.Context, c domain.Caller, day time.Time) ([]domain.Workload, error) {
	if err := e.Auth.Require(c, auth.PermReportView); err != nil {
		return nil, err
	}
	if day.IsZero() {
		day = e.now()
	}
	start := now.With(day).BeginningOfDay()
	end := start.AddDate(0, 0, 1)
	return e.Repo.Workload(ctx, c, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
}
