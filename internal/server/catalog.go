package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"courierline/internal/domain"
	"courierline/internal/engine"
	"courierline/internal/repo"
)

func (h handlers) registerCatalog(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-product",
		Method:        http.MethodPost,
		Path:          "/products",
		Summary:       "Create product",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProductRequest
	}) (*out[domain.Product], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		p, err := h.e.CreateProduct(ctx, c, engine.CreateProductInput{
			BranchID:   b.BranchID,
			Name:       b.Name,
			Quantity:   b.Quantity,
			LocationID: b.LocationID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(p)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-products",
		Method:      http.MethodGet,
		Path:        "/products",
		Summary:     "List products",
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status"`
		LocationID int64  `query:"location_id"`
	}) (*out[[]domain.Product], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.Repo.ListProducts(ctx, c, repo.ProductFilter{Status: input.Status, LocationID: input.LocationID})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNilSlice(items))
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-product",
		Method:      http.MethodGet,
		Path:        "/products/{id}",
		Summary:     "Get product",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*out[domain.Product], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := h.e.Repo.GetProduct(ctx, nil, c, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(p)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-location",
		Method:        http.MethodPost,
		Path:          "/locations",
		Summary:       "Create location",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateLocationRequest
	}) (*out[domain.Location], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := h.e.CreateLocation(ctx, c, engine.CreateLocationInput{
			BranchID: input.Body.BranchID,
			Name:     input.Body.Name,
			Address:  input.Body.Address,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(l)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-locations",
		Method:      http.MethodGet,
		Path:        "/locations",
		Summary:     "List locations",
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Location], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.Repo.ListLocations(ctx, c)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNilSlice(items))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-branch",
		Method:        http.MethodPost,
		Path:          "/branches",
		Summary:       "Create branch",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateBranchRequest
	}) (*out[domain.Branch], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := h.e.CreateBranch(ctx, c, input.Body.Name)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(b)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-branches",
		Method:      http.MethodGet,
		Path:        "/branches",
		Summary:     "List branches",
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Branch], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.Repo.ListBranches(ctx, c)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNilSlice(items))
	})
}

func (h handlers) registerUsers(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest
	}) (*out[domain.User], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		u, err := h.e.CreateUser(ctx, c, engine.CreateUserInput{
			BranchID: b.BranchID,
			Name:     b.Name,
			Email:    b.Email,
			Phone:    b.Phone,
			Password: b.Password,
			Role:     domain.Role(b.Role),
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(u)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, input *struct {
		Role   string `query:"role"`
		Status string `query:"status"`
	}) (*out[[]domain.User], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.Repo.ListUsers(ctx, c, repo.UserFilter{Role: input.Role, Status: input.Status})
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNilSlice(items))
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user-status",
		Method:      http.MethodPatch,
		Path:        "/users/{id}/status",
		Summary:     "Activate or deactivate a user",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body UserStatusRequest
	}) (*out[domain.User], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := h.e.SetUserStatus(ctx, c, input.ID, domain.UserStatus(input.Body.Status))
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(u)
	})
}
