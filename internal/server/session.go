package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"courierline/internal/domain"
)

func (h handlers) registerSession(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange email and password for a JWT",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusTooManyRequests},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest
	}) (*out[LoginResponse], error) {
		email := strings.ToLower(strings.TrimSpace(input.Body.Email))
		if email == "" || input.Body.Password == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "email and password are required", nil)
		}
		if h.limiter != nil {
			ok, _, err := h.limiter.Allow(ctx, "courierline:login:"+email, loginAttempts, loginWindow)
			if err != nil {
				h.log.Warn("login rate limiter unavailable", "error", err)
			} else if !ok {
				return nil, newAPIError(http.StatusTooManyRequests, "", "too many login attempts", nil)
			}
		}
		u, err := h.e.Authenticate(ctx, email, input.Body.Password)
		if err != nil {
			return nil, h.handleError(err)
		}
		token, exp, err := SignToken(h.auth.JWTSecret, u, h.auth.ttl(), time.Now())
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(LoginResponse{Token: token, ExpiresAt: exp.UTC().Format(time.RFC3339), User: u})
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*out[MeResponse], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := h.e.Repo.GetUserByID(ctx, c.UserID)
		if err != nil {
			return nil, h.handleError(err)
		}
		p, _ := principalFromContext(ctx)
		return reply(MeResponse{
			User:        u,
			Permissions: nonNilSlice(h.e.Auth.Permissions(c.Role)),
			AuthSource:  p.Source,
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Create an API key for the current user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest
	}) (*out[APIKeyResponse], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw, key, err := h.e.CreateAPIKey(ctx, c, input.Body.Name)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(APIKeyResponse{Key: raw, APIKey: key})
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/me/api-keys",
		Summary:     "List the current user's API keys",
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.APIKey], error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := h.e.Repo.ListAPIKeys(ctx, c.UserID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNilSlice(keys))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/me/api-keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		c, authErr := callerFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.Repo.DeleteAPIKey(ctx, c.UserID, input.ID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}
