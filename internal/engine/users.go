package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"courierline/internal/domain"
	"courierline/internal/engine/auth"
	"courierline/internal/repo"
)

const minPasswordLen = 8

type CreateUserInput struct {
	BranchID int64
	Name     string
	Email    string
	Phone    string
	Password string
	Role     domain.Role
}

func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CreateUser registers a user. Branch admins may only add delivery users to
// their own branch; only super admins create admins.
func (e Engine) CreateUser(ctx context.Context, c domain.Caller, in CreateUserInput) (domain.User, error) {
	if err := e.Auth.Require(c, auth.PermUserManage); err != nil {
		return domain.User{}, err
	}
	if in.Role == "" {
		in.Role = domain.RoleDeliveryUser
	}
	if !c.IsSuperAdmin() && in.Role != domain.RoleDeliveryUser {
		return domain.User{}, auth.ForbiddenError{Permission: auth.PermUserManage + "." + string(in.Role)}
	}
	var p problems
	if !in.Role.Valid() {
		p.addf("role must be one of super_admin, branch_admin, delivery_user")
	}
	var branch *int64
	if in.Role != domain.RoleSuperAdmin {
		id := e.branchFor(ctx, c, in.BranchID, &p)
		branch = &id
	}
	if strings.TrimSpace(in.Name) == "" {
		p.addf("name is required")
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !strings.Contains(email, "@") {
		p.addf("a valid email is required")
	} else if _, err := e.Repo.GetUserByEmail(ctx, email); err == nil {
		p.addf("email %s is already registered", email)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	if len(in.Password) < minPasswordLen {
		p.addf("password must be at least %d characters", minPasswordLen)
	}
	if err := p.err(); err != nil {
		return domain.User{}, err
	}
	return e.insertUser(ctx, domain.User{
		BranchID: branch,
		Name:     strings.TrimSpace(in.Name),
		Email:    email,
		Phone:    strings.TrimSpace(in.Phone),
		Role:     in.Role,
		Status:   domain.UserActive,
	}, in.Password)
}

func (e Engine) insertUser(ctx context.Context, u domain.User, password string) (domain.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return u, err
	}
	u.PasswordHash = hash
	u.CreatedAt = e.stamp()
	id, err := e.Repo.InsertUser(ctx, nil, u)
	if err != nil {
		return u, err
	}
	u.ID = id
	if u.BranchID != nil {
		e.invalidateReports(ctx, *u.BranchID)
	}
	return u, nil
}

// SetUserStatus activates or deactivates a user in scope.
func (e Engine) SetUserStatus(ctx context.Context, c domain.Caller, userID int64, status domain.UserStatus) (domain.User, error) {
	if err := e.Auth.Require(c, auth.PermUserManage); err != nil {
		return domain.User{}, err
	}
	if !status.Valid() {
		return domain.User{}, ValidationError{Problems: []string{"status must be active or inactive"}}
	}
	if userID == c.UserID {
		return domain.User{}, ValidationError{Problems: []string{"you cannot change your own status"}}
	}
	u, err := e.Repo.GetUser(ctx, nil, c, userID)
	if err != nil {
		return u, err
	}
	if !c.IsSuperAdmin() && u.Role != domain.RoleDeliveryUser {
		return u, auth.ForbiddenError{Permission: auth.PermUserManage + "." + string(u.Role)}
	}
	if err := e.Repo.SetUserStatus(ctx, nil, c, userID, status); err != nil {
		return u, err
	}
	u.Status = status
	if u.BranchID != nil {
		e.invalidateReports(ctx, *u.BranchID)
	}
	return u, nil
}

// Authenticate checks an email/password pair. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	if u.Status != domain.UserActive {
		return domain.User{}, ErrInactiveUser
	}
	return u, nil
}

// ResolveCaller turns a user id into the principal used for scoping. Inactive
// users cannot act.
func (e Engine) ResolveCaller(ctx context.Context, userID int64) (domain.Caller, error) {
	u, err := e.Repo.GetUserByID(ctx, userID)
	if err != nil {
		return domain.Caller{}, err
	}
	if u.Status != domain.UserActive {
		return domain.Caller{}, ErrInactiveUser
	}
	return u.Caller(), nil
}

// CreateAPIKey mints a key for the caller. The raw key is returned once; only
// its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, c domain.Caller, name string) (string, domain.APIKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	raw := "cl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    c.UserID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return "", key, err
	}
	return raw, key, nil
}

// EnsureSuperAdmin creates the first super admin when none exists. It reports
// whether a user was created.
func (e Engine) EnsureSuperAdmin(ctx context.Context, name, email, password string) (domain.User, bool, error) {
	n, err := e.Repo.CountUsersByRole(ctx, domain.RoleSuperAdmin)
	if err != nil {
		return domain.User{}, false, err
	}
	if n > 0 {
		return domain.User{}, false, nil
	}
	var p problems
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		p.addf("bootstrap email is required")
	}
	if len(password) < minPasswordLen {
		p.addf("bootstrap password must be at least %d characters", minPasswordLen)
	}
	if strings.TrimSpace(name) == "" {
		name = "Super Admin"
	}
	if err := p.err(); err != nil {
		return domain.User{}, false, err
	}
	u, err := e.insertUser(ctx, domain.User{
		Name:   strings.TrimSpace(name),
		Email:  email,
		Role:   domain.RoleSuperAdmin,
		Status: domain.UserActive,
	}, password)
	return u, err == nil, err
}
