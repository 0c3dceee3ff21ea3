package engine

import (
	"context"
	"errors"
	"strings"

	"courierline/internal/domain"
	"courierline/internal/engine/auth"
	"courierline/internal/repo"
)

type CreateProductInput struct {
	BranchID   int64
	Name       string
	Quantity   int
	LocationID int64
}

type CreateLocationInput struct {
	BranchID int64
	Name     string
	Address  string
}

func (e Engine) CreateProduct(ctx context.Context, c domain.Caller, in CreateProductInput) (domain.Product, error) {
	if err := e.Auth.Require(c, auth.PermProductManage); err != nil {
		return domain.Product{}, err
	}
	var p problems
	branchID := e.branchFor(ctx, c, in.BranchID, &p)
	if strings.TrimSpace(in.Name) == "" {
		p.addf("name is required")
	}
	if in.Quantity <= 0 {
		p.addf("quantity must be positive")
	}
	var location *int64
	if in.LocationID != 0 {
		loc, err := e.Repo.GetLocation(ctx, nil, c, in.LocationID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			p.addf("location %d not found", in.LocationID)
		case err != nil:
			return domain.Product{}, err
		case loc.BranchID != branchID:
			p.addf("location %d belongs to another branch", in.LocationID)
		default:
			location = &loc.ID
		}
	}
	if err := p.err(); err != nil {
		return domain.Product{}, err
	}
	now := e.stamp()
	prod := domain.Product{
		BranchID:   branchID,
		Name:       strings.TrimSpace(in.Name),
		Quantity:   in.Quantity,
		LocationID: location,
		Status:     domain.ProductAvailable,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	id, err := e.Repo.InsertProduct(ctx, nil, prod)
	if err != nil {
		return prod, err
	}
	prod.ID = id
	e.invalidateReports(ctx, branchID)
	return prod, nil
}

func (e Engine) CreateLocation(ctx context.Context, c domain.Caller, in CreateLocationInput) (domain.Location, error) {
	if err := e.Auth.Require(c, auth.PermLocationManage); err != nil {
		return domain.Location{}, err
	}
	var p problems
	branchID := e.branchFor(ctx, c, in.BranchID, &p)
	if strings.TrimSpace(in.Name) == "" {
		p.addf("name is required")
	}
	if err := p.err(); err != nil {
		return domain.Location{}, err
	}
	l := domain.Location{
		BranchID:  branchID,
		Name:      strings.TrimSpace(in.Name),
		Address:   strings.TrimSpace(in.Address),
		CreatedAt: e.stamp(),
	}
	id, err := e.Repo.InsertLocation(ctx, nil, l)
	if err != nil {
		return l, err
	}
	l.ID = id
	return l, nil
}

func (e Engine) CreateBranch(ctx context.Context, c domain.Caller, name string) (domain.Branch, error) {
	if err := e.Auth.Require(c, auth.PermBranchManage); err != nil {
		return domain.Branch{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Branch{}, ValidationError{Problems: []string{"name is required"}}
	}
	b := domain.Branch{Name: name, CreatedAt: e.stamp()}
	id, err := e.Repo.InsertBranch(ctx, nil, b)
	if err != nil {
		return b, err
	}
	b.ID = id
	return b, nil
}
