package auth

import (
	"fmt"
	"sort"

	"courierline/internal/config"
	"courierline/internal/domain"
)

const (
	PermBranchManage   = "branch.manage"
	PermUserManage     = "user.manage"
	PermLocationManage = "location.manage"
	PermProductManage  = "product.manage"
	PermShipmentManage = "shipment.manage"
	PermShipmentUpdate = "shipment.update"
	PermTaskAssign     = "task.assign"
	PermTaskUpdate     = "task.update"
	PermTaskCancel     = "task.cancel"
	PermReportView     = "report.view"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service answers role → permission questions from the rbac section of the config.
type Service struct {
	roles map[domain.Role]map[string]bool
}

func New(cfg *config.Config) Service {
	if cfg == nil || len(cfg.RBAC.Roles) == 0 {
		cfg = config.Default()
	}
	s := Service{roles: map[domain.Role]map[string]bool{}}
	for roleID, role := range cfg.RBAC.Roles {
		perms := map[string]bool{}
		for _, p := range role.Permissions {
			perms[p] = true
		}
		s.roles[domain.Role(roleID)] = perms
	}
	return s
}

func (s Service) Has(c domain.Caller, perm string) bool {
	return s.roles[c.Role][perm]
}

// Require returns ForbiddenError when c's role lacks perm.
func (s Service) Require(c domain.Caller, perm string) error {
	if !s.Has(c, perm) {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// Permissions lists a role's permissions in sorted order.
func (s Service) Permissions(role domain.Role) []string {
	var perms []string
	for p := range s.roles[role] {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms
}
