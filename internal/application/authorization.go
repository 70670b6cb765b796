package application

import (
	"context"
	"slices"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

// Authorizer decides whether a principal may mutate the membership of a container.
type Authorizer interface {
	CanManage(ctx context.Context, principal Principal, container persistence.ContainerRef) (bool, error)
}

// AdminLookup lists the users with management rights over a container.
type AdminLookup interface {
	ContainerAdmins(ctx context.Context, ref persistence.ContainerRef) ([]string, error)
}

// ContainerAdminPolicy grants access to super admins and to the container's listed admins:
// its own admin, the parent group's admin for subgroups, and the session creator for
// session groups and the unassigned pool.
type ContainerAdminPolicy struct {
	admins AdminLookup
}

// NewContainerAdminPolicy constructs the default Authorizer.
func NewContainerAdminPolicy(admins AdminLookup) *ContainerAdminPolicy {
	return &ContainerAdminPolicy{admins: admins}
}

// CanManage implements Authorizer.
func (p *ContainerAdminPolicy) CanManage(ctx context.Context, principal Principal, container persistence.ContainerRef) (bool, error) {
	if principal.IsSuperAdmin {
		return true, nil
	}
	if principal.UserID == "" {
		return false, nil
	}
	admins, err := p.admins.ContainerAdmins(ctx, container)
	if err != nil {
		return false, mapStoreError(err)
	}
	return slices.Contains(admins, principal.UserID), nil
}
