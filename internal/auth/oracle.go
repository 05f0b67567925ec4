package auth

import (
	"context"
	"strings"
)

// AdminRole is honored on any tenant, matching the global admin override of
// the reviewer surface.
const AdminRole = "admin"

// Actor is an authenticated identity with its resolved roles.
type Actor struct {
	ID    string
	Roles []string
}

// HasRole reports whether the actor carries the role (case-insensitive).
func (a Actor) HasRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return false
	}
	for _, r := range a.Roles {
		if strings.ToLower(r) == role {
			return true
		}
	}
	return false
}

// RoleSource yields the tenant's configured role sets. The roster service
// implements this over the persisted tenant document.
type RoleSource interface {
	TenantRoles(ctx context.Context, tenantID string) (deciders, staff []string, err error)
}

// Oracle answers the three capability questions the workflow consumes as
// opaque predicates, plus the admin check guarding destructive operations.
type Oracle interface {
	CanDecide(ctx context.Context, actor Actor, tenantID string) (bool, error)
	CanPropose(ctx context.Context, actor Actor, tenantID string) (bool, error)
	IsSelfServiceEligible(ctx context.Context, actor Actor, tenantID string) (bool, error)
	IsAdmin(actor Actor) bool
}

// RoleOracle resolves capabilities from the tenant's role configuration, with
// a global admin subject override.
type RoleOracle struct {
	roles        RoleSource
	adminSubject string
}

var _ Oracle = (*RoleOracle)(nil)

// NewRoleOracle creates an oracle over the given role source. adminSubject
// may be empty, leaving only the admin role as override.
func NewRoleOracle(roles RoleSource, adminSubject string) *RoleOracle {
	return &RoleOracle{roles: roles, adminSubject: strings.TrimSpace(adminSubject)}
}

// IsAdmin reports whether the actor bypasses tenant role checks entirely.
func (o *RoleOracle) IsAdmin(actor Actor) bool {
	if o.adminSubject != "" && actor.ID == o.adminSubject {
		return true
	}
	return actor.HasRole(AdminRole)
}

// CanDecide reports whether the actor may accept or reject pending requests.
func (o *RoleOracle) CanDecide(ctx context.Context, actor Actor, tenantID string) (bool, error) {
	if o.IsAdmin(actor) {
		return true, nil
	}
	deciders, _, err := o.roles.TenantRoles(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return hasAny(actor, deciders), nil
}

// CanPropose reports whether the actor may file change requests for others.
// Deciders and proposers are the same capability set.
func (o *RoleOracle) CanPropose(ctx context.Context, actor Actor, tenantID string) (bool, error) {
	return o.CanDecide(ctx, actor, tenantID)
}

// IsSelfServiceEligible reports whether the actor may request a number for
// themselves. Staff eligibility is role-driven only; the admin override does
// not apply.
func (o *RoleOracle) IsSelfServiceEligible(ctx context.Context, actor Actor, tenantID string) (bool, error) {
	_, staff, err := o.roles.TenantRoles(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return hasAny(actor, staff), nil
}

func hasAny(actor Actor, roles []string) bool {
	for _, role := range roles {
		if actor.HasRole(role) {
			return true
		}
	}
	return false
}
