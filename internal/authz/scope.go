package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/fieldsafe/fieldsafe/pkg/metrics"
)

// Actor is the authenticated principal an operation runs on behalf of. It is
// the only input the scoping engine needs besides the hierarchy itself.
type Actor struct {
	ID                     string
	Role                   Role
	OrganizationID         *string
	ManagedOrganizationID  *string
	CanManageUsers         bool
	CanCreateOrganizations bool
}

// Scope is the set of organization ids an actor may read or act upon.
// A nil/empty OrganizationIDs with All unset means no rows at all.
type Scope struct {
	All             bool
	OrganizationIDs []string
}

// EmptyScope matches no rows.
func EmptyScope() Scope { return Scope{} }

// UnrestrictedScope matches every row.
func UnrestrictedScope() Scope { return Scope{All: true} }

// IsEmpty reports whether the scope matches no rows.
func (s Scope) IsEmpty() bool {
	return !s.All && len(s.OrganizationIDs) == 0
}

// Contains reports whether the organization id falls inside the scope.
func (s Scope) Contains(orgID string) bool {
	if s.All {
		return true
	}
	for _, id := range s.OrganizationIDs {
		if id == orgID {
			return true
		}
	}
	return false
}

// Intersect narrows the scope to a single explicitly requested organization.
// Requests outside the computed scope collapse to the empty scope rather than
// widening it, so a caller-supplied organization_id can never escalate.
func (s Scope) Intersect(orgID string) Scope {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return s
	}
	if s.Contains(orgID) {
		return Scope{OrganizationIDs: []string{orgID}}
	}
	return EmptyScope()
}

// Apply restricts the query to rows whose organization column is in scope.
func (s Scope) Apply(query *gorm.DB, column string) *gorm.DB {
	if s.All {
		return query
	}
	if len(s.OrganizationIDs) == 0 {
		return query.Where("1 = 0")
	}
	return query.Where(fmt.Sprintf("%s IN ?", column), s.OrganizationIDs)
}

// Resolver computes actor scopes against the organization hierarchy. Every
// read and write path that touches tenant-owned rows goes through it; no
// handler derives its own filter.
type Resolver struct {
	db *gorm.DB
}

// NewResolver constructs a Resolver backed by the provided database.
func NewResolver(db *gorm.DB) (*Resolver, error) {
	if db == nil {
		return nil, errors.New("authz: db is required")
	}
	return &Resolver{db: db}, nil
}

// OrganizationScope computes the base scope for the actor:
// system_admin sees everything, an org_admin sees the managed organization
// plus its direct subsidiaries, a plain member sees only the home
// organization, and an unaffiliated actor sees nothing. Missing or malformed
// actor data fails closed to the empty scope.
func (r *Resolver) OrganizationScope(ctx context.Context, actor Actor) (Scope, error) {
	if !actor.Role.Valid() {
		metrics.ScopeResolutions.WithLabelValues("empty").Inc()
		return EmptyScope(), nil
	}

	switch {
	case actor.Role == RoleSystemAdmin:
		metrics.ScopeResolutions.WithLabelValues("all").Inc()
		return UnrestrictedScope(), nil

	case actor.Role == RoleOrgAdmin && actor.ManagedOrganizationID != nil && strings.TrimSpace(*actor.ManagedOrganizationID) != "":
		managed := strings.TrimSpace(*actor.ManagedOrganizationID)
		ids, err := r.subtree(ctx, managed)
		if err != nil {
			return EmptyScope(), err
		}
		metrics.ScopeResolutions.WithLabelValues("subtree").Inc()
		return Scope{OrganizationIDs: ids}, nil

	case actor.OrganizationID != nil && strings.TrimSpace(*actor.OrganizationID) != "":
		metrics.ScopeResolutions.WithLabelValues("single").Inc()
		return Scope{OrganizationIDs: []string{strings.TrimSpace(*actor.OrganizationID)}}, nil
	}

	metrics.ScopeResolutions.WithLabelValues("empty").Inc()
	return EmptyScope(), nil
}

// Resolve computes the actor scope and intersects it with an optional
// explicitly requested organization id. The explicit id is never trusted
// outright: ids outside the actor's own scope yield the empty scope.
func (r *Resolver) Resolve(ctx context.Context, actor Actor, explicitOrgID string) (Scope, error) {
	scope, err := r.OrganizationScope(ctx, actor)
	if err != nil {
		return EmptyScope(), err
	}
	return scope.Intersect(explicitOrgID), nil
}

// CanAccessOrganization reports whether the organization id is inside the
// actor's scope.
func (r *Resolver) CanAccessOrganization(ctx context.Context, actor Actor, orgID string) (bool, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return false, nil
	}
	scope, err := r.OrganizationScope(ctx, actor)
	if err != nil {
		return false, err
	}
	return scope.Contains(orgID), nil
}

// subtree returns the managed organization id plus the ids of its direct
// subsidiaries. The hierarchy is a forest of depth at most two, so one level
// of children is the whole subtree.
func (r *Resolver) subtree(ctx context.Context, rootID string) ([]string, error) {
	var childIDs []string
	err := r.db.WithContext(ctx).
		Table("organizations").
		Where("parent_organization_id = ?", rootID).
		Pluck("id", &childIDs).Error
	if err != nil {
		return nil, fmt.Errorf("authz: load subsidiaries: %w", err)
	}
	return append([]string{rootID}, childIDs...), nil
}

// ApplyOwnership intersects the query with the personal-ownership predicate
// used by inspections and action items: non-administrative actors only see
// rows they created or actively collaborate on.
func ApplyOwnership(query *gorm.DB, actor Actor, table string) *gorm.DB {
	if actor.Role.IsAdministrative() {
		return query
	}
	sub := fmt.Sprintf(
		"%s.created_by = ? OR %s.id IN (SELECT inspection_id FROM inspection_collaborators WHERE user_id = ? AND is_active = ?)",
		table, table,
	)
	return query.Where(sub, actor.ID, actor.ID, true)
}
