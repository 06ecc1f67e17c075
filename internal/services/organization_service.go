package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fieldsafe/fieldsafe/internal/authz"
	"github.com/fieldsafe/fieldsafe/internal/models"
	apperrors "github.com/fieldsafe/fieldsafe/pkg/errors"
)

var (
	// ErrOrganizationNotFound indicates the requested organization does not
	// exist or sits outside the actor's scope. The two cases are deliberately
	// indistinguishable so guessed ids confirm nothing.
	ErrOrganizationNotFound = apperrors.New("ORGANIZATION_NOT_FOUND", "Organization not found", http.StatusNotFound)
	// ErrSubsidiaryLimit signals the parent organization is at its subsidiary capacity.
	ErrSubsidiaryLimit = apperrors.ErrCapacityExceeded.WithMessage("Subsidiary limit reached for parent organization")
	// ErrHierarchyDepth rejects attaching a child under a subsidiary.
	ErrHierarchyDepth = apperrors.NewBadRequest("subsidiaries cannot have their own subsidiaries")
)

// CreateOrganizationInput captures the attributes required to register an organization.
type CreateOrganizationInput struct {
	Name                 string
	Type                 string
	ParentOrganizationID string
	SubscriptionPlan     string
	MaxUsers             int
	MaxSubsidiaries      int
	Profile              map[string]any
}

// UpdateOrganizationInput enumerates the mutable organization fields. Only
// fields listed here can ever be patched; anything else a caller submits is
// dropped before it reaches the database.
type UpdateOrganizationInput struct {
	Name             *string
	Type             *string
	SubscriptionPlan *string
	MaxUsers         *int
	MaxSubsidiaries  *int
	Profile          map[string]any
}

// ListOrganizationsOptions controls scoped organization listing.
type ListOrganizationsOptions struct {
	// OrganizationID narrows the result to one organization; it is
	// intersected with the actor scope, never trusted outright.
	OrganizationID string
}

// OrganizationService manages lifecycle operations for the tenant hierarchy.
type OrganizationService struct {
	db       *gorm.DB
	resolver *authz.Resolver
	activity *ActivityService
}

// NewOrganizationService constructs an OrganizationService instance.
func NewOrganizationService(db *gorm.DB, activity *ActivityService) (*OrganizationService, error) {
	if db == nil {
		return nil, errors.New("organization service: db is required")
	}
	resolver, err := authz.NewResolver(db)
	if err != nil {
		return nil, err
	}
	return &OrganizationService{
		db:       db,
		resolver: resolver,
		activity: activity,
	}, nil
}

// Create registers a new organization on behalf of the actor.
//
// A system_admin may create top-level organizations or attach a subsidiary
// anywhere; an org_admin always creates subsidiaries under their own managed
// organization, whatever parent id the request carried.
func (s *OrganizationService) Create(ctx context.Context, actor authz.Actor, input CreateOrganizationInput) (*models.Organization, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("name is required")
	}

	var parentID string
	var level string

	switch actor.Role {
	case authz.RoleSystemAdmin:
		parentID = strings.TrimSpace(input.ParentOrganizationID)
		level = models.OrgLevelCompany
		if parentID != "" {
			level = models.OrgLevelSubsidiary
		}
	case authz.RoleOrgAdmin:
		if !actor.CanManageUsers {
			return nil, apperrors.ErrPermissionDenied
		}
		if actor.ManagedOrganizationID == nil || strings.TrimSpace(*actor.ManagedOrganizationID) == "" {
			return nil, apperrors.ErrPermissionDenied
		}
		// Whatever the request carried, an org admin attaches new
		// organizations under their own subtree root.
		parentID = strings.TrimSpace(*actor.ManagedOrganizationID)
		level = models.OrgLevelSubsidiary
	default:
		return nil, apperrors.ErrPermissionDenied
	}

	org := &models.Organization{
		Name:              name,
		Type:              normaliseOrgType(input.Type),
		OrganizationLevel: level,
		SubscriptionPlan:  strings.TrimSpace(input.SubscriptionPlan),
		MaxUsers:          input.MaxUsers,
		MaxSubsidiaries:   input.MaxSubsidiaries,
		IsActive:          true,
	}
	if org.SubscriptionPlan == "" {
		org.SubscriptionPlan = "basic"
	}
	if org.MaxUsers <= 0 {
		org.MaxUsers = 10
	}
	if org.MaxSubsidiaries <= 0 {
		org.MaxSubsidiaries = 5
	}
	if parentID != "" {
		org.ParentOrganizationID = &parentID
	}

	if input.Profile != nil {
		data, err := json.Marshal(input.Profile)
		if err != nil {
			return nil, fmt.Errorf("organization service: marshal profile: %w", err)
		}
		org.Profile = datatypes.JSON(data)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if parentID != "" {
			// Lock the parent row so two concurrent creations near the
			// capacity limit cannot both pass the count check.
			var parent models.Organization
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&parent, "id = ?", parentID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrganizationNotFound
			}
			if err != nil {
				return fmt.Errorf("organization service: load parent: %w", err)
			}

			if parent.IsSubsidiary() {
				return ErrHierarchyDepth
			}

			var count int64
			if err := tx.Model(&models.Organization{}).
				Where("parent_organization_id = ? AND is_active = ?", parentID, true).
				Count(&count).Error; err != nil {
				return fmt.Errorf("organization service: count subsidiaries: %w", err)
			}
			if count >= int64(parent.MaxSubsidiaries) {
				return ErrSubsidiaryLimit
			}
		}

		return tx.Create(org).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("organization service: create organization: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:         actor.ID,
		OrganizationID: org.ID,
		Action:         models.ActivityOrganizationCreated,
		Description:    fmt.Sprintf("organization %q created", org.Name),
		TargetType:     "organization",
		TargetID:       org.ID,
	})

	return org, nil
}

// GetByID loads an organization the actor is allowed to see.
func (s *OrganizationService) GetByID(ctx context.Context, actor authz.Actor, id string) (*models.Organization, error) {
	ctx = ensureContext(ctx)

	scope, err := s.resolver.OrganizationScope(ctx, actor)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&models.Organization{})
	query = scope.Apply(query, "organizations.id")
	if actor.Role != authz.RoleSystemAdmin {
		query = query.Where("is_active = ?", true)
	}

	var org models.Organization
	err = query.Preload("Subsidiaries").First(&org, "organizations.id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("organization service: get organization: %w", err)
	}
	return &org, nil
}

// List returns every organization inside the actor's scope. Inactive rows
// are visible only to system admins, who need them for reactivation.
func (s *OrganizationService) List(ctx context.Context, actor authz.Actor, opts ListOrganizationsOptions) ([]models.Organization, error) {
	ctx = ensureContext(ctx)

	scope, err := s.resolver.Resolve(ctx, actor, opts.OrganizationID)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&models.Organization{})
	query = scope.Apply(query, "organizations.id")
	if actor.Role != authz.RoleSystemAdmin {
		query = query.Where("is_active = ?", true)
	}

	var orgs []models.Organization
	if err := query.Order("created_at ASC").Find(&orgs).Error; err != nil {
		return nil, fmt.Errorf("organization service: list organizations: %w", err)
	}
	return orgs, nil
}

// Update modifies allow-listed fields of an organization the actor manages.
func (s *OrganizationService) Update(ctx context.Context, actor authz.Actor, id string, input UpdateOrganizationInput) (*models.Organization, error) {
	ctx = ensureContext(ctx)

	var org models.Organization
	err := s.db.WithContext(ctx).First(&org, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("organization service: load organization: %w", err)
	}

	if !s.canAdminister(actor, &org) {
		return nil, apperrors.ErrPermissionDenied
	}

	updates := map[string]any{}

	if input.Name != nil {
		if name := strings.TrimSpace(*input.Name); name != "" && name != org.Name {
			updates["name"] = name
		}
	}
	if input.Type != nil {
		updates["type"] = normaliseOrgType(*input.Type)
	}
	if input.SubscriptionPlan != nil {
		if plan := strings.TrimSpace(*input.SubscriptionPlan); plan != "" {
			updates["subscription_plan"] = plan
		}
	}
	if input.MaxUsers != nil && *input.MaxUsers > 0 {
		updates["max_users"] = *input.MaxUsers
	}
	if input.MaxSubsidiaries != nil && *input.MaxSubsidiaries > 0 {
		updates["max_subsidiaries"] = *input.MaxSubsidiaries
	}
	if input.Profile != nil {
		data, err := json.Marshal(input.Profile)
		if err != nil {
			return nil, fmt.Errorf("organization service: marshal profile: %w", err)
		}
		updates["profile"] = datatypes.JSON(data)
	}

	if len(updates) == 0 {
		return &org, nil
	}

	if err := s.db.WithContext(ctx).Model(&org).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("organization service: update organization: %w", err)
	}

	if err := s.db.WithContext(ctx).First(&org, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("organization service: reload organization: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:         actor.ID,
		OrganizationID: org.ID,
		Action:         models.ActivityOrganizationUpdated,
		Description:    fmt.Sprintf("organization %q updated", org.Name),
		TargetType:     "organization",
		TargetID:       org.ID,
	})

	return &org, nil
}

// SetActive toggles the soft-delete flag. Organizations are never hard
// deleted while users or inspections reference them.
func (s *OrganizationService) SetActive(ctx context.Context, actor authz.Actor, id string, active bool) error {
	ctx = ensureContext(ctx)

	if actor.Role != authz.RoleSystemAdmin {
		return apperrors.ErrPermissionDenied
	}

	var org models.Organization
	err := s.db.WithContext(ctx).First(&org, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrOrganizationNotFound
	}
	if err != nil {
		return fmt.Errorf("organization service: load organization: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&org).Update("is_active", active).Error; err != nil {
		return fmt.Errorf("organization service: update active state: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:         actor.ID,
		OrganizationID: org.ID,
		Action:         models.ActivityOrganizationUpdated,
		Description:    fmt.Sprintf("organization %q active=%t", org.Name, active),
		TargetType:     "organization",
		TargetID:       org.ID,
	})

	return nil
}

// canAdminister reports whether the actor may mutate the organization:
// system admins always, org admins for the managed root or a direct child.
func (s *OrganizationService) canAdminister(actor authz.Actor, org *models.Organization) bool {
	switch actor.Role {
	case authz.RoleSystemAdmin:
		return true
	case authz.RoleOrgAdmin:
		if actor.ManagedOrganizationID == nil {
			return false
		}
		managed := *actor.ManagedOrganizationID
		if org.ID == managed {
			return true
		}
		return org.ParentOrganizationID != nil && *org.ParentOrganizationID == managed
	}
	return false
}

func normaliseOrgType(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case models.OrgTypeConsultancy:
		return models.OrgTypeConsultancy
	case models.OrgTypeClient:
		return models.OrgTypeClient
	default:
		return models.OrgTypeCompany
	}
}
