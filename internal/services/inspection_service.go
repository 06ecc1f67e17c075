package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fieldsafe/fieldsafe/internal/authz"
	"github.com/fieldsafe/fieldsafe/internal/models"
	apperrors "github.com/fieldsafe/fieldsafe/pkg/errors"
)

// ErrInspectionNotFound is returned when an inspection does not exist or the
// actor's scope and ownership predicates exclude it.
var ErrInspectionNotFound = apperrors.New("INSPECTION_NOT_FOUND", "Inspection not found", http.StatusNotFound)

// ErrActionItemNotFound mirrors ErrInspectionNotFound for remediation tasks.
var ErrActionItemNotFound = apperrors.New("ACTION_ITEM_NOT_FOUND", "Action item not found", http.StatusNotFound)

// CreateInspectionInput captures the attributes of a new inspection.
type CreateInspectionInput struct {
	OrganizationID string
	Title          string
	Location       string
	Summary        datatypes.JSON
	ScheduledFor   *time.Time
}

// CreateActionItemInput captures a remediation task raised against an
// inspection finding.
type CreateActionItemInput struct {
	InspectionID string
	Description  string
	Severity     string
	AssignedTo   *string
	DueDate      *time.Time
}

// ListInspectionsOptions filters and paginates inspection listings.
type ListInspectionsOptions struct {
	OrganizationID string
	Status         string
	Page           int
	PageSize       int
}

// InspectionService provides the scoped read and write surface over
// inspections and their action items. Every query runs through the actor's
// organization scope; non-administrative actors are additionally restricted
// to inspections they created or collaborate on.
type InspectionService struct {
	db       *gorm.DB
	resolver *authz.Resolver
	activity *ActivityService
}

// NewInspectionService constructs an InspectionService.
func NewInspectionService(db *gorm.DB, activity *ActivityService) (*InspectionService, error) {
	if db == nil {
		return nil, errors.New("inspection service: db is required")
	}
	resolver, err := authz.NewResolver(db)
	if err != nil {
		return nil, err
	}
	return &InspectionService{db: db, resolver: resolver, activity: activity}, nil
}

// Create records a new inspection owned by the actor. The target
// organization must be inside the actor's scope.
func (s *InspectionService) Create(ctx context.Context, actor authz.Actor, input CreateInspectionInput) (*models.Inspection, error) {
	ctx = ensureContext(ctx)

	orgID := strings.TrimSpace(input.OrganizationID)
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewBadRequest("title is required")
	}
	if orgID == "" {
		if actor.OrganizationID == nil {
			return nil, apperrors.NewBadRequest("organization_id is required")
		}
		orgID = *actor.OrganizationID
	}

	ok, err := s.resolver.CanAccessOrganization(ctx, actor, orgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrPermissionDenied
	}

	inspection := &models.Inspection{
		OrganizationID: orgID,
		CreatedBy:      actor.ID,
		Title:          title,
		Status:         models.InspectionStatusDraft,
		Location:       strings.TrimSpace(input.Location),
		Summary:        input.Summary,
		ScheduledFor:   input.ScheduledFor,
	}
	if err := s.db.WithContext(ctx).Create(inspection).Error; err != nil {
		return nil, fmt.Errorf("inspection service: create: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:         actor.ID,
		OrganizationID: orgID,
		Action:         models.ActivityInspectionCreated,
		Description:    fmt.Sprintf("inspection %q created", title),
		TargetType:     "inspection",
		TargetID:       inspection.ID,
	})

	return inspection, nil
}

// GetByID loads one inspection visible to the actor, with collaborators and
// action items preloaded.
func (s *InspectionService) GetByID(ctx context.Context, actor authz.Actor, id string) (*models.Inspection, error) {
	ctx = ensureContext(ctx)

	query, err := s.visible(ctx, actor, "")
	if err != nil {
		return nil, err
	}

	var inspection models.Inspection
	err = query.
		Preload("Collaborators", "is_active = ?", true).
		Preload("ActionItems").
		First(&inspection, "inspections.id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInspectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("inspection service: get: %w", err)
	}
	return &inspection, nil
}

// List returns inspections visible to the actor, newest first.
func (s *InspectionService) List(ctx context.Context, actor authz.Actor, opts ListInspectionsOptions) ([]models.Inspection, int64, error) {
	ctx = ensureContext(ctx)

	query, err := s.visible(ctx, actor, opts.OrganizationID)
	if err != nil {
		return nil, 0, err
	}
	if status := strings.TrimSpace(opts.Status); status != "" {
		query = query.Where("inspections.status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("inspection service: count: %w", err)
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var inspections []models.Inspection
	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&inspections).Error
	if err != nil {
		return nil, 0, fmt.Errorf("inspection service: list: %w", err)
	}
	return inspections, total, nil
}

// UpdateStatus advances an inspection's lifecycle. Only actors who can see
// the inspection may change it.
func (s *InspectionService) UpdateStatus(ctx context.Context, actor authz.Actor, id, status string) (*models.Inspection, error) {
	ctx = ensureContext(ctx)

	switch status {
	case models.InspectionStatusDraft, models.InspectionStatusInProgress, models.InspectionStatusCompleted:
	default:
		return nil, apperrors.NewBadRequest("invalid status")
	}

	inspection, err := s.GetByID(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(inspection).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("inspection service: update status: %w", err)
	}
	inspection.Status = status
	return inspection, nil
}

// AddCollaborator grants another user shared access to an inspection. The
// collaborator must belong to an organization inside the actor's scope.
func (s *InspectionService) AddCollaborator(ctx context.Context, actor authz.Actor, inspectionID, userID string) error {
	ctx = ensureContext(ctx)

	inspection, err := s.GetByID(ctx, actor, inspectionID)
	if err != nil {
		return err
	}

	var user models.User
	err = s.db.WithContext(ctx).First(&user, "id = ? AND is_active = ?", userID, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("inspection service: load collaborator: %w", err)
	}

	collaborator := models.InspectionCollaborator{
		InspectionID: inspection.ID,
		UserID:       user.ID,
		IsActive:     true,
	}
	err = s.db.WithContext(ctx).Create(&collaborator).Error
	if err != nil && !isUniqueConstraintError(err) {
		return fmt.Errorf("inspection service: add collaborator: %w", err)
	}
	if isUniqueConstraintError(err) {
		// Re-adding reactivates a previously removed collaborator.
		err = s.db.WithContext(ctx).Model(&models.InspectionCollaborator{}).
			Where("inspection_id = ? AND user_id = ?", inspection.ID, user.ID).
			Update("is_active", true).Error
		if err != nil {
			return fmt.Errorf("inspection service: reactivate collaborator: %w", err)
		}
	}
	return nil
}

// RemoveCollaborator deactivates a collaboration without deleting its row.
func (s *InspectionService) RemoveCollaborator(ctx context.Context, actor authz.Actor, inspectionID, userID string) error {
	ctx = ensureContext(ctx)

	inspection, err := s.GetByID(ctx, actor, inspectionID)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Model(&models.InspectionCollaborator{}).
		Where("inspection_id = ? AND user_id = ? AND is_active = ?", inspection.ID, userID, true).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("inspection service: remove collaborator: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound.WithMessage("collaborator not found")
	}
	return nil
}

// CreateActionItem raises a remediation task against an inspection the actor
// can see. The item inherits the inspection's organization.
func (s *InspectionService) CreateActionItem(ctx context.Context, actor authz.Actor, input CreateActionItemInput) (*models.ActionItem, error) {
	ctx = ensureContext(ctx)

	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, apperrors.NewBadRequest("description is required")
	}
	severity := input.Severity
	if severity == "" {
		severity = models.ActionItemSeverityMedium
	}
	switch severity {
	case models.ActionItemSeverityLow, models.ActionItemSeverityMedium,
		models.ActionItemSeverityHigh, models.ActionItemSeverityCritical:
	default:
		return nil, apperrors.NewBadRequest("invalid severity")
	}

	inspection, err := s.GetByID(ctx, actor, input.InspectionID)
	if err != nil {
		return nil, err
	}

	item := &models.ActionItem{
		InspectionID:   inspection.ID,
		OrganizationID: inspection.OrganizationID,
		CreatedBy:      actor.ID,
		Description:    description,
		Severity:       severity,
		Status:         models.ActionItemStatusOpen,
		AssignedTo:     input.AssignedTo,
		DueDate:        input.DueDate,
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, fmt.Errorf("inspection service: create action item: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:         actor.ID,
		OrganizationID: inspection.OrganizationID,
		Action:         models.ActivityActionItemCreated,
		Description:    fmt.Sprintf("action item raised on inspection %q", inspection.Title),
		TargetType:     "action_item",
		TargetID:       item.ID,
	})

	return item, nil
}

// ListActionItems returns remediation tasks visible to the actor, optionally
// filtered by status. Visibility follows the owning inspection's predicate,
// plus direct assignment.
func (s *InspectionService) ListActionItems(ctx context.Context, actor authz.Actor, status string) ([]models.ActionItem, error) {
	ctx = ensureContext(ctx)

	scope, err := s.resolver.OrganizationScope(ctx, actor)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&models.ActionItem{})
	query = scope.Apply(query, "action_items.organization_id")

	if !actor.Role.IsAdministrative() {
		query = query.Where(
			"action_items.created_by = ? OR action_items.assigned_to = ? OR action_items.inspection_id IN "+
				"(SELECT id FROM inspections WHERE created_by = ?) OR action_items.inspection_id IN "+
				"(SELECT inspection_id FROM inspection_collaborators WHERE user_id = ? AND is_active = ?)",
			actor.ID, actor.ID, actor.ID, actor.ID, true,
		)
	}
	if status = strings.TrimSpace(status); status != "" {
		query = query.Where("action_items.status = ?", status)
	}

	var items []models.ActionItem
	if err := query.Order("created_at DESC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("inspection service: list action items: %w", err)
	}
	return items, nil
}

// ResolveActionItem marks a task resolved. Assignees may resolve their own
// tasks even when the owning inspection is otherwise outside their ownership.
func (s *InspectionService) ResolveActionItem(ctx context.Context, actor authz.Actor, id string) (*models.ActionItem, error) {
	ctx = ensureContext(ctx)

	scope, err := s.resolver.OrganizationScope(ctx, actor)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&models.ActionItem{})
	query = scope.Apply(query, "action_items.organization_id")
	if !actor.Role.IsAdministrative() {
		query = query.Where("action_items.created_by = ? OR action_items.assigned_to = ?", actor.ID, actor.ID)
	}

	var item models.ActionItem
	err = query.First(&item, "action_items.id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrActionItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("inspection service: load action item: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&item).Update("status", models.ActionItemStatusResolved).Error; err != nil {
		return nil, fmt.Errorf("inspection service: resolve action item: %w", err)
	}
	item.Status = models.ActionItemStatusResolved
	return &item, nil
}

// visible builds the base inspection query with the actor's scope and
// ownership predicates applied.
func (s *InspectionService) visible(ctx context.Context, actor authz.Actor, explicitOrgID string) (*gorm.DB, error) {
	var (
		scope authz.Scope
		err   error
	)
	if explicitOrgID != "" {
		scope, err = s.resolver.Resolve(ctx, actor, explicitOrgID)
	} else {
		scope, err = s.resolver.OrganizationScope(ctx, actor)
	}
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&models.Inspection{})
	query = scope.Apply(query, "inspections.organization_id")
	query = authz.ApplyOwnership(query, actor, "inspections")
	return query, nil
}
