package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fieldsafe/fieldsafe/internal/authz"
	"github.com/fieldsafe/fieldsafe/internal/models"
	apperrors "github.com/fieldsafe/fieldsafe/pkg/errors"
)

// ErrTemplateNotFound is returned when a template does not exist or is not
// visible to the actor.
var ErrTemplateNotFound = apperrors.New("TEMPLATE_NOT_FOUND", "Checklist template not found", http.StatusNotFound)

// CreateTemplateInput captures the attributes of a new checklist template.
type CreateTemplateInput struct {
	Name     string
	Category string
	Items    datatypes.JSON
	IsPublic bool
}

// TemplateService manages reusable checklist templates. Template visibility
// does not walk the organization hierarchy: a template is visible when it is
// public, belongs to the viewer's organization, or was created by the viewer.
type TemplateService struct {
	db       *gorm.DB
	activity *ActivityService
}

// NewTemplateService constructs a TemplateService.
func NewTemplateService(db *gorm.DB, activity *ActivityService) (*TemplateService, error) {
	if db == nil {
		return nil, errors.New("template service: db is required")
	}
	return &TemplateService{db: db, activity: activity}, nil
}

// Create saves a template owned by the actor's organization. Only system
// admins may publish public templates.
func (s *TemplateService) Create(ctx context.Context, actor authz.Actor, input CreateTemplateInput) (*models.ChecklistTemplate, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("name is required")
	}
	if input.IsPublic && actor.Role != authz.RoleSystemAdmin {
		return nil, apperrors.ErrPermissionDenied.WithMessage("only system administrators can publish public templates")
	}

	template := &models.ChecklistTemplate{
		Name:           name,
		Category:       strings.TrimSpace(input.Category),
		CreatedBy:      actor.ID,
		IsPublic:       input.IsPublic,
		Items:          input.Items,
		OrganizationID: actor.OrganizationID,
	}
	if err := s.db.WithContext(ctx).Create(template).Error; err != nil {
		return nil, fmt.Errorf("template service: create: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:         actor.ID,
		OrganizationID: deref(actor.OrganizationID),
		Action:         models.ActivityTemplateCreated,
		Description:    fmt.Sprintf("checklist template %q created", name),
		TargetType:     "checklist_template",
		TargetID:       template.ID,
	})

	return template, nil
}

// GetByID loads one template visible to the actor.
func (s *TemplateService) GetByID(ctx context.Context, actor authz.Actor, id string) (*models.ChecklistTemplate, error) {
	ctx = ensureContext(ctx)

	var template models.ChecklistTemplate
	err := s.visible(ctx, actor).First(&template, "checklist_templates.id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("template service: get: %w", err)
	}
	return &template, nil
}

// List returns the templates visible to the actor, optionally filtered by
// category.
func (s *TemplateService) List(ctx context.Context, actor authz.Actor, category string) ([]models.ChecklistTemplate, error) {
	ctx = ensureContext(ctx)

	query := s.visible(ctx, actor)
	if category = strings.TrimSpace(category); category != "" {
		query = query.Where("checklist_templates.category = ?", category)
	}

	var templates []models.ChecklistTemplate
	if err := query.Order("name ASC").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("template service: list: %w", err)
	}
	return templates, nil
}

// Delete removes a template. Creators can delete their own; system admins
// can delete any.
func (s *TemplateService) Delete(ctx context.Context, actor authz.Actor, id string) error {
	ctx = ensureContext(ctx)

	template, err := s.GetByID(ctx, actor, id)
	if err != nil {
		return err
	}
	if actor.Role != authz.RoleSystemAdmin && template.CreatedBy != actor.ID {
		return apperrors.ErrPermissionDenied
	}

	if err := s.db.WithContext(ctx).Delete(&models.ChecklistTemplate{}, "id = ?", template.ID).Error; err != nil {
		return fmt.Errorf("template service: delete: %w", err)
	}
	return nil
}

func (s *TemplateService) visible(ctx context.Context, actor authz.Actor) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.ChecklistTemplate{})
	if actor.Role == authz.RoleSystemAdmin {
		return query
	}
	if actor.OrganizationID != nil {
		return query.Where(
			"checklist_templates.is_public = ? OR checklist_templates.organization_id = ? OR checklist_templates.created_by = ?",
			true, *actor.OrganizationID, actor.ID,
		)
	}
	return query.Where(
		"checklist_templates.is_public = ? OR checklist_templates.created_by = ?",
		true, actor.ID,
	)
}
