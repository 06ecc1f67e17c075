package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldsafe/fieldsafe/internal/services"
	"github.com/fieldsafe/fieldsafe/pkg/response"
)

// OrganizationHandler exposes the tenant hierarchy endpoints.
type OrganizationHandler struct {
	organizations *services.OrganizationService
}

// NewOrganizationHandler constructs an OrganizationHandler.
func NewOrganizationHandler(organizations *services.OrganizationService) *OrganizationHandler {
	return &OrganizationHandler{organizations: organizations}
}

type createOrganizationRequest struct {
	Name                 string         `json:"name" validate:"required,min=2,max=200"`
	Type                 string         `json:"type" validate:"omitempty,oneof=company consultancy client"`
	ParentOrganizationID string         `json:"parent_organization_id"`
	SubscriptionPlan     string         `json:"subscription_plan"`
	MaxUsers             int            `json:"max_users" validate:"omitempty,min=1"`
	MaxSubsidiaries      int            `json:"max_subsidiaries" validate:"omitempty,min=0"`
	Profile              map[string]any `json:"profile"`
}

// Create registers a new organization or subsidiary.
func (h *OrganizationHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req createOrganizationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	org, err := h.organizations.Create(requestContext(c), actor, services.CreateOrganizationInput{
		Name:                 req.Name,
		Type:                 req.Type,
		ParentOrganizationID: req.ParentOrganizationID,
		SubscriptionPlan:     req.SubscriptionPlan,
		MaxUsers:             req.MaxUsers,
		MaxSubsidiaries:      req.MaxSubsidiaries,
		Profile:              req.Profile,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, org)
}

// List returns the organizations inside the caller's scope.
func (h *OrganizationHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	orgs, err := h.organizations.List(requestContext(c), actor, services.ListOrganizationsOptions{
		OrganizationID: c.Query("organization_id"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, orgs)
}

// Get returns a single organization with its subsidiaries.
func (h *OrganizationHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	org, err := h.organizations.GetByID(requestContext(c), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, org)
}

type updateOrganizationRequest struct {
	Name             *string        `json:"name" validate:"omitempty,min=2,max=200"`
	Type             *string        `json:"type" validate:"omitempty,oneof=company consultancy client"`
	SubscriptionPlan *string        `json:"subscription_plan"`
	MaxUsers         *int           `json:"max_users" validate:"omitempty,min=1"`
	MaxSubsidiaries  *int           `json:"max_subsidiaries" validate:"omitempty,min=0"`
	Profile          map[string]any `json:"profile"`
}

// Update patches mutable organization attributes.
func (h *OrganizationHandler) Update(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req updateOrganizationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	org, err := h.organizations.Update(requestContext(c), actor, c.Param("id"), services.UpdateOrganizationInput{
		Name:             req.Name,
		Type:             req.Type,
		SubscriptionPlan: req.SubscriptionPlan,
		MaxUsers:         req.MaxUsers,
		MaxSubsidiaries:  req.MaxSubsidiaries,
		Profile:          req.Profile,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, org)
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// SetActive toggles an organization's activation flag.
func (h *OrganizationHandler) SetActive(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req setActiveRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.organizations.SetActive(requestContext(c), actor, c.Param("id"), *req.IsActive); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"is_active": *req.IsActive})
}
