package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/fieldsafe/fieldsafe/internal/services"
	appErrors "github.com/fieldsafe/fieldsafe/pkg/errors"
	"github.com/fieldsafe/fieldsafe/pkg/response"
)

// InspectionHandler exposes the scoped inspection surface.
type InspectionHandler struct {
	inspections *services.InspectionService
}

// NewInspectionHandler constructs an InspectionHandler.
func NewInspectionHandler(inspections *services.InspectionService) *InspectionHandler {
	return &InspectionHandler{inspections: inspections}
}

type createInspectionRequest struct {
	OrganizationID string         `json:"organization_id"`
	Title          string         `json:"title" validate:"required,min=2,max=200"`
	Location       string         `json:"location" validate:"omitempty,max=200"`
	Summary        map[string]any `json:"summary"`
	ScheduledFor   *time.Time     `json:"scheduled_for"`
}

// Create records a new inspection.
func (h *InspectionHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req createInspectionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	input := services.CreateInspectionInput{
		OrganizationID: req.OrganizationID,
		Title:          req.Title,
		Location:       req.Location,
		ScheduledFor:   req.ScheduledFor,
	}
	if req.Summary != nil {
		data, err := json.Marshal(req.Summary)
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("invalid summary payload"))
			return
		}
		input.Summary = datatypes.JSON(data)
	}

	inspection, err := h.inspections.Create(requestContext(c), actor, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, inspection)
}

// List returns inspections visible to the caller.
func (h *InspectionHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 20)

	inspections, total, err := h.inspections.List(requestContext(c), actor, services.ListInspectionsOptions{
		OrganizationID: c.Query("organization_id"),
		Status:         c.Query("status"),
		Page:           page,
		PageSize:       perPage,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, inspections, response.NewMeta(page, perPage, total))
}

// Get returns a single inspection with collaborators and action items.
func (h *InspectionHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	inspection, err := h.inspections.GetByID(requestContext(c), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, inspection)
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft in_progress completed"`
}

// UpdateStatus advances the inspection lifecycle.
func (h *InspectionHandler) UpdateStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req updateStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}

	inspection, err := h.inspections.UpdateStatus(requestContext(c), actor, c.Param("id"), req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, inspection)
}

type collaboratorRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// AddCollaborator grants a user shared access to the inspection.
func (h *InspectionHandler) AddCollaborator(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req collaboratorRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.inspections.AddCollaborator(requestContext(c), actor, c.Param("id"), req.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"added": true})
}

// RemoveCollaborator withdraws shared access.
func (h *InspectionHandler) RemoveCollaborator(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	if err := h.inspections.RemoveCollaborator(requestContext(c), actor, c.Param("id"), c.Param("userID")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}

type createActionItemRequest struct {
	Description string     `json:"description" validate:"required,min=2,max=500"`
	Severity    string     `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	AssignedTo  *string    `json:"assigned_to"`
	DueDate     *time.Time `json:"due_date"`
}

// CreateActionItem raises a remediation task against the inspection.
func (h *InspectionHandler) CreateActionItem(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req createActionItemRequest
	if !bindAndValidate(c, &req) {
		return
	}

	item, err := h.inspections.CreateActionItem(requestContext(c), actor, services.CreateActionItemInput{
		InspectionID: c.Param("id"),
		Description:  req.Description,
		Severity:     req.Severity,
		AssignedTo:   req.AssignedTo,
		DueDate:      req.DueDate,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, item)
}

// ListActionItems returns remediation tasks visible to the caller.
func (h *InspectionHandler) ListActionItems(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	items, err := h.inspections.ListActionItems(requestContext(c), actor, c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, items)
}

// ResolveActionItem marks a task resolved.
func (h *InspectionHandler) ResolveActionItem(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	item, err := h.inspections.ResolveActionItem(requestContext(c), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, item)
}
