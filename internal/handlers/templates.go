package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/fieldsafe/fieldsafe/internal/services"
	appErrors "github.com/fieldsafe/fieldsafe/pkg/errors"
	"github.com/fieldsafe/fieldsafe/pkg/response"
)

// TemplateHandler exposes reusable checklist templates.
type TemplateHandler struct {
	templates *services.TemplateService
}

// NewTemplateHandler constructs a TemplateHandler.
func NewTemplateHandler(templates *services.TemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

type createTemplateRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=200"`
	Category string `json:"category" validate:"omitempty,max=100"`
	Items    []any  `json:"items"`
	IsPublic bool   `json:"is_public"`
}

// Create saves a new checklist template.
func (h *TemplateHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req createTemplateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	input := services.CreateTemplateInput{
		Name:     req.Name,
		Category: req.Category,
		IsPublic: req.IsPublic,
	}
	if req.Items != nil {
		data, err := json.Marshal(req.Items)
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("invalid items payload"))
			return
		}
		input.Items = datatypes.JSON(data)
	}

	template, err := h.templates.Create(requestContext(c), actor, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, template)
}

// List returns the templates visible to the caller.
func (h *TemplateHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	templates, err := h.templates.List(requestContext(c), actor, c.Query("category"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, templates)
}

// Get returns one template.
func (h *TemplateHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	template, err := h.templates.GetByID(requestContext(c), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, template)
}

// Delete removes a template.
func (h *TemplateHandler) Delete(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	if err := h.templates.Delete(requestContext(c), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
