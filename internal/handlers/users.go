package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fieldsafe/fieldsafe/internal/authz"
	"github.com/fieldsafe/fieldsafe/internal/services"
	appErrors "github.com/fieldsafe/fieldsafe/pkg/errors"
	"github.com/fieldsafe/fieldsafe/pkg/response"
)

// UserHandler exposes the scoped user directory.
type UserHandler struct {
	users *services.UserService
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// List returns users inside the caller's scope, paginated.
func (h *UserHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	opts := services.ListUsersOptions{
		Page:           parseIntQuery(c, "page", 1),
		PageSize:       parseIntQuery(c, "per_page", 20),
		OrganizationID: c.Query("organization_id"),
		Filters: services.UserFilters{
			Query: c.Query("q"),
		},
	}
	if raw := strings.TrimSpace(c.Query("is_active")); raw != "" {
		active := raw == "true" || raw == "1"
		opts.Filters.IsActive = &active
	}

	users, total, err := h.users.List(requestContext(c), actor, opts)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, users, response.NewMeta(opts.Page, opts.PageSize, total))
}

// Get returns a single user inside the caller's scope.
func (h *UserHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	user, err := h.users.GetByID(requestContext(c), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

type updateUserRequest struct {
	Name                  *string `json:"name" validate:"omitempty,min=1,max=120"`
	Phone                 *string `json:"phone" validate:"omitempty,max=32"`
	OrganizationID        *string `json:"organization_id"`
	Role                  *string `json:"role"`
	ManagedOrganizationID *string `json:"managed_organization_id"`
	IsActive              *bool   `json:"is_active"`
}

// Update patches a user. Role, activation and organization moves require
// administrative scope; the service enforces the details.
func (h *UserHandler) Update(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req updateUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	input := services.UpdateUserInput{
		Name:                  req.Name,
		Phone:                 req.Phone,
		OrganizationID:        req.OrganizationID,
		ManagedOrganizationID: req.ManagedOrganizationID,
		IsActive:              req.IsActive,
	}
	if req.Role != nil {
		role, valid := authz.ParseRole(*req.Role)
		if !valid {
			response.Error(c, appErrors.NewBadRequest("invalid role"))
			return
		}
		input.Role = &role
	}

	user, err := h.users.Update(requestContext(c), actor, c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// Deactivate soft-disables a user account.
func (h *UserHandler) Deactivate(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	if err := h.users.Deactivate(requestContext(c), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deactivated": true})
}
