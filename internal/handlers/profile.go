package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldsafe/fieldsafe/internal/middleware"
	"github.com/fieldsafe/fieldsafe/internal/services"
	appErrors "github.com/fieldsafe/fieldsafe/pkg/errors"
	"github.com/fieldsafe/fieldsafe/pkg/response"
)

// ProfileHandler serves the authenticated principal's own record.
type ProfileHandler struct {
	users *services.UserService
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(users *services.UserService) *ProfileHandler {
	return &ProfileHandler{users: users}
}

// Me returns the current user together with organization context and the
// capability list the client renders its UI from.
func (h *ProfileHandler) Me(c *gin.Context) {
	current, ok := middleware.CurrentUserFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, current)
}

type updateProfileRequest struct {
	Name  *string `json:"name" validate:"omitempty,min=1,max=120"`
	Phone *string `json:"phone" validate:"omitempty,max=32"`
}

// UpdateMe patches the caller's own profile fields.
func (h *ProfileHandler) UpdateMe(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Update(requestContext(c), actor, actor.ID, services.UpdateUserInput{
		Name:  req.Name,
		Phone: req.Phone,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}
