package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/fieldsafe/fieldsafe/internal/auth"
	"github.com/fieldsafe/fieldsafe/internal/services"
	"github.com/fieldsafe/fieldsafe/pkg/crypto"
	appErrors "github.com/fieldsafe/fieldsafe/pkg/errors"
	"github.com/fieldsafe/fieldsafe/pkg/metrics"
	"github.com/fieldsafe/fieldsafe/pkg/response"
)

// AuthHandler exposes local credential login. Accounts obtain a password
// during invitation acceptance; federated identities never hit this path.
type AuthHandler struct {
	users *services.UserService
	jwt   *iauth.JWTService
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(users *services.UserService, jwt *iauth.JWTService) *AuthHandler {
	return &AuthHandler{users: users, jwt: jwt}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token string                    `json:"token"`
	User  *services.ProvisionedUser `json:"user"`
}

// Login verifies credentials and issues an access token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)

	user, err := h.users.FindByEmail(ctx, req.Email)
	if err != nil || user.PasswordHash == "" || !crypto.VerifyPassword(user.PasswordHash, req.Password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.ErrInvalidCredentials)
		return
	}

	token, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	provisioned, err := h.users.GetOrProvision(ctx, services.Identity{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	response.Success(c, http.StatusOK, loginResponse{Token: token, User: provisioned})
}
