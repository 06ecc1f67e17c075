package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	iauth "github.com/fieldsafe/fieldsafe/internal/auth"
	"github.com/fieldsafe/fieldsafe/internal/authz"
	"github.com/fieldsafe/fieldsafe/internal/services"
	"github.com/fieldsafe/fieldsafe/pkg/crypto"
	appErrors "github.com/fieldsafe/fieldsafe/pkg/errors"
	"github.com/fieldsafe/fieldsafe/pkg/response"
)

// InviteHandler exposes the invitation workflow: issuing, the public token
// lookup, acceptance and revocation.
type InviteHandler struct {
	invites *services.InviteService
	users   *services.UserService
	jwt     *iauth.JWTService
}

// NewInviteHandler constructs an InviteHandler.
func NewInviteHandler(invites *services.InviteService, users *services.UserService, jwt *iauth.JWTService) *InviteHandler {
	return &InviteHandler{invites: invites, users: users, jwt: jwt}
}

type createInviteRequest struct {
	Email          string `json:"email" validate:"required,email"`
	OrganizationID string `json:"organization_id" validate:"required"`
	Role           string `json:"role" validate:"required"`
}

// Create issues a new invitation.
func (h *InviteHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req createInviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	role, valid := authz.ParseRole(req.Role)
	if !valid {
		response.Error(c, appErrors.NewBadRequest("invalid role"))
		return
	}

	invite, token, err := h.invites.Create(requestContext(c), actor, services.CreateInvitationInput{
		Email:          req.Email,
		OrganizationID: req.OrganizationID,
		Role:           role,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	// The raw token appears exactly once, in this response; only its hash
	// is stored.
	response.Success(c, http.StatusCreated, gin.H{
		"invitation": invite,
		"token":      token,
	})
}

// List returns invitations for organizations inside the caller's scope.
func (h *InviteHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	invites, err := h.invites.ListForOrganization(requestContext(c), actor, c.Query("organization_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, invites)
}

// Details is the public, unauthenticated token lookup the acceptance page
// renders from.
func (h *InviteHandler) Details(c *gin.Context) {
	invite, err := h.invites.Details(requestContext(c), c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"email":           invite.Email,
		"organization_id": invite.OrganizationID,
		"role":            invite.Role,
		"expires_at":      invite.ExpiresAt,
	})
}

type acceptInviteRequest struct {
	Token    string `json:"token" validate:"required"`
	Name     string `json:"name" validate:"required,min=1,max=120"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// Accept claims an invitation, provisions the local account with the chosen
// password and returns a ready-to-use access token.
func (h *InviteHandler) Accept(c *gin.Context) {
	var req acceptInviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)

	pending, err := h.invites.Details(ctx, req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}

	// On this route possession of the token is the proof of email control:
	// the token was delivered to the invited address, so the identity is
	// built from the invitation's own email and the service-level mismatch
	// guard cannot fire here. Federated acceptance paths pass the
	// authenticated email instead and keep that guard live.
	invite, user, err := h.invites.Accept(ctx, services.Identity{
		ID:    uuid.NewString(),
		Email: pending.Email,
		Name:  req.Name,
	}, req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.users.SetPassword(ctx, user.ID, hash); err != nil {
		response.Error(c, err)
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

	response.Success(c, http.StatusOK, gin.H{
		"token":      token,
		"user":       user,
		"invitation": invite,
	})
}

// Revoke invalidates a pending invitation.
func (h *InviteHandler) Revoke(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	if err := h.invites.Revoke(requestContext(c), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}
