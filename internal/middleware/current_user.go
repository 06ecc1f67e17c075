package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/fieldsafe/fieldsafe/internal/authz"
	"github.com/fieldsafe/fieldsafe/internal/services"
	"github.com/fieldsafe/fieldsafe/pkg/errors"
	"github.com/fieldsafe/fieldsafe/pkg/response"
)

const (
	CtxCurrentUserKey = "currentUser"
	CtxActorKey       = "actor"
)

// CurrentUser resolves the authenticated identity into a directory user,
// provisioning the row on first sight, and rejects deactivated accounts.
// Must run after Auth.
func CurrentUser(users *services.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		provisioned, err := users.GetOrProvision(c.Request.Context(), services.Identity{
			ID:    claims.UserID,
			Email: claims.Email,
			Name:  claims.Name,
		})
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		if !provisioned.User.IsActive {
			response.Error(c, errors.ErrPermissionDenied.WithMessage("Account is deactivated"))
			c.Abort()
			return
		}

		c.Set(CtxCurrentUserKey, provisioned)
		c.Set(CtxActorKey, provisioned.User.Actor())

		c.Next()
	}
}

// ActorFromContext retrieves the scoping principal stored by CurrentUser.
func ActorFromContext(c *gin.Context) (authz.Actor, bool) {
	value, ok := c.Get(CtxActorKey)
	if !ok {
		return authz.Actor{}, false
	}
	actor, ok := value.(authz.Actor)
	return actor, ok
}

// CurrentUserFromContext retrieves the provisioned user stored by CurrentUser.
func CurrentUserFromContext(c *gin.Context) (*services.ProvisionedUser, bool) {
	value, ok := c.Get(CtxCurrentUserKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*services.ProvisionedUser)
	return user, ok
}

// RequireRole allows the request through only for the listed roles. Must run
// after CurrentUser.
func RequireRole(roles ...authz.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFromContext(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		response.Error(c, errors.ErrPermissionDenied)
		c.Abort()
	}
}
