package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/fieldsafe/fieldsafe/internal/authz"
	"github.com/fieldsafe/fieldsafe/internal/middleware"
	appErrors "github.com/fieldsafe/fieldsafe/pkg/errors"
	"github.com/fieldsafe/fieldsafe/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// requireActor fetches the scoping principal resolved by the middleware
// chain, writing a 401 response when it is absent.
func requireActor(c *gin.Context) (authz.Actor, bool) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return authz.Actor{}, false
	}
	return actor, true
}
