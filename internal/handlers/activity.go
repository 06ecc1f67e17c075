package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldsafe/fieldsafe/internal/services"
	"github.com/fieldsafe/fieldsafe/pkg/response"
)

// ActivityHandler exposes the scoped activity log.
type ActivityHandler struct {
	activity *services.ActivityService
}

// NewActivityHandler constructs an ActivityHandler.
func NewActivityHandler(activity *services.ActivityService) *ActivityHandler {
	return &ActivityHandler{activity: activity}
}

// List returns activity records inside the caller's scope, newest first.
func (h *ActivityHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 50)

	opts := services.ActivityListOptions{
		Page:           page,
		PageSize:       perPage,
		OrganizationID: c.Query("organization_id"),
		Filters: services.ActivityFilters{
			UserID:     c.Query("user_id"),
			Action:     c.Query("action"),
			TargetType: c.Query("target_type"),
		},
	}
	if raw := c.Query("since"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			opts.Filters.Since = &ts
		}
	}
	if raw := c.Query("until"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			opts.Filters.Until = &ts
		}
	}

	entries, total, err := h.activity.List(requestContext(c), actor, opts)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, entries, response.NewMeta(page, perPage, total))
}
