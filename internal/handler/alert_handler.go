package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/fieldscan-backend-go/internal/middleware"
	"github.com/jengzang/fieldscan-backend-go/internal/repository"
	"github.com/jengzang/fieldscan-backend-go/internal/service"
	"github.com/jengzang/fieldscan-backend-go/pkg/response"
)

// AlertHandler handles HTTP requests for alerts and feature flags
type AlertHandler struct {
	alerts *service.AlertService
	flags  *service.FeatureFlagService
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alerts *service.AlertService, flags *service.FeatureFlagService) *AlertHandler {
	return &AlertHandler{alerts: alerts, flags: flags}
}

// List lists alerts
// GET /api/v1/alerts?parcel_id=&category=&unacknowledged=&limit=&offset=
func (h *AlertHandler) List(c *gin.Context) {
	filter := repository.AlertFilter{
		Category:       c.Query("category"),
		Unacknowledged: c.Query("unacknowledged") == "true",
		Limit:          queryInt(c, "limit", 100),
		Offset:         queryInt(c, "offset", 0),
	}
	if v := c.Query("parcel_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.BadRequest(c, "Invalid parcel_id")
			return
		}
		filter.ParcelID = &id
	}

	alerts, err := h.alerts.List(c.Request.Context(), organization(c), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"alerts": alerts,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// Acknowledge marks an alert as seen by the token subject
// POST /api/v1/alerts/:id/ack
func (h *AlertHandler) Acknowledge(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	alert, err := h.alerts.Acknowledge(c.Request.Context(), organization(c), id, c.GetString(middleware.SubjectKey))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, alert)
}

// FlagRequest represents the request body for setting a feature flag
type FlagRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// Flags returns the effective feature flags
// GET /api/v1/flags
func (h *AlertHandler) Flags(c *gin.Context) {
	flags, err := h.flags.Resolve(c.Request.Context(), organization(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, flags)
}

// SetFlag overrides a feature flag for the organization
// PUT /api/v1/flags/:key
func (h *AlertHandler) SetFlag(c *gin.Context) {
	var req FlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	key := c.Param("key")
	if err := h.flags.Set(c.Request.Context(), organization(c), key, *req.Enabled); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, gin.H{key: *req.Enabled})
}
