package handler

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/spatial"
	"github.com/jengzang/fieldscan-backend-go/internal/service"
	"github.com/jengzang/fieldscan-backend-go/pkg/response"
)

// maxGeometryBytes bounds uploaded boundary documents
const maxGeometryBytes = 8 << 20

// ParcelHandler handles HTTP requests for parcels
type ParcelHandler struct {
	service *service.ParcelService
}

// NewParcelHandler creates a new parcel handler
func NewParcelHandler(service *service.ParcelService) *ParcelHandler {
	return &ParcelHandler{service: service}
}

// CreateParcelRequest represents the request body for creating a parcel.
// Geometry is any GeoJSON Polygon, MultiPolygon, Feature or FeatureCollection.
type CreateParcelRequest struct {
	Name     string           `json:"name" binding:"required"`
	Geometry json.RawMessage  `json:"geometry" binding:"required"`
	Schedule *models.Schedule `json:"schedule"`
}

// parcelView is a parcel with its boundary as a GeoJSON Feature
type parcelView struct {
	*models.Parcel
	Geometry json.RawMessage `json:"geometry"`
}

func viewOf(p *models.Parcel) (parcelView, error) {
	feature, err := spatial.FeatureJSON(p.Geometry)
	if err != nil {
		return parcelView{}, err
	}
	return parcelView{Parcel: p, Geometry: feature}, nil
}

func (h *ParcelHandler) respond(c *gin.Context, p *models.Parcel, send func(*gin.Context, interface{})) {
	view, err := viewOf(p)
	if err != nil {
		writeError(c, err)
		return
	}
	send(c, view)
}

// Create creates a parcel
// POST /api/v1/parcels
func (h *ParcelHandler) Create(c *gin.Context) {
	var req CreateParcelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	p, err := h.service.Create(c.Request.Context(), organization(c), service.CreateParcelInput{
		Name:     req.Name,
		Geometry: req.Geometry,
		Schedule: req.Schedule,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, p, response.Created)
}

// List lists the organization's parcels
// GET /api/v1/parcels
func (h *ParcelHandler) List(c *gin.Context) {
	parcels, err := h.service.List(c.Request.Context(), organization(c))
	if err != nil {
		writeError(c, err)
		return
	}
	views := make([]parcelView, 0, len(parcels))
	for _, p := range parcels {
		view, err := viewOf(p)
		if err != nil {
			writeError(c, err)
			return
		}
		views = append(views, view)
	}
	response.Success(c, gin.H{"parcels": views})
}

// Get retrieves a parcel by ID
// GET /api/v1/parcels/:id
func (h *ParcelHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.service.Get(c.Request.Context(), organization(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, p, response.Success)
}

// UpdateBoundary replaces the parcel boundary. The body is the raw GeoJSON
// document.
// PUT /api/v1/parcels/:id/boundary
func (h *ParcelHandler) UpdateBoundary(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxGeometryBytes))
	if err != nil || len(raw) == 0 {
		response.BadRequest(c, "Invalid request body")
		return
	}

	p, err := h.service.UpdateGeometry(c.Request.Context(), organization(c), id, raw)
	if err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, p, response.Success)
}

// Revisions lists the boundary history
// GET /api/v1/parcels/:id/revisions
func (h *ParcelHandler) Revisions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	revisions, err := h.service.Revisions(c.Request.Context(), organization(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	type revisionView struct {
		*models.ParcelRevision
		Geometry json.RawMessage `json:"geometry"`
	}
	views := make([]revisionView, 0, len(revisions))
	for _, r := range revisions {
		feature, err := spatial.FeatureJSON(r.Geometry)
		if err != nil {
			writeError(c, err)
			return
		}
		views = append(views, revisionView{ParcelRevision: r, Geometry: feature})
	}
	response.Success(c, gin.H{"revisions": views})
}

// UpdateSchedule replaces the parcel schedule
// PUT /api/v1/parcels/:id/schedule
func (h *ParcelHandler) UpdateSchedule(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var sch models.Schedule
	if err := c.ShouldBindJSON(&sch); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	p, err := h.service.UpdateSchedule(c.Request.Context(), organization(c), id, sch)
	if err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, p, response.Success)
}
