package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/fieldscan-backend-go/internal/repository"
	"github.com/jengzang/fieldscan-backend-go/internal/service"
	"github.com/jengzang/fieldscan-backend-go/pkg/response"
)

// LayerHandler handles HTTP requests for layers and tiles
type LayerHandler struct {
	service *service.LayerService
}

// NewLayerHandler creates a new layer handler
func NewLayerHandler(service *service.LayerService) *LayerHandler {
	return &LayerHandler{service: service}
}

// List lists a parcel's layers
// GET /api/v1/parcels/:id/layers?type=&index=&observation_id=&model_derived=&limit=
func (h *LayerHandler) List(c *gin.Context) {
	parcelID, ok := pathID(c, "id")
	if !ok {
		return
	}

	filter := repository.LayerFilter{
		LayerType: c.Query("type"),
		IndexName: c.Query("index"),
		Limit:     queryInt(c, "limit", 0),
	}
	if v := c.Query("observation_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.BadRequest(c, "Invalid observation_id")
			return
		}
		filter.ObservationID = &id
	}
	if v := c.Query("model_derived"); v != "" {
		derived, err := strconv.ParseBool(v)
		if err != nil {
			response.BadRequest(c, "Invalid model_derived")
			return
		}
		filter.ModelDerived = &derived
	}

	layers, err := h.service.List(c.Request.Context(), organization(c), parcelID, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"layers": layers})
}

// Metadata returns a layer with its tile style
// GET /api/v1/layers/:id/metadata
func (h *LayerHandler) Metadata(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	meta, err := h.service.Metadata(c.Request.Context(), organization(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, meta)
}

// Download redirects to a signed URL of the layer GeoTIFF
// GET /api/v1/layers/:id/download
func (h *LayerHandler) Download(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	layer, err := h.service.Get(c.Request.Context(), organization(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	url, err := h.service.SignedURL(c.Request.Context(), layer.SourceURI, true)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, url)
}

// TileJSON returns the TileJSON document of a layer. The document is served
// bare since map clients read it directly.
// GET /api/v1/tiles/:id
func (h *LayerHandler) TileJSON(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	doc, err := h.service.TileJSON(c.Request.Context(), organization(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}
