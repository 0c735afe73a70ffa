package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/service"
	"github.com/jengzang/fieldscan-backend-go/pkg/response"
)

// JobHandler handles HTTP requests for analysis and export jobs
type JobHandler struct {
	jobs   *service.JobService
	layers *service.LayerService
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs *service.JobService, layers *service.LayerService) *JobHandler {
	return &JobHandler{jobs: jobs, layers: layers}
}

// CreateExportRequest represents the request body for creating an export
type CreateExportRequest struct {
	Format string `json:"format" binding:"required"` // CSV, PNG or GEOTIFF
	models.ExportParams
}

// CreateAnalysis queues an analysis run
// POST /api/v1/parcels/:id/analyses
func (h *JobHandler) CreateAnalysis(c *gin.Context) {
	parcelID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var params models.AnalysisParams
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
	}

	job, err := h.jobs.CreateAnalysis(c.Request.Context(), organization(c), parcelID, params)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Accepted(c, job)
}

// ListAnalyses lists the parcel's analysis jobs
// GET /api/v1/parcels/:id/analyses
func (h *JobHandler) ListAnalyses(c *gin.Context) {
	parcelID, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit := queryInt(c, "limit", 50)
	jobs, err := h.jobs.ListAnalyses(c.Request.Context(), organization(c), parcelID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"jobs": jobs, "limit": limit})
}

// GetAnalysis retrieves an analysis job
// GET /api/v1/analyses/:id
func (h *JobHandler) GetAnalysis(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	job, err := h.jobs.GetAnalysis(c.Request.Context(), organization(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, job)
}

// CreateExport queues an export
// POST /api/v1/parcels/:id/exports
func (h *JobHandler) CreateExport(c *gin.Context) {
	parcelID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req CreateExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	job, err := h.jobs.CreateExport(c.Request.Context(), organization(c), parcelID, req.Format, req.ExportParams)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Accepted(c, job)
}

// GetExport retrieves an export job. Finished exports carry a download URL
// signed for the public endpoint.
// GET /api/v1/exports/:id
func (h *JobHandler) GetExport(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	job, err := h.jobs.GetExport(c.Request.Context(), organization(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	out := gin.H{"export": job}
	if job.Status == models.JobSucceeded && job.OutputURI != "" {
		url, err := h.layers.SignedURL(c.Request.Context(), job.OutputURI, true)
		if err != nil {
			writeError(c, err)
			return
		}
		out["download_url"] = url
	}
	response.Success(c, out)
}
