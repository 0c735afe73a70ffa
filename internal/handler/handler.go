// Package handler holds the gin handlers of the parcel analytics API.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/fieldscan-backend-go/internal/apperr"
	"github.com/jengzang/fieldscan-backend-go/internal/middleware"
	"github.com/jengzang/fieldscan-backend-go/pkg/response"
)

func organization(c *gin.Context) string {
	return c.GetString(middleware.OrganizationKey)
}

// pathID parses a positive integer path parameter
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery(name, strconv.Itoa(def)))
	if err != nil || v < 0 {
		return def
	}
	return v
}

// writeError maps error codes to HTTP statuses
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound:
		response.NotFound(c, err.Error())
	case apperr.CodeInvalidGeometry, apperr.CodeInvalidConfig:
		response.Unprocessable(c, err.Error())
	case apperr.CodeCatalog, apperr.CodeStorage:
		response.Error(c, http.StatusBadGateway, err.Error())
	default:
		response.InternalError(c, err.Error())
	}
}
