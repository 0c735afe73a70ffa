// Package response writes the JSON envelope shared by every API route.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response represents a standard API response. Code is 0 on success and the
// HTTP status otherwise.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func write(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Code: 0, Message: "success", Data: data})
}

// Success sends a 200 response
func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, data)
}

// Created sends a 201 response for a stored resource
func Created(c *gin.Context, data interface{}) {
	write(c, http.StatusCreated, data)
}

// Accepted sends a 202 response for queued work
func Accepted(c *gin.Context, data interface{}) {
	write(c, http.StatusAccepted, data)
}

// Error sends an error response
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Response{Code: status, Message: message})
}

// Abort sends an error response and stops the handler chain. Used by
// middleware.
func Abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{Code: status, Message: message})
}

// BadRequest sends a 400 bad request response
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

// NotFound sends a 404 not found response
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

// Unprocessable sends a 422 response for well-formed but invalid input
func Unprocessable(c *gin.Context, message string) {
	Error(c, http.StatusUnprocessableEntity, message)
}

// InternalError sends a 500 internal server error response
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}
