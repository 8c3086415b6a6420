package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/egida/backend/pkg/apperr"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err})
}

// Conflict sends 409.
func Conflict(c *gin.Context, err string) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}

// Error maps a domain error to its HTTP status and sends the envelope.
// Non-domain errors become an opaque 500.
func Error(c *gin.Context, err error) {
	var de *apperr.Error
	if !errors.As(err, &de) {
		c.JSON(http.StatusInternalServerError, Body{Success: false, Error: "internal error"})
		return
	}
	status := http.StatusBadRequest
	switch de.Kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindAccessDenied, apperr.KindForbidden, apperr.KindInsufficientRole:
		status = http.StatusForbidden
	case apperr.KindConflict:
		status = http.StatusConflict
	}
	c.JSON(status, Body{Success: false, Error: de.Message, Code: string(de.Kind)})
}
