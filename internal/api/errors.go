package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error      string            `json:"error"`
	Category   string            `json:"category,omitempty"`
	Code       string            `json:"code,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    apperrors.Context `json:"context,omitempty"`
}

// StatusFor maps an error category to an HTTP status
func StatusFor(err error) int {
	rerr, ok := apperrors.AsReconcilerError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if rerr.Code == apperrors.CodeFileTooLarge {
		return http.StatusRequestEntityTooLarge
	}
	switch rerr.Category {
	case apperrors.CategoryValidation, apperrors.CategoryParse, apperrors.CategoryFile:
		return http.StatusUnprocessableEntity
	case apperrors.CategoryNotFound:
		return http.StatusNotFound
	case apperrors.CategoryBusinessRule:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func uploadTooLarge(limit int64, err error) *apperrors.ReconcilerError {
	return apperrors.FileError(apperrors.CodeFileTooLarge, "upload", err).
		WithContext("limit_bytes", limit)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	body := ErrorResponse{Error: err.Error()}

	if rerr, ok := apperrors.AsReconcilerError(err); ok {
		body.Error = rerr.Message
		body.Category = string(rerr.Category)
		body.Code = string(rerr.Code)
		body.Suggestion = rerr.Suggestion
		body.Context = rerr.Context
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(logger.Fields{
			"path":   c.FullPath(),
			"tenant": tenant(c),
		}).Error("Request failed")
		body.Context = nil
	}
	c.AbortWithStatusJSON(status, body)
}
