package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fileflow/internal/fileflow"
	"fileflow/internal/staging"
)

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, staging.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, fileflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fileflow.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, fileflow.ErrInvalidCredentials), errors.Is(err, fileflow.ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, fileflow.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, fileflow.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, fileflow.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError responds with the mapped status. Internal errors are logged
// and not echoed to the client.
func writeError(c *gin.Context, logger fileflow.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		logger.Error("request failed", "path", c.FullPath(), "error", err)
		msg = "internal error"
	case http.StatusServiceUnavailable:
		logger.Error("storage unavailable", "path", c.FullPath(), "error", err)
		msg = "storage unavailable"
	case http.StatusUnauthorized:
		// Never say which half of a login was wrong.
		if errors.Is(err, fileflow.ErrInvalidCredentials) {
			msg = fileflow.ErrInvalidCredentials.Error()
		} else {
			msg = fileflow.ErrInvalidCredential.Error()
		}
	}
	c.JSON(status, gin.H{"error": msg})
}
