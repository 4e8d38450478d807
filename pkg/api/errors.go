package api

import (
	"net/http"

	"github.com/core-tools/hsu-launcher/pkg/errors"

	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeValidation, errors.ErrorTypeConfiguration:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeConflict, errors.ErrorTypeAlreadyStarting:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError answers with {"detail": message}
func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"detail": errors.MessageOf(err)})
}
