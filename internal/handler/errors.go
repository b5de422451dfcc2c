package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/flicky/marketplace-api/internal/auth"
	"github.com/flicky/marketplace-api/internal/dto"
	"github.com/flicky/marketplace-api/internal/middleware"
	"github.com/flicky/marketplace-api/internal/service"
)

var errInvalidID = errors.New("invalid id")

// respondError maps err to a status and an {"Error": ...} body.
func respondError(c *gin.Context, err error) {
	var svcErr *service.Error
	var authErr *auth.Error
	switch {
	case errors.As(err, &svcErr):
		c.JSON(statusFor(svcErr), gin.H{"Error": svcErr.Message})
	case errors.Is(err, dto.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{"Error": dto.MalformedMessage})
	case errors.Is(err, errInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"Error": err.Error()})
	case errors.As(err, &authErr):
		middleware.AbortUnauthorized(c, authErr)
	default:
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"Error": "internal server error"})
	}
}

func statusFor(err *service.Error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func parseID(c *gin.Context, param string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}
