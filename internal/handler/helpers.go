package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/jarvis/internal/pkg/errs"
	"github.com/xxxsen/jarvis/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, errs.ErrInvalid):
		response.Error(c, http.StatusUnprocessableEntity, "invalid", err.Error())
	case errors.Is(err, errs.ErrUnsupportedFormat):
		response.Error(c, http.StatusUnsupportedMediaType, "unsupported_format", err.Error())
	case errors.Is(err, errs.ErrNotFound):
		response.Error(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		response.Error(c, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, errs.ErrModelUnavailable):
		response.Error(c, http.StatusServiceUnavailable, "model_unavailable", err.Error())
	case errors.Is(err, errs.ErrConnectivity):
		response.Error(c, http.StatusBadGateway, "upstream_unavailable", err.Error())
	case errors.Is(err, errs.ErrTooMany):
		response.Error(c, http.StatusTooManyRequests, "too_many_requests", err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, "internal", "internal error")
	}
}
