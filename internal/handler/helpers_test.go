package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/jarvis/internal/pkg/errs"
	"github.com/xxxsen/jarvis/internal/pkg/response"
)

func TestHandleError_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: bad input", errs.ErrInvalid), http.StatusUnprocessableEntity, "invalid"},
		{fmt.Errorf("%w: file.csv", errs.ErrUnsupportedFormat), http.StatusUnsupportedMediaType, "unsupported_format"},
		{fmt.Errorf("%w: doc", errs.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: key", errs.ErrUnauthorized), http.StatusUnauthorized, "unauthorized"},
		{fmt.Errorf("%w: ollama down", errs.ErrModelUnavailable), http.StatusServiceUnavailable, "model_unavailable"},
		{fmt.Errorf("%w: db down", errs.ErrConnectivity), http.StatusBadGateway, "upstream_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest("GET", "/test", nil)
			handleError(c, tc.err)

			require.Equal(t, tc.status, w.Code)
			var body response.APIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.Equal(t, tc.status, body.StatusCode)
			require.Equal(t, tc.code, body.Error)
			require.NotEmpty(t, body.Detail)
		})
	}
}

func TestHandleError_InternalDetailNotLeaked(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/test", nil)
	handleError(c, errors.New("password=hunter2 connection refused"))

	require.NotContains(t, w.Body.String(), "hunter2")
}
