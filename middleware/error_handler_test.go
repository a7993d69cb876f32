package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/QACrew/qa-assistant-backend/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupErrorRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/test", handler)
	return r
}

func performRequest(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	r.ServeHTTP(w, req)
	return w
}

func TestErrorHandler_AppError(t *testing.T) {
	tests := []struct {
		name        string
		err         *apperrors.AppError
		wantStatus  int
		wantType    string
		wantDetails bool
	}{
		{
			name:        "validation error includes details",
			err:         apperrors.ValidationFailed("invalid test type", "unknown test type: perf"),
			wantStatus:  http.StatusBadRequest,
			wantType:    string(apperrors.ValidationError),
			wantDetails: true,
		},
		{
			name:        "not found error includes details",
			err:         apperrors.EndpointNotFound("payments-api"),
			wantStatus:  http.StatusNotFound,
			wantType:    string(apperrors.NotFoundError),
			wantDetails: true,
		},
		{
			name:        "conflict error includes details",
			err:         apperrors.RunAlreadyActive("api"),
			wantStatus:  http.StatusConflict,
			wantType:    string(apperrors.ConflictError),
			wantDetails: true,
		},
		{
			name:       "runner error hides details outside debug",
			err:        apperrors.NewRunnerError(errors.New("exec failed"), "Test execution failed"),
			wantStatus: http.StatusInternalServerError,
			wantType:   string(apperrors.RunnerError),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupErrorRouter(func(c *gin.Context) {
				_ = c.Error(tt.err)
			})

			w := performRequest(r)
			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, tt.err.Message, body["message"])
			_, hasDetails := body["details"]
			assert.Equal(t, tt.wantDetails, hasDetails)
		})
	}
}

func TestErrorHandler_UnknownError(t *testing.T) {
	r := setupErrorRouter(func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
	})

	w := performRequest(r)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.ServerError), body["type"])
	assert.Equal(t, "Internal Server Error", body["message"])
}

func TestErrorHandler_NoError(t *testing.T) {
	r := setupErrorRouter(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := performRequest(r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
