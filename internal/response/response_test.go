package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestFromError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   ErrCode
	}{
		{service.ErrSessionAlreadyActive, http.StatusConflict, ErrSessionActive},
		{fmt.Errorf("wrapped: %w", service.ErrTimeExpired), http.StatusGone, ErrTimeExpired},
		{fmt.Errorf("%w: redis down", service.ErrStoreUnavailable), http.StatusServiceUnavailable, ErrStoreUnavailable},
		{service.ErrNotAttemptOwner, http.StatusForbidden, ErrNotAttemptOwner},
		{fmt.Errorf("boom"), http.StatusInternalServerError, ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code := FromError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestEnvelope(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestIDMiddleware(), AccessLog(zerolog.New(&buf)))
	r.GET("/ok", func(c *gin.Context) { Success(c, http.StatusOK, gin.H{"a": 1}) })
	r.GET("/bad", func(c *gin.Context) {
		FailWithFields(c, http.StatusBadRequest, ErrValidation, map[string]string{"type": "required"})
	})

	t.Run("success keeps caller request id", func(t *testing.T) {
		id := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set("X-Request-ID", id)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		var body Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Nil(t, body.Error)
		assert.Equal(t, id, body.Metadata.RequestID)
		assert.Equal(t, id, w.Header().Get("X-Request-ID"))
		assert.NotEmpty(t, body.Metadata.Timestamp)
	})

	t.Run("failure carries fields and a fresh id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/bad", nil)
		req.Header.Set("X-Request-ID", "not a uuid")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		var body Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.NotNil(t, body.Error)
		assert.Equal(t, ErrValidation, body.Error.Code)
		assert.Equal(t, "required", body.Error.Fields["type"])
		_, err := uuid.Parse(body.Metadata.RequestID)
		assert.NoError(t, err)
	})

	assert.Contains(t, buf.String(), `"path":"/bad"`)
	assert.Contains(t, buf.String(), `"status":400`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}
