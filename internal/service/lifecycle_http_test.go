package service_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/router"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	validator.Setup()
}

type api struct {
	t      *testing.T
	h      *service.Harness
	router *gin.Engine
}

func newAPI(t *testing.T) *api {
	h := service.NewHarness(t)
	log := zerolog.Nop()

	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(h.Auth(), h.Admission()),
		Attempt: handler.NewAttemptHandler(h.Attempts(), h.Integrity(), log),
		WS:      handler.NewWSHandler(h.Attempts(), h.Integrity(), h.Admission(), log, nil),
	}
	guards := &router.Guards{
		Verifier:    h.Auth(),
		Leases:      h.Admission(),
		Attempts:    h.Attempts(),
		RateLimiter: middleware.NewRateLimiter(1000, 1000),
		Log:         log,
	}
	cfg := &config.Config{GinMode: gin.TestMode, BrotliQuality: 5}

	return &api{t: t, h: h, router: router.SetupRouter(handlers, guards, cfg)}
}

// call performs a request and decodes the envelope's data into out.
func (a *api) call(method, path, token string, body, out interface{}) (int, *response.ErrorBody) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env struct {
		Data  json.RawMessage     `json:"data"`
		Error *response.ErrorBody `json:"error"`
	}
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env))
	if out != nil && env.Error == nil {
		require.NoError(a.t, json.Unmarshal(env.Data, out))
	}
	return w.Code, env.Error
}

func (a *api) login() string {
	a.t.Helper()
	var out struct {
		Token string `json:"token"`
	}
	code, _ := a.call(http.MethodPost, "/auth/login", "", gin.H{"email": "sari@example.com", "password": service.TestPassword}, &out)
	require.Equal(a.t, http.StatusOK, code)
	return out.Token
}

func (a *api) start(identity string) *model.StartResult {
	a.t.Helper()
	var out model.StartResult
	code, errBody := a.call(http.MethodPost, "/attempts/start", identity, nil, &out)
	require.Equal(a.t, http.StatusCreated, code, "%+v", errBody)
	return &out
}

func TestSubmittedAttemptStaysReachable(t *testing.T) {
	a := newAPI(t)
	identity := a.login()
	started := a.start(identity)
	exam := started.Token
	path := "/attempts/" + started.Attempt.ID.String()

	q := started.Attempt.QuestionIDs[0]
	correct := a.h.CorrectIndex(q)
	code, _ := a.call(http.MethodPost, path+"/save", exam, gin.H{"question_id": q, "selected_index": correct}, nil)
	require.Equal(t, http.StatusOK, code)

	var first model.Attempt
	code, _ = a.call(http.MethodPost, path+"/submit", exam, nil, &first)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.AttemptSubmitted, first.Status)
	require.NotNil(t, first.FinalScore)
	assert.Equal(t, 3, *first.FinalScore)

	t.Run("second submit returns the stored result", func(t *testing.T) {
		var again model.Attempt
		code, errBody := a.call(http.MethodPost, path+"/submit", exam, nil, &again)
		require.Equal(t, http.StatusOK, code, "%+v", errBody)
		assert.Equal(t, model.AttemptSubmitted, again.Status)
		require.NotNil(t, again.FinalScore)
		assert.Equal(t, *first.FinalScore, *again.FinalScore)
		assert.Equal(t, first.SubmittedAt, again.SubmittedAt)
	})

	t.Run("get is a read-only view", func(t *testing.T) {
		var view model.Attempt
		code, _ := a.call(http.MethodGet, path, exam, nil, &view)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, model.AttemptSubmitted, view.Status)
		assert.Len(t, view.Answers, 1)
	})

	t.Run("violation is kept for audit only", func(t *testing.T) {
		var res model.ViolationResult
		code, _ := a.call(http.MethodPost, path+"/cheating-event", exam, gin.H{"type": "tabChange"}, &res)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, model.AttemptSubmitted, res.Status)
		assert.False(t, res.AutoSubmitted)
		assert.Equal(t, 1, res.Count)
	})

	t.Run("save is rejected as terminal", func(t *testing.T) {
		code, errBody := a.call(http.MethodPost, path+"/save", exam, gin.H{"question_id": q, "selected_index": 0}, nil)
		assert.Equal(t, http.StatusConflict, code)
		require.NotNil(t, errBody)
		assert.Equal(t, response.ErrAttemptTerminal, errBody.Code)
	})

	t.Run("identity token reads the result", func(t *testing.T) {
		var view model.Attempt
		code, _ := a.call(http.MethodGet, path, identity, nil, &view)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, 3, *view.FinalScore)

		var current model.Attempt
		code, _ = a.call(http.MethodGet, "/attempts/current", identity, nil, &current)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, started.Attempt.ID, current.ID)
		assert.Equal(t, model.AttemptSubmitted, current.Status)
	})

	t.Run("start again is rejected", func(t *testing.T) {
		code, errBody := a.call(http.MethodPost, "/attempts/start", identity, nil, nil)
		assert.Equal(t, http.StatusConflict, code)
		require.NotNil(t, errBody)
		assert.Equal(t, response.ErrAlreadySubmitted, errBody.Code)
	})
}

func TestIntegritySubmittedAttemptStaysReachable(t *testing.T) {
	a := newAPI(t)
	identity := a.login()
	started := a.start(identity)
	exam := started.Token
	path := "/attempts/" + started.Attempt.ID.String()

	var res model.ViolationResult
	for i := 1; i <= 3; i++ {
		code, _ := a.call(http.MethodPost, path+"/cheating-event", exam, gin.H{"type": "tabChange"}, &res)
		require.Equal(t, http.StatusOK, code)
	}
	assert.True(t, res.AutoSubmitted)
	assert.Equal(t, model.AttemptAutoSubmittedIntegrity, res.Status)

	code, _ := a.call(http.MethodPost, path+"/cheating-event", exam, gin.H{"type": "windowBlur"}, &res)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 4, res.Count)
	assert.False(t, res.AutoSubmitted)
	assert.Equal(t, model.AttemptAutoSubmittedIntegrity, res.Status)

	var stored model.Attempt
	code, _ = a.call(http.MethodPost, path+"/submit", exam, nil, &stored)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.AttemptAutoSubmittedIntegrity, stored.Status)
	assert.Equal(t, model.TerminationIntegrity, stored.TerminationReason)
	require.NotNil(t, stored.FinalScore)
	assert.Equal(t, 0, *stored.FinalScore)
	assert.Len(t, stored.Violations, 4)
}

func TestInProgressAttemptNeedsLiveLease(t *testing.T) {
	a := newAPI(t)
	identity := a.login()
	started := a.start(identity)
	path := "/attempts/" + started.Attempt.ID.String()

	code, errBody := a.call(http.MethodGet, path, identity, nil, nil)
	assert.Equal(t, http.StatusForbidden, code)
	require.NotNil(t, errBody)
	assert.Equal(t, response.ErrExamTokenOnly, errBody.Code)

	code, _ = a.call(http.MethodPost, "/auth/logout", started.Token, nil, nil)
	require.Equal(t, http.StatusOK, code)

	code, errBody = a.call(http.MethodPost, path+"/submit", started.Token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, errBody)
	assert.Equal(t, response.ErrSessionInvalidated, errBody.Code)

	// Resuming from a new session issues a credential that works again.
	var resumed model.StartResult
	code, _ = a.call(http.MethodPost, "/attempts/start", identity, nil, &resumed)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resumed.Resumed)

	var view model.Attempt
	code, _ = a.call(http.MethodGet, path, resumed.Token, nil, &view)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.AttemptInProgress, view.Status)
}
