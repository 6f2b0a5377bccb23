package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

// AttemptLifecycle is the attempt surface exposed over HTTP and WebSocket.
type AttemptLifecycle interface {
	Start(ctx context.Context, candidateID int) (*model.StartResult, error)
	Current(ctx context.Context, candidateID int) (*model.Attempt, error)
	Get(ctx context.Context, candidateID int, attemptID uuid.UUID) (*model.Attempt, error)
	Paper(ctx context.Context, candidateID int, attemptID uuid.UUID) ([]model.QuestionForCandidate, error)
	SaveAnswer(ctx context.Context, candidateID int, attemptID uuid.UUID, req model.SaveAnswerRequest) (*model.Answer, error)
	Submit(ctx context.Context, candidateID int, attemptID uuid.UUID) (*model.Attempt, error)
}

// ViolationRecorder records integrity events.
type ViolationRecorder interface {
	RecordViolation(ctx context.Context, candidateID int, attemptID uuid.UUID, req model.CheatingEventRequest) (*model.ViolationResult, error)
}

// AttemptHandler handles the candidate exam endpoints.
type AttemptHandler struct {
	attempts  AttemptLifecycle
	integrity ViolationRecorder
	log       zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts AttemptLifecycle, integrity ViolationRecorder, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts:  attempts,
		integrity: integrity,
		log:       log.With().Str("component", "attempt_handler").Logger(),
	}
}

// Start godoc
// POST /api/v1/attempts/start
// Admits the candidate and creates the attempt, or resumes it. Returns the
// exam credential that authorizes every other attempt endpoint.
func (h *AttemptHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)

	result, err := h.attempts.Start(c.Request.Context(), claims.CandidateID)
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusCreated
	if result.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, result)
}

// Current godoc
// GET /api/v1/attempts/current
// Returns today's attempt for the identity token's candidate.
func (h *AttemptHandler) Current(c *gin.Context) {
	a, err := h.attempts.Current(c.Request.Context(), middleware.GetClaims(c).CandidateID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

// Get godoc
// GET /api/v1/attempts/:id
func (h *AttemptHandler) Get(c *gin.Context) {
	attemptID, ok := parseAttemptID(c)
	if !ok {
		return
	}

	a, err := h.attempts.Get(c.Request.Context(), middleware.GetClaims(c).CandidateID, attemptID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

// Questions godoc
// GET /api/v1/attempts/:id/questions
// Returns the attempt's fixed paper without answer keys.
func (h *AttemptHandler) Questions(c *gin.Context) {
	attemptID, ok := parseAttemptID(c)
	if !ok {
		return
	}

	paper, err := h.attempts.Paper(c.Request.Context(), middleware.GetClaims(c).CandidateID, attemptID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"questions": paper})
}

// Save godoc
// POST /api/v1/attempts/:id/save
func (h *AttemptHandler) Save(c *gin.Context) {
	attemptID, ok := parseAttemptID(c)
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ans, err := h.attempts.SaveAnswer(c.Request.Context(), middleware.GetClaims(c).CandidateID, attemptID, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, ans)
}

// CheatingEvent godoc
// POST /api/v1/attempts/:id/cheating-event
// Records an integrity violation. Reaching the threshold auto-submits.
func (h *AttemptHandler) CheatingEvent(c *gin.Context) {
	attemptID, ok := parseAttemptID(c)
	if !ok {
		return
	}

	var req model.CheatingEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.integrity.RecordViolation(c.Request.Context(), middleware.GetClaims(c).CandidateID, attemptID, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Submit godoc
// POST /api/v1/attempts/:id/submit
// Idempotent: a second submit returns the stored result.
func (h *AttemptHandler) Submit(c *gin.Context) {
	attemptID, ok := parseAttemptID(c)
	if !ok {
		return
	}

	a, err := h.attempts.Submit(c.Request.Context(), middleware.GetClaims(c).CandidateID, attemptID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

func (h *AttemptHandler) fail(c *gin.Context, err error) {
	status, code := response.FromError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	response.Fail(c, status, code)
}

func parseAttemptID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
