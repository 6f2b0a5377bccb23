package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

// Authenticator checks candidate credentials and issues the identity token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, *model.Candidate, error)
}

// SessionReleaser ends a candidate's exam session.
type SessionReleaser interface {
	Release(ctx context.Context, candidateID int, token string) error
	Logout(ctx context.Context, candidateID int) error
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	auth     Authenticator
	sessions SessionReleaser
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth Authenticator, sessions SessionReleaser) *AuthHandler {
	return &AuthHandler{auth: auth, sessions: sessions}
}

// Login godoc
// POST /api/v1/auth/login
// Validates email + password and returns the identity token used to start
// an attempt.
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.CandidateLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, candidate, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredential) {
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token":     token,
		"candidate": candidate,
	})
}

// Logout godoc
// POST /api/v1/auth/logout
// Releases the exam session lease. With an exam credential only that
// session is released; with the identity token whichever session the
// candidate holds is. Idempotent.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var err error
	if claims.TokenType == service.TokenTypeExam {
		err = h.sessions.Release(c.Request.Context(), claims.CandidateID, claims.ID)
	} else {
		err = h.sessions.Logout(c.Request.Context(), claims.CandidateID)
	}
	if err != nil {
		status, code := response.FromError(err)
		response.Fail(c, status, code)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}
