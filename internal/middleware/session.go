package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// LeaseValidator confirms a credential's lease token is still the live one.
type LeaseValidator interface {
	Validate(ctx context.Context, candidateID int, token string) error
}

// AttemptReader loads an attempt owned by the candidate.
type AttemptReader interface {
	Get(ctx context.Context, candidateID int, attemptID uuid.UUID) (*model.Attempt, error)
}

// CheckSingleSession rejects exam credentials whose lease was released or
// replaced. The credential's jti is the lease token.
func CheckSingleSession(leases LeaseValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if err := leases.Validate(c.Request.Context(), claims.CandidateID, claims.ID); err != nil {
			abortLeaseError(c, err)
			return
		}

		c.Next()
	}
}

// CheckAttemptSession guards the /attempts/:id routes. While the attempt is
// in progress it requires an exam credential holding the live lease. Once the
// attempt is terminal the lease is gone, so any credential of the owning
// candidate is let through and the service answers with the stored result.
// Must run after RequireAnyToken.
func CheckAttemptSession(leases LeaseValidator, attempts AttemptReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		ctx := c.Request.Context()

		var leaseErr error
		if claims.TokenType == service.TokenTypeExam {
			leaseErr = leases.Validate(ctx, claims.CandidateID, claims.ID)
			if leaseErr == nil {
				c.Next()
				return
			}
			if errors.Is(leaseErr, service.ErrStoreUnavailable) {
				abortLeaseError(c, leaseErr)
				return
			}
		}

		attemptID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}

		a, err := attempts.Get(ctx, claims.CandidateID, attemptID)
		if err != nil {
			status, code := response.FromError(err)
			response.AbortFail(c, status, code)
			return
		}
		if a.Status.Terminal() {
			c.Next()
			return
		}

		if leaseErr != nil {
			abortLeaseError(c, leaseErr)
			return
		}
		response.AbortFail(c, http.StatusForbidden, response.ErrExamTokenOnly)
	}
}

func abortLeaseError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrStoreUnavailable) {
		response.AbortFail(c, http.StatusServiceUnavailable, response.ErrStoreUnavailable)
		return
	}
	response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
}
