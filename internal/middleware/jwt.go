package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// TokenVerifier parses bearer tokens into claims.
type TokenVerifier interface {
	Verify(token string) (*service.Claims, error)
}

// RequireCandidateJWT accepts only the identity token issued at login.
func RequireCandidateJWT(verifier TokenVerifier) gin.HandlerFunc {
	return requireTokenType(verifier, service.TokenTypeCandidate, response.ErrCandidateTokenOnly)
}

// RequireExamCredential accepts only the exam credential issued by start.
// The token may come from the Authorization header or ?token= for WebSocket
// upgrades, which cannot carry headers from the browser.
func RequireExamCredential(verifier TokenVerifier) gin.HandlerFunc {
	return requireTokenType(verifier, service.TokenTypeExam, response.ErrExamTokenOnly)
}

// RequireAnyToken accepts either token type. Used by logout.
func RequireAnyToken(verifier TokenVerifier) gin.HandlerFunc {
	return requireTokenType(verifier, "", "")
}

func requireTokenType(verifier TokenVerifier, want service.TokenType, wrongType response.ErrCode) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractToken(c)
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := verifier.Verify(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if want != "" && claims.TokenType != want {
			response.AbortFail(c, http.StatusForbidden, wrongType)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return c.Query("token")
}
