package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
}

// Guards are the authentication collaborators the middlewares need.
type Guards struct {
	Verifier    middleware.TokenVerifier
	Leases      middleware.LeaseValidator
	Attempts    middleware.AttemptReader
	RateLimiter *middleware.RateLimiter
	Log         zerolog.Logger
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, guards *Guards, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware(), response.AccessLog(guards.Log))

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.Use(
		guards.RateLimiter.Middleware(),
		middleware.NoStore(),
		middleware.Brotli(cfg.BrotliQuality, middleware.DefaultBrotliMinLength),
	)

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	auth := api.Group("/auth")
	{
		auth.POST("/login", handlers.Auth.Login)
		auth.POST("/logout", middleware.RequireAnyToken(guards.Verifier), handlers.Auth.Logout)
	}

	// ─── 2. Attempt Group ──────────────────────────────────────────────
	// Start and current take the identity token. Routes under :id need the
	// exam credential and a live lease while the attempt is in progress;
	// a terminal attempt is readable with either token.
	attempts := api.Group("/attempts")
	{
		attempts.POST("/start", middleware.RequireCandidateJWT(guards.Verifier), handlers.Attempt.Start)
		attempts.GET("/current", middleware.RequireCandidateJWT(guards.Verifier), handlers.Attempt.Current)

		attempt := attempts.Group("/:id")
		attempt.Use(
			middleware.RequireAnyToken(guards.Verifier),
			middleware.CheckAttemptSession(guards.Leases, guards.Attempts),
		)
		{
			attempt.GET("", handlers.Attempt.Get)
			attempt.GET("/questions", handlers.Attempt.Questions)
			attempt.POST("/save", handlers.Attempt.Save)
			attempt.POST("/cheating-event", handlers.Attempt.CheatingEvent)
			attempt.POST("/submit", handlers.Attempt.Submit)
		}
	}

	// ─── 3. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireExamCredential(guards.Verifier),
		middleware.CheckSingleSession(guards.Leases),
	)
	{
		ws.GET("/attempts/:id/stream", handlers.WS.AttemptStream)
	}

	return router
}
