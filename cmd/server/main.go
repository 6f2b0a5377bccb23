package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/mailer"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/router"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/telemetry"
	"github.com/stemsi/exstem-attempt/internal/validator"
	"github.com/stemsi/exstem-attempt/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, "exstem-attempt")

	if err := cfg.Exam.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid exam configuration")
	}

	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Time("exam_start", cfg.Exam.Start).
		Time("exam_end", cfg.Exam.End).
		Dur("duration", cfg.Exam.Duration).
		Msg("Starting ExStem attempt service")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Metrics ───────────────────────────────────────────────────────
	metrics, err := telemetry.Setup(ctx, cfg.AppName, cfg.OTLPEndpoint, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up metrics")
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	candidateRepo := repository.NewCandidateRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	leaseRepo := repository.NewLeaseRepository(rdb)
	counterRepo := repository.NewViolationCounterRepository(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	notifier := service.NewQueueNotifier(rdb, log)
	authService := service.NewAuthService(cfg, candidateRepo)
	admissionService := service.NewAdmissionService(cfg.Exam, authService, leaseRepo, metrics, log)
	attemptService := service.NewAttemptService(cfg.Exam, admissionService, attemptRepo, questionRepo, leaseRepo, notifier, metrics, log)
	integrityService := service.NewIntegrityService(cfg.Exam.ViolationThreshold, attemptRepo, counterRepo, attemptService, metrics, log)

	var sender mailer.Sender
	if cfg.SendGridAPIKey != "" {
		sender = mailer.NewSendGridSender(cfg.SendGridAPIKey, cfg.AppName, cfg.MailFrom)
	} else {
		log.Warn().Msg("SENDGRID_API_KEY not set, notifications are logged only")
		sender = mailer.NewLogSender(log)
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService, admissionService),
		Attempt: handler.NewAttemptHandler(attemptService, integrityService, log),
		WS:      handler.NewWSHandler(attemptService, integrityService, admissionService, log, cfg.AllowedOrigins),
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	guards := &router.Guards{
		Verifier:    authService,
		Leases:      admissionService,
		Attempts:    attemptService,
		RateLimiter: rateLimiter,
		Log:         log,
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	notificationWorker := worker.NewNotificationWorker(rdb, candidateRepo, sender, log)
	expiryReaper := worker.NewExpiryReaper(attemptService, cfg.Exam.ReaperInterval, log)

	workers.Add(3)
	go func() {
		defer workers.Done()
		notificationWorker.Start(workerCtx)
	}()
	go func() {
		defer workers.Done()
		expiryReaper.Start(workerCtx)
	}()
	go func() {
		defer workers.Done()
		cleanupVisitors(workerCtx, rateLimiter)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, guards, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the notification queue to drain.
	workerCancel()
	workers.Wait()

	// 3. Flush metrics.
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Metrics shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}

// cleanupVisitors evicts idle rate limiter entries once a minute.
func cleanupVisitors(ctx context.Context, rl *middleware.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
