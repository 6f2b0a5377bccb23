package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/telemetry"
)

// counterRetention keeps a violation counter around past the attempt's end.
const counterRetention = time.Hour

var violationWarnings = map[model.ViolationType]string{
	model.ViolationTabChange:      "Anda terdeteksi berpindah tab.",
	model.ViolationWindowBlur:     "Jendela ujian kehilangan fokus.",
	model.ViolationFullscreenExit: "Anda keluar dari mode layar penuh.",
	model.ViolationCopyPaste:      "Aktivitas salin/tempel tidak diizinkan.",
	model.ViolationDevtoolsOpen:   "Developer tools terdeteksi terbuka.",
	model.ViolationMultipleFaces:  "Terdeteksi lebih dari satu wajah.",
	model.ViolationOther:          "Aktivitas mencurigakan terdeteksi.",
}

// Warning returns the candidate-facing message for a violation.
func Warning(t model.ViolationType, count, threshold int) string {
	msg, ok := violationWarnings[t]
	if !ok {
		msg = violationWarnings[model.ViolationOther]
	}
	if count >= threshold {
		return msg + " Ujian Anda dikumpulkan otomatis."
	}
	return fmt.Sprintf("%s Sisa peringatan: %d.", msg, threshold-count)
}

// IntegrityService records violations and auto-submits once an attempt
// reaches the configured threshold.
type IntegrityService struct {
	threshold int
	attempts  AttemptStore
	counter   ViolationCounter
	lifecycle *AttemptService
	metrics   *telemetry.Metrics
	now       Clock
	log       zerolog.Logger
}

// NewIntegrityService creates a new IntegrityService.
func NewIntegrityService(
	threshold int,
	attempts AttemptStore,
	counter ViolationCounter,
	lifecycle *AttemptService,
	metrics *telemetry.Metrics,
	log zerolog.Logger,
) *IntegrityService {
	return &IntegrityService{
		threshold: threshold,
		attempts:  attempts,
		counter:   counter,
		lifecycle: lifecycle,
		metrics:   metrics,
		now:       time.Now,
		log:       log.With().Str("component", "integrity_service").Logger(),
	}
}

type appendResult struct {
	count  int
	status model.AttemptStatus
}

// RecordViolation appends the event to the attempt's log and bumps the
// atomic counter. The caller whose increment reaches the threshold drives
// the integrity auto-submit; the status compare-and-set makes it happen once.
// Events on a terminal attempt are still logged for audit and change nothing.
func (s *IntegrityService) RecordViolation(ctx context.Context, candidateID int, attemptID uuid.UUID, req model.CheatingEventRequest) (*model.ViolationResult, error) {
	a, err := s.lifecycle.load(ctx, candidateID, attemptID)
	if err != nil {
		return nil, err
	}

	ev := model.ViolationEvent{Type: req.Type, Detail: req.Detail, RecordedAt: s.now()}

	appended, err := retry(ctx, func() (appendResult, error) {
		count, status, err := s.attempts.AppendViolation(ctx, a.ID, ev)
		return appendResult{count: count, status: status}, err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Append violation failed")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.metrics.ViolationRecorded(ctx, string(req.Type))

	if appended.status.Terminal() {
		return &model.ViolationResult{
			Count:     appended.count,
			Threshold: s.threshold,
			Warning:   Warning(req.Type, appended.count, s.threshold),
			Status:    appended.status,
		}, nil
	}

	count := s.increment(ctx, a, appended.count)
	result := &model.ViolationResult{
		Count:     count,
		Threshold: s.threshold,
		Warning:   Warning(req.Type, count, s.threshold),
		Status:    model.AttemptInProgress,
	}

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("type", string(req.Type)).
		Int("count", count).
		Msg("Violation recorded")

	if count < s.threshold {
		return result, nil
	}

	final, err := s.lifecycle.terminate(ctx, a, model.AttemptAutoSubmittedIntegrity, model.TerminationIntegrity)
	if err != nil {
		return nil, err
	}
	result.Status = final.Status
	result.AutoSubmitted = final.Status == model.AttemptAutoSubmittedIntegrity
	return result, nil
}

// increment bumps the Redis counter and returns the larger of it and the
// persisted count. If the counter stays unreachable the persisted count is
// used alone.
func (s *IntegrityService) increment(ctx context.Context, a *model.Attempt, persisted int) int {
	ttl := a.EndsAt.Sub(s.now()) + counterRetention
	if ttl < counterRetention {
		ttl = counterRetention
	}

	n, err := retry(ctx, func() (int64, error) {
		return s.counter.Increment(ctx, a.ID, ttl)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Violation counter unavailable, using persisted count")
		return persisted
	}
	return max(int(n), persisted)
}
