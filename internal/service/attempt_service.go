package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/telemetry"
)

// reapBatch bounds how many expired attempts one sweep terminates.
const reapBatch = 500

// AttemptService owns the attempt lifecycle:
// NotStarted → IN_PROGRESS → {SUBMITTED, AUTO_SUBMITTED_TIMEOUT, AUTO_SUBMITTED_INTEGRITY}.
type AttemptService struct {
	exam      config.ExamConfig
	admission *AdmissionService
	attempts  AttemptStore
	bank      QuestionBank
	sampler   *Sampler
	scorer    *Scorer
	leases    LeaseStore
	notifier  Notifier
	metrics   *telemetry.Metrics
	now       Clock
	log       zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	exam config.ExamConfig,
	admission *AdmissionService,
	attempts AttemptStore,
	bank QuestionBank,
	leases LeaseStore,
	notifier Notifier,
	metrics *telemetry.Metrics,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		exam:      exam,
		admission: admission,
		attempts:  attempts,
		bank:      bank,
		sampler:   NewSampler(bank),
		scorer:    NewScorer(exam.PointsPerCorrect),
		leases:    leases,
		notifier:  notifier,
		metrics:   metrics,
		now:       time.Now,
		log:       log.With().Str("component", "attempt_service").Logger(),
	}
}

// Start admits the candidate and creates or resumes their attempt. Any
// failure after the lease was acquired releases it again.
func (s *AttemptService) Start(ctx context.Context, candidateID int) (*model.StartResult, error) {
	adm, err := s.admission.TryStart(ctx, candidateID)
	if err != nil {
		return nil, err
	}

	result, err := s.startWithLease(ctx, candidateID, adm)
	if err != nil {
		s.admission.release(ctx, candidateID, adm.LeaseToken)
		return nil, err
	}

	s.metrics.AttemptStarted(ctx, result.Resumed)
	s.log.Info().
		Int("candidate_id", candidateID).
		Str("attempt_id", result.Attempt.ID.String()).
		Bool("resumed", result.Resumed).
		Msg("Attempt started")

	if !result.Resumed {
		s.notifier.Notify(ctx, candidateID, attemptEvent(NotificationAttemptStarted, result.Attempt, s.now()))
	}
	return result, nil
}

func (s *AttemptService) startWithLease(ctx context.Context, candidateID int, adm *Admission) (*model.StartResult, error) {
	existing, err := s.attempts.GetByCandidateAndDate(ctx, candidateID, s.exam.Date())
	switch {
	case err == nil:
		return s.resume(ctx, existing, adm)
	case errors.Is(err, repository.ErrNotFound):
		return s.create(ctx, candidateID, adm)
	default:
		return nil, fmt.Errorf("get attempt: %w", err)
	}
}

func (s *AttemptService) resume(ctx context.Context, a *model.Attempt, adm *Admission) (*model.StartResult, error) {
	if a.Status.Terminal() {
		return nil, ErrAlreadySubmitted
	}
	if s.now().After(a.EndsAt) {
		if _, err := s.terminate(ctx, a, model.AttemptAutoSubmittedTimeout, model.TerminationTimeout); err != nil {
			return nil, err
		}
		return nil, ErrTimeExpired
	}

	if err := s.attempts.UpdateLeaseToken(ctx, a.ID, adm.LeaseToken); err != nil {
		if errors.Is(err, repository.ErrNotInProgress) {
			return nil, ErrAlreadySubmitted
		}
		return nil, fmt.Errorf("update lease token: %w", err)
	}
	a.LeaseToken = adm.LeaseToken

	credential, err := s.admission.Align(ctx, a.CandidateID, adm.LeaseToken, a.EndsAt)
	if err != nil {
		return nil, err
	}
	return &model.StartResult{Token: credential, Attempt: a, Resumed: true}, nil
}

func (s *AttemptService) create(ctx context.Context, candidateID int, adm *Admission) (*model.StartResult, error) {
	paper, err := s.sampler.Sample(ctx, s.exam.QuestionCount, s.exam.TierDistribution)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(paper))
	for i, q := range paper {
		ids[i] = q.ID
	}

	now := s.now()
	a := &model.Attempt{
		ID:          uuid.New(),
		CandidateID: candidateID,
		ExamDate:    s.exam.Date(),
		StartedAt:   now,
		EndsAt:      now.Add(s.exam.Duration),
		QuestionIDs: ids,
		Answers:     []model.Answer{},
		Violations:  []model.ViolationEvent{},
		LeaseToken:  adm.LeaseToken,
	}

	if err := s.attempts.Create(ctx, a); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("create attempt: %w", err)
		}
		// Lost a creation race to a request that held an earlier lease.
		existing, err := s.attempts.GetByCandidateAndDate(ctx, candidateID, s.exam.Date())
		if err != nil {
			return nil, fmt.Errorf("get attempt: %w", err)
		}
		return s.resume(ctx, existing, adm)
	}

	credential, err := s.admission.Align(ctx, candidateID, adm.LeaseToken, a.EndsAt)
	if err != nil {
		return nil, err
	}
	return &model.StartResult{Token: credential, Attempt: a}, nil
}

// Get returns the attempt view: answers and violations, never the answer key.
func (s *AttemptService) Get(ctx context.Context, candidateID int, attemptID uuid.UUID) (*model.Attempt, error) {
	return s.load(ctx, candidateID, attemptID)
}

// Current returns the candidate's attempt for the configured exam date,
// whatever its state. It needs no lease, so a candidate whose attempt was
// auto-submitted can still read the result.
func (s *AttemptService) Current(ctx context.Context, candidateID int) (*model.Attempt, error) {
	a, err := s.attempts.GetByCandidateAndDate(ctx, candidateID, s.exam.Date())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// Paper returns the attempt's fixed question list in presentation order,
// stripped of correct answers and explanations.
func (s *AttemptService) Paper(ctx context.Context, candidateID int, attemptID uuid.UUID) ([]model.QuestionForCandidate, error) {
	a, err := s.load(ctx, candidateID, attemptID)
	if err != nil {
		return nil, err
	}

	questions, err := s.bank.ListByIDs(ctx, a.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	paper := make([]model.QuestionForCandidate, 0, len(questions))
	for _, q := range questions {
		paper = append(paper, q.ForCandidate())
	}
	return paper, nil
}

// SaveAnswer records one answer. Saves are last-write-wins by saved-at per
// question; a save timestamp from the future is clamped to now.
func (s *AttemptService) SaveAnswer(ctx context.Context, candidateID int, attemptID uuid.UUID, req model.SaveAnswerRequest) (*model.Answer, error) {
	a, err := s.load(ctx, candidateID, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, ErrAttemptTerminal
	}

	now := s.now()
	if now.After(a.EndsAt) {
		if _, err := s.terminate(ctx, a, model.AttemptAutoSubmittedTimeout, model.TerminationTimeout); err != nil {
			return nil, err
		}
		return nil, ErrTimeExpired
	}
	if !a.HasQuestion(req.QuestionID) {
		return nil, ErrQuestionNotInPaper
	}

	savedAt := now
	if req.SavedAt != nil && req.SavedAt.Before(now) {
		savedAt = *req.SavedAt
	}

	ans := model.Answer{
		QuestionID:      req.QuestionID,
		SelectedIndex:   req.SelectedIndex,
		MarkedForReview: req.MarkedForReview,
		LastSavedAt:     savedAt,
	}

	_, err = retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.attempts.SaveAnswer(ctx, a.ID, ans)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotInProgress) {
			return nil, ErrAttemptTerminal
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Save answer failed")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.metrics.AnswerSaved(ctx)
	return &ans, nil
}

// Submit ends the attempt manually. It is idempotent: a terminal attempt is
// returned as stored. A submit arriving after the end time is recorded as a
// timeout.
func (s *AttemptService) Submit(ctx context.Context, candidateID int, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := s.load(ctx, candidateID, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return a, nil
	}

	if s.now().After(a.EndsAt) {
		return s.terminate(ctx, a, model.AttemptAutoSubmittedTimeout, model.TerminationTimeout)
	}
	return s.terminate(ctx, a, model.AttemptSubmitted, model.TerminationManual)
}

// Expire moves an overdue IN_PROGRESS attempt to AUTO_SUBMITTED_TIMEOUT.
// Attempts that are terminal or not yet due are returned unchanged.
func (s *AttemptService) Expire(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.Status.Terminal() || !s.now().After(a.EndsAt) {
		return a, nil
	}
	return s.terminate(ctx, a, model.AttemptAutoSubmittedTimeout, model.TerminationTimeout)
}

// ReapExpired times out every overdue IN_PROGRESS attempt and reports how
// many this call transitioned.
func (s *AttemptService) ReapExpired(ctx context.Context) (int, error) {
	ids, err := s.attempts.ListExpired(ctx, s.now(), reapBatch)
	if err != nil {
		return 0, fmt.Errorf("list expired attempts: %w", err)
	}

	reaped := 0
	for _, id := range ids {
		a, err := s.Expire(ctx, id)
		if err != nil {
			s.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Failed to expire attempt")
			continue
		}
		if a.Status == model.AttemptAutoSubmittedTimeout {
			reaped++
		}
	}
	return reaped, nil
}

// ReconcileLeases releases leases whose attempt is already terminal and logs
// IN_PROGRESS attempts that have no lease left.
func (s *AttemptService) ReconcileLeases(ctx context.Context) (int, error) {
	leases, err := s.leases.Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("scan leases: %w", err)
	}

	released := 0
	for candidateID, token := range leases {
		a, err := s.attempts.GetByCandidateAndDate(ctx, candidateID, s.exam.Date())
		if err != nil {
			// No attempt yet: the candidate is between admission and creation.
			if !errors.Is(err, repository.ErrNotFound) {
				s.log.Warn().Err(err).Int("candidate_id", candidateID).Msg("Lease check failed")
			}
			continue
		}

		if !a.Status.Terminal() {
			if a.LeaseToken != token {
				s.log.Warn().
					Int("candidate_id", candidateID).
					Str("attempt_id", a.ID.String()).
					Msg("Live lease does not match attempt lease token")
			}
			continue
		}

		ok, err := s.leases.Release(ctx, candidateID, token)
		if err != nil {
			s.log.Warn().Err(err).Int("candidate_id", candidateID).Msg("Failed to release orphaned lease")
			continue
		}
		if ok {
			released++
		}
	}

	live, err := s.attempts.ListInProgress(ctx, s.exam.Date())
	if err != nil {
		return released, fmt.Errorf("list in-progress attempts: %w", err)
	}
	for candidateID, attemptID := range live {
		if _, ok := leases[candidateID]; !ok {
			// Recoverable: the candidate can start again to resume.
			s.log.Warn().
				Int("candidate_id", candidateID).
				Str("attempt_id", attemptID.String()).
				Msg("In-progress attempt has no session lease")
		}
	}

	s.metrics.LeasesReleased(ctx, released)
	return released, nil
}

// terminate runs the one-time terminal transition. Only the caller that
// wins the status compare-and-set releases the lease and notifies; everyone
// else receives the already-terminal attempt.
func (s *AttemptService) terminate(
	ctx context.Context,
	a *model.Attempt,
	status model.AttemptStatus,
	reason model.TerminationReason,
) (*model.Attempt, error) {
	key, err := s.bank.AnswerKey(ctx, a.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("load answer key: %w", err)
	}

	final, won, err := s.attempts.Terminate(ctx, a.ID, status, reason, s.now(), s.scorer.Func(key))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("terminate attempt: %w", err)
	}
	if !won {
		return final, nil
	}

	s.admission.release(ctx, final.CandidateID, final.LeaseToken)
	s.metrics.AttemptTerminated(ctx, string(final.Status), string(final.TerminationReason))
	s.notifier.Notify(ctx, final.CandidateID, attemptEvent(NotificationAttemptEnded, final, s.now()))

	score := 0
	if final.FinalScore != nil {
		score = *final.FinalScore
	}
	s.log.Info().
		Int("candidate_id", final.CandidateID).
		Str("attempt_id", final.ID.String()).
		Str("status", string(final.Status)).
		Int("score", score).
		Msg("Attempt ended")
	return final, nil
}

// load fetches an attempt and checks that candidateID owns it.
func (s *AttemptService) load(ctx context.Context, candidateID int, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.CandidateID != candidateID {
		return nil, ErrNotAttemptOwner
	}
	return a, nil
}
