package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/telemetry"
)

// minLeaseTTL keeps a lease alive briefly even at the very end of a window.
const minLeaseTTL = time.Second

// Admission is a granted exam session: the lease token and the credential
// bound to it.
type Admission struct {
	LeaseToken  string
	Credential  string
	LeaseExpiry time.Time
}

// AdmissionService guarantees that a candidate holds at most one exam
// session at a time.
type AdmissionService struct {
	exam     config.ExamConfig
	identity IdentityService
	leases   LeaseStore
	metrics  *telemetry.Metrics
	now      Clock
	log      zerolog.Logger
}

// NewAdmissionService creates a new AdmissionService.
func NewAdmissionService(
	exam config.ExamConfig,
	identity IdentityService,
	leases LeaseStore,
	metrics *telemetry.Metrics,
	log zerolog.Logger,
) *AdmissionService {
	return &AdmissionService{
		exam:     exam,
		identity: identity,
		leases:   leases,
		metrics:  metrics,
		now:      time.Now,
		log:      log.With().Str("component", "admission_service").Logger(),
	}
}

// TryStart admits the candidate: window check, eligibility, then a single
// create-if-absent on the lease. Store errors fail closed.
func (s *AdmissionService) TryStart(ctx context.Context, candidateID int) (*Admission, error) {
	now := s.now()
	if !s.exam.InWindow(now) {
		s.metrics.AdmissionRejected(ctx, "outside_window")
		return nil, ErrOutsideExamWindow
	}

	accepted, err := s.identity.IsAccepted(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("check eligibility: %w", err)
	}
	if !accepted {
		s.metrics.AdmissionRejected(ctx, "not_eligible")
		return nil, ErrNotEligible
	}

	token := uuid.NewString()
	ttl := leaseTTL(s.exam.End, now)

	ok, err := s.leases.Acquire(ctx, candidateID, token, ttl)
	if err != nil {
		s.log.Error().Err(err).Int("candidate_id", candidateID).Msg("Lease store unavailable")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		s.metrics.AdmissionRejected(ctx, "session_active")
		return nil, ErrSessionAlreadyActive
	}

	credential, err := s.identity.IssueCredential(ctx, candidateID, token, ttl)
	if err != nil {
		s.release(ctx, candidateID, token)
		return nil, fmt.Errorf("issue credential: %w", err)
	}

	return &Admission{
		LeaseToken:  token,
		Credential:  credential,
		LeaseExpiry: now.Add(ttl),
	}, nil
}

// Align moves the lease expiry to until and issues a credential that
// expires with it. Used once the attempt and its end time are known.
func (s *AdmissionService) Align(ctx context.Context, candidateID int, token string, until time.Time) (string, error) {
	ttl := leaseTTL(until, s.now())

	ok, err := s.leases.Extend(ctx, candidateID, token, ttl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		// Released or replaced between acquire and align.
		return "", ErrSessionAlreadyActive
	}
	return s.identity.IssueCredential(ctx, candidateID, token, ttl)
}

// Validate confirms the candidate's live lease still holds token.
func (s *AdmissionService) Validate(ctx context.Context, candidateID int, token string) error {
	current, err := s.leases.Token(ctx, candidateID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if current == "" || current != token {
		return ErrInvalidCredential
	}
	return nil
}

// Release deletes the lease if it still holds token. Releasing a lease that
// is already gone is not an error.
func (s *AdmissionService) Release(ctx context.Context, candidateID int, token string) error {
	if token == "" {
		return nil
	}
	if _, err := s.leases.Release(ctx, candidateID, token); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Logout releases whichever lease the candidate holds, so the exam can be
// resumed from another device.
func (s *AdmissionService) Logout(ctx context.Context, candidateID int) error {
	token, err := s.leases.Token(ctx, candidateID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.Release(ctx, candidateID, token)
}

// release is Release for cleanup paths where the caller already has an error.
func (s *AdmissionService) release(ctx context.Context, candidateID int, token string) {
	if err := s.Release(context.WithoutCancel(ctx), candidateID, token); err != nil {
		s.log.Warn().Err(err).Int("candidate_id", candidateID).Msg("Failed to release lease")
	}
}

func leaseTTL(until, now time.Time) time.Duration {
	ttl := until.Sub(now)
	if ttl < minLeaseTTL {
		return minLeaseTTL
	}
	return ttl
}
