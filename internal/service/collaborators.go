package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// The exam core is written against these interfaces. Production wiring uses
// the Postgres/Redis repositories; tests substitute in-memory fakes.

// IdentityService issues and verifies bearer credentials and answers
// whether a candidate has been accepted.
type IdentityService interface {
	IsAccepted(ctx context.Context, candidateID int) (bool, error)
	IssueCredential(ctx context.Context, candidateID int, leaseToken string, ttl time.Duration) (string, error)
	Verify(token string) (*Claims, error)
}

// QuestionBank is the read side of the published question bank.
type QuestionBank interface {
	Sample(ctx context.Context, tier model.Tier, count int) ([]model.Question, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Question, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Question, error)
	AnswerKey(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error)
}

// Notifier delivers lifecycle notifications. Implementations must never
// block or fail the exam flow.
type Notifier interface {
	Notify(ctx context.Context, candidateID int, event NotificationEvent)
}

// LeaseStore is the atomic single-session primitive.
type LeaseStore interface {
	Acquire(ctx context.Context, candidateID int, token string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, candidateID int, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, candidateID int, token string) (bool, error)
	Token(ctx context.Context, candidateID int) (string, error)
	Scan(ctx context.Context) (map[int]string, error)
}

// ViolationCounter is an atomic increment-and-read counter per attempt.
type ViolationCounter interface {
	Increment(ctx context.Context, attemptID uuid.UUID, ttl time.Duration) (int64, error)
}

// AttemptStore persists attempts. See repository.AttemptRepository for the
// locking guarantees each method provides.
type AttemptStore interface {
	Create(ctx context.Context, a *model.Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetByCandidateAndDate(ctx context.Context, candidateID int, examDate time.Time) (*model.Attempt, error)
	UpdateLeaseToken(ctx context.Context, id uuid.UUID, token string) error
	SaveAnswer(ctx context.Context, attemptID uuid.UUID, ans model.Answer) error
	AppendViolation(ctx context.Context, attemptID uuid.UUID, ev model.ViolationEvent) (int, model.AttemptStatus, error)
	CountViolations(ctx context.Context, attemptID uuid.UUID) (int, error)
	Terminate(ctx context.Context, attemptID uuid.UUID, status model.AttemptStatus, reason model.TerminationReason,
		at time.Time, score func([]model.Answer) int) (*model.Attempt, bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListInProgress(ctx context.Context, examDate time.Time) (map[int]uuid.UUID, error)
}

// Clock returns the current time. Services take one so tests can pin it.
type Clock func() time.Time
