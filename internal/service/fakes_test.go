package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var errTransient = errors.New("connection reset by peer")

// ─── Clock ──────────────────────────────────────────────────────────

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ─── Attempt store ──────────────────────────────────────────────────

type fakeAttemptStore struct {
	mu          sync.Mutex
	attempts    map[uuid.UUID]*model.Attempt
	answers     map[uuid.UUID]map[uuid.UUID]model.Answer
	violations  map[uuid.UUID][]model.ViolationEvent
	scoreCalls  int
	transitions int

	// failSaves makes the next n SaveAnswer calls fail with errTransient.
	failSaves int
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{
		attempts:   make(map[uuid.UUID]*model.Attempt),
		answers:    make(map[uuid.UUID]map[uuid.UUID]model.Answer),
		violations: make(map[uuid.UUID][]model.ViolationEvent),
	}
}

func (f *fakeAttemptStore) snapshot(a *model.Attempt) *model.Attempt {
	cp := *a
	cp.QuestionIDs = append([]uuid.UUID(nil), a.QuestionIDs...)

	cp.Answers = []model.Answer{}
	for _, ans := range f.answers[a.ID] {
		cp.Answers = append(cp.Answers, ans)
	}
	sort.Slice(cp.Answers, func(i, j int) bool {
		return cp.Answers[i].QuestionID.String() < cp.Answers[j].QuestionID.String()
	})
	cp.Violations = append([]model.ViolationEvent{}, f.violations[a.ID]...)
	return &cp
}

func (f *fakeAttemptStore) Create(_ context.Context, a *model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.attempts {
		if existing.CandidateID != a.CandidateID {
			continue
		}
		if existing.ExamDate.Equal(a.ExamDate) || existing.Status == model.AttemptInProgress {
			return repository.ErrConflict
		}
	}
	a.Status = model.AttemptInProgress
	a.TerminationReason = model.TerminationNone
	a.Version = 1
	cp := *a
	f.attempts[a.ID] = &cp
	return nil
}

func (f *fakeAttemptStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f.snapshot(a), nil
}

func (f *fakeAttemptStore) GetByCandidateAndDate(_ context.Context, candidateID int, examDate time.Time) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.CandidateID == candidateID && a.ExamDate.Equal(examDate) {
			return f.snapshot(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAttemptStore) UpdateLeaseToken(_ context.Context, id uuid.UUID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok || a.Status.Terminal() {
		return repository.ErrNotInProgress
	}
	a.LeaseToken = token
	a.Version++
	return nil
}

func (f *fakeAttemptStore) SaveAnswer(_ context.Context, attemptID uuid.UUID, ans model.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaves > 0 {
		f.failSaves--
		return errTransient
	}
	a, ok := f.attempts[attemptID]
	if !ok {
		return repository.ErrNotFound
	}
	if a.Status.Terminal() {
		return repository.ErrNotInProgress
	}
	if f.answers[attemptID] == nil {
		f.answers[attemptID] = make(map[uuid.UUID]model.Answer)
	}
	if prev, ok := f.answers[attemptID][ans.QuestionID]; ok && prev.LastSavedAt.After(ans.LastSavedAt) {
		return nil
	}
	f.answers[attemptID][ans.QuestionID] = ans
	return nil
}

func (f *fakeAttemptStore) AppendViolation(_ context.Context, attemptID uuid.UUID, ev model.ViolationEvent) (int, model.AttemptStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[attemptID]
	if !ok {
		return 0, "", repository.ErrNotFound
	}
	f.violations[attemptID] = append(f.violations[attemptID], ev)
	return len(f.violations[attemptID]), a.Status, nil
}

func (f *fakeAttemptStore) CountViolations(_ context.Context, attemptID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.violations[attemptID]), nil
}

func (f *fakeAttemptStore) Terminate(
	_ context.Context,
	attemptID uuid.UUID,
	status model.AttemptStatus,
	reason model.TerminationReason,
	at time.Time,
	score func([]model.Answer) int,
) (*model.Attempt, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[attemptID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if a.Status.Terminal() {
		return f.snapshot(a), false, nil
	}

	f.scoreCalls++
	final := score(f.snapshot(a).Answers)

	f.transitions++
	a.Status = status
	a.TerminationReason = reason
	a.SubmittedAt = &at
	a.FinalScore = &final
	a.Version++
	return f.snapshot(a), true, nil
}

func (f *fakeAttemptStore) ListExpired(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id, a := range f.attempts {
		if a.Status == model.AttemptInProgress && a.EndsAt.Before(now) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeAttemptStore) ListInProgress(_ context.Context, examDate time.Time) (map[int]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	live := make(map[int]uuid.UUID)
	for id, a := range f.attempts {
		if a.Status == model.AttemptInProgress && a.ExamDate.Equal(examDate) {
			live[a.CandidateID] = id
		}
	}
	return live, nil
}

func (f *fakeAttemptStore) only(t *testing.T) *model.Attempt {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.attempts, 1)
	for _, a := range f.attempts {
		return f.snapshot(a)
	}
	return nil
}

// ─── Question bank ──────────────────────────────────────────────────

type fakeBank struct {
	byTier map[model.Tier][]model.Question
	byID   map[uuid.UUID]model.Question
}

func newFakeBank(low, medium, high int) *fakeBank {
	b := &fakeBank{
		byTier: make(map[model.Tier][]model.Question),
		byID:   make(map[uuid.UUID]model.Question),
	}
	counts := map[model.Tier]int{model.TierLow: low, model.TierMedium: medium, model.TierHigh: high}
	for _, tier := range model.Tiers {
		for i := 0; i < counts[tier]; i++ {
			q := model.Question{
				ID:           uuid.New(),
				Topic:        "aritmetika",
				Tier:         tier,
				Prompt:       fmt.Sprintf("%s soal %d", tier, i+1),
				Options:      []string{"A", "B", "C", "D"},
				CorrectIndex: i % model.OptionCount,
				Explanation:  "pembahasan",
			}
			b.byTier[tier] = append(b.byTier[tier], q)
			b.byID[q.ID] = q
		}
	}
	return b
}

func (b *fakeBank) Sample(_ context.Context, tier model.Tier, count int) ([]model.Question, error) {
	all := b.byTier[tier]
	if count > len(all) {
		count = len(all)
	}
	return append([]model.Question(nil), all[:count]...), nil
}

func (b *fakeBank) Get(_ context.Context, id uuid.UUID) (*model.Question, error) {
	q, ok := b.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &q, nil
}

func (b *fakeBank) ListByIDs(_ context.Context, ids []uuid.UUID) ([]model.Question, error) {
	out := make([]model.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := b.byID[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (b *fakeBank) AnswerKey(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	key := make(map[uuid.UUID]int, len(ids))
	for _, id := range ids {
		if q, ok := b.byID[id]; ok {
			key[id] = q.CorrectIndex
		}
	}
	return key, nil
}

// ─── Candidates & notifications ─────────────────────────────────────

type fakeCandidates struct {
	byID map[int]*model.Candidate
}

func (f *fakeCandidates) GetByID(_ context.Context, id int) (*model.Candidate, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (f *fakeCandidates) GetByEmail(_ context.Context, email string) (*model.Candidate, error) {
	for _, c := range f.byID {
		if c.Email == email {
			return c, nil
		}
	}
	return nil, repository.ErrNotFound
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []NotificationEvent
}

func (n *recordingNotifier) Notify(_ context.Context, candidateID int, event NotificationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	event.CandidateID = candidateID
	n.events = append(n.events, event)
}

func (n *recordingNotifier) kinds() []NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]NotificationKind, len(n.events))
	for i, e := range n.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// ─── Harness ────────────────────────────────────────────────────────

const testPassword = "rahasia123"

var (
	examStart = time.Date(2026, 10, 15, 16, 0, 0, 0, time.UTC)
	examEnd   = time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)
)

func testExamConfig() config.ExamConfig {
	return config.ExamConfig{
		Start:              examStart,
		End:                examEnd,
		Duration:           7200 * time.Second,
		ViolationThreshold: 3,
		QuestionCount:      75,
		PointsPerCorrect:   3,
		TierDistribution:   config.TierDistribution{Low: 40, Medium: 40, High: 20},
		ReaperInterval:     time.Minute,
	}
}

type harness struct {
	clock      *testClock
	mr         *miniredis.Miniredis
	rdb        *redis.Client
	store      *fakeAttemptStore
	bank       *fakeBank
	candidates *fakeCandidates
	leases     *repository.LeaseRepository
	notifier   *recordingNotifier

	auth      *AuthService
	admission *AdmissionService
	attempts  *AttemptService
	integrity *IntegrityService
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithBank(t, newFakeBank(30, 30, 15))
}

func newHarnessWithBank(t *testing.T, bank *fakeBank) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	candidates := &fakeCandidates{byID: map[int]*model.Candidate{
		1: {ID: 1, Name: "Sari", Email: "sari@example.com", PasswordHash: string(hash), AdmissionStatus: model.AdmissionAccepted},
		2: {ID: 2, Name: "Budi", Email: "budi@example.com", PasswordHash: string(hash), AdmissionStatus: model.AdmissionPending},
	}}

	clock := &testClock{t: examStart.Add(time.Second)}
	exam := testExamConfig()
	cfg := &config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour, BcryptCost: bcrypt.MinCost, Exam: exam}
	log := zerolog.Nop()

	h := &harness{
		clock:      clock,
		mr:         mr,
		rdb:        rdb,
		store:      newFakeAttemptStore(),
		bank:       bank,
		candidates: candidates,
		leases:     repository.NewLeaseRepository(rdb),
		notifier:   &recordingNotifier{},
	}

	h.auth = NewAuthService(cfg, candidates)
	h.auth.now = clock.Now

	h.admission = NewAdmissionService(exam, h.auth, h.leases, nil, log)
	h.admission.now = clock.Now

	h.attempts = NewAttemptService(exam, h.admission, h.store, bank, h.leases, h.notifier, nil, log)
	h.attempts.now = clock.Now

	h.integrity = NewIntegrityService(exam.ViolationThreshold, h.store,
		repository.NewViolationCounterRepository(rdb), h.attempts, nil, log)
	h.integrity.now = clock.Now

	return h
}

func (h *harness) start(t *testing.T) *model.StartResult {
	t.Helper()
	res, err := h.attempts.Start(context.Background(), 1)
	require.NoError(t, err)
	return res
}

func (h *harness) leaseToken(t *testing.T, candidateID int) string {
	t.Helper()
	token, err := h.leases.Token(context.Background(), candidateID)
	require.NoError(t, err)
	return token
}

func intPtr(v int) *int { return &v }
