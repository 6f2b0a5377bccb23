package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AttemptRepository persists attempts, their answer journal and violation log.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, candidate_id, exam_date, status, started_at, ends_at, submitted_at,
	termination_reason, question_ids, final_score, lease_token, version`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(
		&a.ID, &a.CandidateID, &a.ExamDate, &a.Status, &a.StartedAt, &a.EndsAt, &a.SubmittedAt,
		&a.TerminationReason, &a.QuestionIDs, &a.FinalScore, &a.LeaseToken, &a.Version,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return a, nil
}

// Create inserts a new IN_PROGRESS attempt. Returns ErrConflict when the
// candidate already has an attempt for the exam date or a live one.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempts (id, candidate_id, exam_date, status, started_at, ends_at,
		                       termination_reason, question_ids, lease_token, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)`,
		a.ID, a.CandidateID, a.ExamDate, model.AttemptInProgress, a.StartedAt, a.EndsAt,
		model.TerminationNone, a.QuestionIDs, a.LeaseToken,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	a.Status = model.AttemptInProgress
	a.TerminationReason = model.TerminationNone
	a.Version = 1
	return nil
}

// GetByID retrieves an attempt with its answers and violations.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return r.load(ctx, r.pool, id, "")
}

// GetByCandidateAndDate retrieves the candidate's attempt for an exam date.
func (r *AttemptRepository) GetByCandidateAndDate(ctx context.Context, candidateID int, examDate time.Time) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE candidate_id = $1 AND exam_date = $2`,
		candidateID, examDate,
	))
	if err != nil {
		return nil, err
	}
	return r.load(ctx, r.pool, a.ID, "")
}

// load reads the attempt row plus its journal. lock is appended to the row
// query ("FOR UPDATE" inside a transaction) or left empty.
func (r *AttemptRepository) load(ctx context.Context, q querier, id uuid.UUID, lock string) (*model.Attempt, error) {
	a, err := scanAttempt(q.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1 `+lock, id,
	))
	if err != nil {
		return nil, err
	}
	if a.Answers, err = listAnswers(ctx, q, id); err != nil {
		return nil, err
	}
	if a.Violations, err = listViolations(ctx, q, id); err != nil {
		return nil, err
	}
	return a, nil
}

func listAnswers(ctx context.Context, q querier, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := q.Query(ctx,
		`SELECT question_id, selected_index, marked_for_review, last_saved_at
		 FROM attempt_answers WHERE attempt_id = $1
		 ORDER BY question_id`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := []model.Answer{}
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.QuestionID, &a.SelectedIndex, &a.MarkedForReview, &a.LastSavedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func listViolations(ctx context.Context, q querier, attemptID uuid.UUID) ([]model.ViolationEvent, error) {
	rows, err := q.Query(ctx,
		`SELECT type, detail, recorded_at
		 FROM attempt_violations WHERE attempt_id = $1
		 ORDER BY id`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.ViolationEvent{}
	for rows.Next() {
		var e model.ViolationEvent
		if err := rows.Scan(&e.Type, &e.Detail, &e.RecordedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpdateLeaseToken records the lease token of a resumed session.
func (r *AttemptRepository) UpdateLeaseToken(ctx context.Context, id uuid.UUID, token string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts SET lease_token = $1, version = version + 1
		 WHERE id = $2 AND status = $3`,
		token, id, model.AttemptInProgress,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotInProgress
	}
	return nil
}

// SaveAnswer upserts one answer. The attempt row is held FOR SHARE for the
// duration so a save can never interleave with the terminal transition,
// which takes FOR UPDATE. Older saves (by last_saved_at) never overwrite newer.
func (r *AttemptRepository) SaveAnswer(ctx context.Context, attemptID uuid.UUID, ans model.Answer) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status model.AttemptStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM attempts WHERE id = $1 FOR SHARE`, attemptID,
	).Scan(&status)
	if err != nil {
		return mapNoRows(err)
	}
	if status.Terminal() {
		return ErrNotInProgress
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, selected_index, marked_for_review, last_saved_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET selected_index = EXCLUDED.selected_index,
		     marked_for_review = EXCLUDED.marked_for_review,
		     last_saved_at = EXCLUDED.last_saved_at
		 WHERE attempt_answers.last_saved_at <= EXCLUDED.last_saved_at`,
		attemptID, ans.QuestionID, ans.SelectedIndex, ans.MarkedForReview, ans.LastSavedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}

	return tx.Commit(ctx)
}

// AppendViolation adds an event to the log regardless of attempt state and
// returns the persisted event count together with the current status.
func (r *AttemptRepository) AppendViolation(ctx context.Context, attemptID uuid.UUID, ev model.ViolationEvent) (int, model.AttemptStatus, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status model.AttemptStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM attempts WHERE id = $1`, attemptID).Scan(&status); err != nil {
		return 0, "", mapNoRows(err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO attempt_violations (attempt_id, type, detail, recorded_at)
		 VALUES ($1, $2, $3, $4)`,
		attemptID, ev.Type, ev.Detail, ev.RecordedAt,
	); err != nil {
		return 0, "", fmt.Errorf("insert violation: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempt_violations WHERE attempt_id = $1`, attemptID,
	).Scan(&count); err != nil {
		return 0, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, "", err
	}
	return count, status, nil
}

// CountViolations returns the number of persisted violation events.
func (r *AttemptRepository) CountViolations(ctx context.Context, attemptID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempt_violations WHERE attempt_id = $1`, attemptID,
	).Scan(&count)
	return count, err
}

// Terminate moves an attempt out of IN_PROGRESS exactly once. It locks the
// row, and only if the status is still IN_PROGRESS computes the score from
// the persisted answers and writes status, reason, submitted_at and score in
// the same transaction. The returned bool is true only for the caller that
// performed the transition; everyone else gets the already-terminal attempt.
func (r *AttemptRepository) Terminate(
	ctx context.Context,
	attemptID uuid.UUID,
	status model.AttemptStatus,
	reason model.TerminationReason,
	at time.Time,
	score func([]model.Answer) int,
) (*model.Attempt, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	a, err := r.load(ctx, tx, attemptID, "FOR UPDATE")
	if err != nil {
		return nil, false, err
	}
	if a.Status.Terminal() {
		return a, false, tx.Commit(ctx)
	}

	final := score(a.Answers)

	tag, err := tx.Exec(ctx,
		`UPDATE attempts
		 SET status = $1, termination_reason = $2, submitted_at = $3,
		     final_score = $4, version = version + 1
		 WHERE id = $5 AND status = $6 AND version = $7`,
		status, reason, at, final, attemptID, model.AttemptInProgress, a.Version,
	)
	if err != nil {
		return nil, false, fmt.Errorf("terminate attempt: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, false, errors.New("terminate attempt: concurrent modification")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}

	a.Status = status
	a.TerminationReason = reason
	a.SubmittedAt = &at
	a.FinalScore = &final
	a.Version++
	return a, true, nil
}

// ListExpired returns IN_PROGRESS attempts whose end time is before now.
func (r *AttemptRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM attempts
		 WHERE status = $1 AND ends_at < $2
		 ORDER BY ends_at
		 LIMIT $3`,
		model.AttemptInProgress, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListInProgress maps candidate id to attempt id for every IN_PROGRESS
// attempt of the exam date.
func (r *AttemptRepository) ListInProgress(ctx context.Context, examDate time.Time) (map[int]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT candidate_id, id FROM attempts WHERE status = $1 AND exam_date = $2`,
		model.AttemptInProgress, examDate,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	live := make(map[int]uuid.UUID)
	for rows.Next() {
		var candidateID int
		var id uuid.UUID
		if err := rows.Scan(&candidateID, &id); err != nil {
			return nil, err
		}
		live[candidateID] = id
	}
	return live, rows.Err()
}
