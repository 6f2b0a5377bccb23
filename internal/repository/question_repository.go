package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// QuestionRepository reads the published question bank.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

const questionColumns = `id, topic, tier, prompt, options, correct_index, explanation`

// Sample draws up to count distinct questions of the given tier at random.
// Fewer rows than requested means the tier is short; the caller decides.
func (r *QuestionRepository) Sample(ctx context.Context, tier model.Tier, count int) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+`
		 FROM questions
		 WHERE tier = $1 AND published
		 ORDER BY random()
		 LIMIT $2`, tier, count,
	)
	if err != nil {
		return nil, fmt.Errorf("sample %s questions: %w", tier, err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Topic, &q.Tier, &q.Prompt, &q.Options, &q.CorrectIndex, &q.Explanation); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Get retrieves a single question by ID.
func (r *QuestionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	q := &model.Question{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, id,
	).Scan(&q.ID, &q.Topic, &q.Tier, &q.Prompt, &q.Options, &q.CorrectIndex, &q.Explanation)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return q, nil
}

// ListByIDs retrieves questions in the order of ids. Unknown ids are skipped.
func (r *QuestionRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.topic, q.tier, q.prompt, q.options, q.correct_index, q.explanation
		 FROM UNNEST($1::uuid[]) WITH ORDINALITY AS p(id, pos)
		 JOIN questions q ON q.id = p.id
		 ORDER BY p.pos`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := make([]model.Question, 0, len(ids))
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Topic, &q.Tier, &q.Prompt, &q.Options, &q.CorrectIndex, &q.Explanation); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// AnswerKey returns question id → correct option index for the given ids.
func (r *QuestionRepository) AnswerKey(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, correct_index FROM questions WHERE id = ANY($1::uuid[])`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	key := make(map[uuid.UUID]int, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var idx int
		if err := rows.Scan(&id, &idx); err != nil {
			return nil, err
		}
		key[id] = idx
	}
	return key, rows.Err()
}
