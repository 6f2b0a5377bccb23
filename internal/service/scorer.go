package service

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Scorer grades an attempt's answers against an answer key. It is pure:
// the same answers and key always yield the same score.
type Scorer struct {
	pointsPerCorrect int
}

// NewScorer creates a Scorer awarding pointsPerCorrect per correct answer.
func NewScorer(pointsPerCorrect int) *Scorer {
	return &Scorer{pointsPerCorrect: pointsPerCorrect}
}

// Score sums points for every answer whose selected option matches the key.
// Unanswered, marked-only and unknown questions award zero.
func (s *Scorer) Score(answers []model.Answer, key map[uuid.UUID]int) int {
	total := 0
	for _, a := range answers {
		if a.SelectedIndex == nil {
			continue
		}
		correct, ok := key[a.QuestionID]
		if ok && *a.SelectedIndex == correct {
			total += s.pointsPerCorrect
		}
	}
	return total
}

// Func binds the answer key so the result can be handed to the terminal
// transition, which supplies the answers it has locked.
func (s *Scorer) Func(key map[uuid.UUID]int) func([]model.Answer) int {
	return func(answers []model.Answer) int {
		return s.Score(answers, key)
	}
}
