package model

import "github.com/google/uuid"

// Tier enumerates question difficulty tiers.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Tiers lists every tier in sampling order.
var Tiers = []Tier{TierLow, TierMedium, TierHigh}

// OptionCount is the fixed number of options every question carries.
const OptionCount = 4

// Question is an immutable, published question from the question bank.
type Question struct {
	ID           uuid.UUID `json:"id"`
	Topic        string    `json:"topic"`
	Tier         Tier      `json:"tier"`
	Prompt       string    `json:"prompt"`
	Options      []string  `json:"options"`
	CorrectIndex int       `json:"correct_index"`
	Explanation  string    `json:"explanation"`
}

// QuestionForCandidate is a question without the correct answer, sent to candidates.
type QuestionForCandidate struct {
	ID      uuid.UUID `json:"id"`
	Topic   string    `json:"topic"`
	Tier    Tier      `json:"tier"`
	Prompt  string    `json:"prompt"`
	Options []string  `json:"options"`
}

// ForCandidate strips the correct index and explanation.
func (q Question) ForCandidate() QuestionForCandidate {
	opts := make([]string, len(q.Options))
	copy(opts, q.Options)
	return QuestionForCandidate{
		ID:      q.ID,
		Topic:   q.Topic,
		Tier:    q.Tier,
		Prompt:  q.Prompt,
		Options: opts,
	}
}
