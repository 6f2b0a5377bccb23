package service

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Quotas splits n across tiers by percentage. Each tier gets the floor of its
// share; the remainder goes to the tier with the largest percentage, ties
// resolved in Tiers order (low, medium, high).
func Quotas(n int, dist config.TierDistribution) map[model.Tier]int {
	shares := map[model.Tier]int{
		model.TierLow:    dist.Low,
		model.TierMedium: dist.Medium,
		model.TierHigh:   dist.High,
	}

	quotas := make(map[model.Tier]int, len(model.Tiers))
	assigned := 0
	largest := model.Tiers[0]
	for _, t := range model.Tiers {
		q := n * shares[t] / 100
		quotas[t] = q
		assigned += q
		if shares[t] > shares[largest] {
			largest = t
		}
	}
	quotas[largest] += n - assigned
	return quotas
}

// Sampler draws a stratified random paper from the question bank.
type Sampler struct {
	bank    QuestionBank
	shuffle func(n int, swap func(i, j int))
}

// NewSampler creates a Sampler using a uniform shuffle.
func NewSampler(bank QuestionBank) *Sampler {
	return &Sampler{bank: bank, shuffle: rand.Shuffle}
}

// Sample draws each tier's quota without replacement, concatenates the tiers
// and shuffles the result. A tier that cannot fill its quota fails the whole
// draw with ErrInsufficientQuestions; a short paper is never returned.
func (s *Sampler) Sample(ctx context.Context, n int, dist config.TierDistribution) ([]model.Question, error) {
	quotas := Quotas(n, dist)

	paper := make([]model.Question, 0, n)
	for _, tier := range model.Tiers {
		want := quotas[tier]
		if want == 0 {
			continue
		}
		drawn, err := s.SampleTier(ctx, tier, want)
		if err != nil {
			return nil, err
		}
		paper = append(paper, drawn...)
	}

	s.shuffle(len(paper), func(i, j int) { paper[i], paper[j] = paper[j], paper[i] })
	return paper, nil
}

// SampleTier draws exactly count distinct questions of one tier, shuffled.
func (s *Sampler) SampleTier(ctx context.Context, tier model.Tier, count int) ([]model.Question, error) {
	drawn, err := s.bank.Sample(ctx, tier, count)
	if err != nil {
		return nil, fmt.Errorf("sample %s tier: %w", tier, err)
	}

	seen := make(map[string]struct{}, len(drawn))
	unique := drawn[:0:0]
	for _, q := range drawn {
		if _, dup := seen[q.ID.String()]; dup {
			continue
		}
		seen[q.ID.String()] = struct{}{}
		unique = append(unique, q)
	}

	if len(unique) < count {
		return nil, fmt.Errorf("%w: tier %s has %d of %d", ErrInsufficientQuestions, tier, len(unique), count)
	}
	unique = unique[:count]

	s.shuffle(len(unique), func(i, j int) { unique[i], unique[j] = unique[j], unique[i] })
	return unique, nil
}
