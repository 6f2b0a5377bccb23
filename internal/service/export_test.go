package service

import (
	"testing"

	"github.com/google/uuid"
)

// Harness exposes the in-memory service wiring to the HTTP tests in
// package service_test.
type Harness = harness

func NewHarness(t *testing.T) *Harness { return newHarness(t) }

func (h *harness) Auth() *AuthService           { return h.auth }
func (h *harness) Admission() *AdmissionService { return h.admission }
func (h *harness) Attempts() *AttemptService    { return h.attempts }
func (h *harness) Integrity() *IntegrityService { return h.integrity }

// CorrectIndex returns the answer key entry for a bank question.
func (h *harness) CorrectIndex(id uuid.UUID) int { return h.bank.byID[id].CorrectIndex }

const TestPassword = testPassword
