package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt lifecycle states. NotStarted is implicit:
// no row exists until the first successful start.
type AttemptStatus string

const (
	AttemptInProgress             AttemptStatus = "IN_PROGRESS"
	AttemptSubmitted              AttemptStatus = "SUBMITTED"
	AttemptAutoSubmittedTimeout   AttemptStatus = "AUTO_SUBMITTED_TIMEOUT"
	AttemptAutoSubmittedIntegrity AttemptStatus = "AUTO_SUBMITTED_INTEGRITY"
)

// Terminal reports whether no transition out of s exists.
func (s AttemptStatus) Terminal() bool {
	return s != AttemptInProgress
}

// TerminationReason records why an attempt left IN_PROGRESS.
type TerminationReason string

const (
	TerminationNone      TerminationReason = "none"
	TerminationManual    TerminationReason = "manual"
	TerminationTimeout   TerminationReason = "timeout"
	TerminationIntegrity TerminationReason = "integrity"
)

// Attempt is one candidate's single timed exam instance for an exam date.
type Attempt struct {
	ID                uuid.UUID         `json:"id"`
	CandidateID       int               `json:"candidate_id"`
	ExamDate          time.Time         `json:"exam_date"`
	Status            AttemptStatus     `json:"status"`
	StartedAt         time.Time         `json:"started_at"`
	EndsAt            time.Time         `json:"ends_at"`
	SubmittedAt       *time.Time        `json:"submitted_at,omitempty"`
	TerminationReason TerminationReason `json:"termination_reason"`
	QuestionIDs       []uuid.UUID       `json:"question_ids"`
	Answers           []Answer          `json:"answers"`
	Violations        []ViolationEvent  `json:"violations"`
	FinalScore        *int              `json:"final_score,omitempty"`
	LeaseToken        string            `json:"-"`
	Version           int               `json:"-"`
}

// HasQuestion reports whether questionID is part of the attempt's paper.
func (a *Attempt) HasQuestion(questionID uuid.UUID) bool {
	for _, id := range a.QuestionIDs {
		if id == questionID {
			return true
		}
	}
	return false
}

// Answer is a candidate's latest saved response to one question.
// SelectedIndex is nil when the question is only marked for review.
type Answer struct {
	QuestionID      uuid.UUID `json:"question_id"`
	SelectedIndex   *int      `json:"selected_index"`
	MarkedForReview bool      `json:"marked_for_review"`
	LastSavedAt     time.Time `json:"last_saved_at"`
}

// ViolationType enumerates integrity events reported by the client.
type ViolationType string

const (
	ViolationTabChange      ViolationType = "tabChange"
	ViolationWindowBlur     ViolationType = "windowBlur"
	ViolationFullscreenExit ViolationType = "fullscreenExit"
	ViolationCopyPaste      ViolationType = "copyPaste"
	ViolationDevtoolsOpen   ViolationType = "devtoolsOpen"
	ViolationMultipleFaces  ViolationType = "multipleFaces"
	ViolationOther          ViolationType = "other"
)

// ViolationTypes lists every accepted violation type.
var ViolationTypes = []ViolationType{
	ViolationTabChange,
	ViolationWindowBlur,
	ViolationFullscreenExit,
	ViolationCopyPaste,
	ViolationDevtoolsOpen,
	ViolationMultipleFaces,
	ViolationOther,
}

// ViolationEvent is an append-only integrity record.
type ViolationEvent struct {
	Type       ViolationType `json:"type"`
	Detail     string        `json:"detail"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// SaveAnswerRequest is the payload for saving a single answer.
type SaveAnswerRequest struct {
	QuestionID      uuid.UUID  `json:"question_id" binding:"required"`
	SelectedIndex   *int       `json:"selected_index" binding:"omitempty,min=0,max=3"`
	MarkedForReview bool       `json:"marked_for_review"`
	SavedAt         *time.Time `json:"saved_at" binding:"omitempty"`
}

// CheatingEventRequest is the payload for reporting an integrity violation.
type CheatingEventRequest struct {
	Type   ViolationType `json:"type" binding:"required,violation_type"`
	Detail string        `json:"detail" binding:"max=1000"`
}

// ViolationResult is returned after a violation was recorded.
type ViolationResult struct {
	Count         int           `json:"count"`
	Threshold     int           `json:"threshold"`
	AutoSubmitted bool          `json:"auto_submitted"`
	Warning       string        `json:"warning"`
	Status        AttemptStatus `json:"status"`
}

// StartResult is returned by a successful start (new or resumed attempt).
type StartResult struct {
	Token   string   `json:"token"`
	Attempt *Attempt `json:"attempt"`
	Resumed bool     `json:"resumed"`
}
