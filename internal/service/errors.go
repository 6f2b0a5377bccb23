package service

import "errors"

// Exam core errors. Handlers map each one to a stable response.ErrCode.
var (
	ErrOutsideExamWindow     = errors.New("exam is not open at this time")
	ErrNotEligible           = errors.New("candidate is not accepted for this exam")
	ErrSessionAlreadyActive  = errors.New("another exam session is already active")
	ErrAttemptTerminal       = errors.New("attempt has already been submitted")
	ErrTimeExpired           = errors.New("attempt time has expired")
	ErrInsufficientQuestions = errors.New("question bank cannot supply the requested tier quota")
	ErrInvalidCredential     = errors.New("invalid credential")
	ErrStoreUnavailable      = errors.New("coordination store unavailable")

	ErrAlreadySubmitted   = errors.New("exam already submitted for this candidate")
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrQuestionNotInPaper = errors.New("question is not part of this attempt")
	ErrNotAttemptOwner    = errors.New("attempt belongs to another candidate")
)
