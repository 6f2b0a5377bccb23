package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionCheat    Action = "cheat"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
// The rest of the frame is decoded into the action's request type:
// model.SaveAnswerRequest for autosave, model.CheatingEventRequest for cheat.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventConnected Event = "connected"
	EventSaved     Event = "saved"
	EventViolation Event = "violation"
	EventEnded     Event = "ended"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// ConnectedResponse is sent once after the upgrade.
type ConnectedResponse struct {
	Event     Event               `json:"event"`
	AttemptID uuid.UUID           `json:"attempt_id"`
	Status    model.AttemptStatus `json:"status"`
	EndsAt    time.Time           `json:"ends_at"`
}

type SavedResponse struct {
	Event       Event     `json:"event"`
	QuestionID  uuid.UUID `json:"question_id"`
	LastSavedAt time.Time `json:"last_saved_at"`
}

type ViolationResponse struct {
	Event Event `json:"event"`
	model.ViolationResult
}

// EndedResponse is sent when the attempt reaches a terminal status, after
// which the server closes the connection.
type EndedResponse struct {
	Event             Event                   `json:"event"`
	Status            model.AttemptStatus     `json:"status"`
	TerminationReason model.TerminationReason `json:"termination_reason"`
	FinalScore        *int                    `json:"final_score,omitempty"`
}

type ErrorResponse struct {
	Event   Event  `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongResponse struct {
	Event Event     `json:"event"`
	Time  time.Time `json:"time"`
}

// Ended builds the terminal event for a.
func Ended(a *model.Attempt) EndedResponse {
	return EndedResponse{
		Event:             EventEnded,
		Status:            a.Status,
		TerminationReason: a.TerminationReason,
		FinalScore:        a.FinalScore,
	}
}
