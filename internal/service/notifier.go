package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// NotificationKind names a lifecycle notification.
type NotificationKind string

const (
	NotificationAttemptStarted NotificationKind = "attempt_started"
	NotificationAttemptEnded   NotificationKind = "attempt_ended"
)

// NotificationEvent is the queued notification payload.
type NotificationEvent struct {
	Kind        NotificationKind        `json:"kind"`
	CandidateID int                     `json:"candidate_id"`
	AttemptID   uuid.UUID               `json:"attempt_id"`
	Status      model.AttemptStatus     `json:"status"`
	Reason      model.TerminationReason `json:"reason,omitempty"`
	FinalScore  *int                    `json:"final_score,omitempty"`
	EndsAt      time.Time               `json:"ends_at"`
	OccurredAt  time.Time               `json:"occurred_at"`
}

// QueueNotifier enqueues notifications onto a Redis list drained by
// worker.NotificationWorker. Enqueue failures are logged and swallowed.
type QueueNotifier struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewQueueNotifier creates a new QueueNotifier.
func NewQueueNotifier(rdb *redis.Client, log zerolog.Logger) *QueueNotifier {
	return &QueueNotifier{
		rdb: rdb,
		log: log.With().Str("component", "notifier").Logger(),
	}
}

// Notify pushes the event onto the notification queue.
func (n *QueueNotifier) Notify(ctx context.Context, candidateID int, event NotificationEvent) {
	event.CandidateID = candidateID
	payload, err := json.Marshal(event)
	if err != nil {
		n.log.Error().Err(err).Msg("Marshal notification")
		return
	}

	// The request context may already be gone once the response is written.
	ctx = context.WithoutCancel(ctx)
	if err := n.rdb.RPush(ctx, config.WorkerKey.NotificationQueue, payload).Err(); err != nil {
		n.log.Warn().Err(err).
			Int("candidate_id", candidateID).
			Str("kind", string(event.Kind)).
			Msg("Failed to enqueue notification")
	}
}

func attemptEvent(kind NotificationKind, a *model.Attempt, at time.Time) NotificationEvent {
	return NotificationEvent{
		Kind:        kind,
		CandidateID: a.CandidateID,
		AttemptID:   a.ID,
		Status:      a.Status,
		Reason:      a.TerminationReason,
		FinalScore:  a.FinalScore,
		EndsAt:      a.EndsAt,
		OccurredAt:  at,
	}
}
