package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/mailer"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// maxDeliveries bounds how often a failing notification is requeued.
const maxDeliveries = 5

// NotificationWorker consumes notification_queue and emails candidates.
type NotificationWorker struct {
	rdb        *redis.Client
	candidates service.CandidateStore
	sender     mailer.Sender
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewNotificationWorker creates a new NotificationWorker.
func NewNotificationWorker(rdb *redis.Client, candidates service.CandidateStore, sender mailer.Sender, log zerolog.Logger) *NotificationWorker {
	return &NotificationWorker{
		rdb:        rdb,
		candidates: candidates,
		sender:     sender,
		retryDelay: 5 * time.Second,
		log:        log.With().Str("component", "notification_worker").Logger(),
	}
}

// envelope wraps a queued event with its delivery count.
type envelope struct {
	service.NotificationEvent
	Deliveries int `json:"deliveries,omitempty"`
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *NotificationWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.NotificationQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	if err := w.handle(ctx, result[1]); err != nil {
		time.Sleep(w.retryDelay)
	}
}

// handle delivers one queued payload. A failed delivery is pushed back onto
// the queue until maxDeliveries is reached.
func (w *NotificationWorker) handle(ctx context.Context, raw string) error {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return nil
	}

	err := w.deliver(ctx, &env.NotificationEvent)
	if err == nil {
		return nil
	}

	env.Deliveries++
	log := w.log.With().
		Err(err).
		Int("candidate_id", env.CandidateID).
		Str("kind", string(env.Kind)).
		Int("deliveries", env.Deliveries).
		Logger()

	if env.Deliveries >= maxDeliveries || errors.Is(err, repository.ErrNotFound) {
		log.Error().Msg("Dropping notification")
		return nil
	}

	log.Warn().Msg("Delivery failed, requeueing")
	payload, _ := json.Marshal(env)
	w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.NotificationQueue, payload)
	return err
}

func (w *NotificationWorker) deliver(ctx context.Context, ev *service.NotificationEvent) error {
	candidate, err := w.candidates.GetByID(ctx, ev.CandidateID)
	if err != nil {
		return fmt.Errorf("get candidate: %w", err)
	}
	return w.sender.Send(ctx, render(candidate, ev))
}

// drain delivers every remaining item in the queue before shutdown.
func (w *NotificationWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.NotificationQueue).Result()
		if err != nil {
			break
		}
		if err := w.handle(ctx, raw); err != nil {
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

func render(c *model.Candidate, ev *service.NotificationEvent) mailer.Message {
	msg := mailer.Message{ToName: c.Name, ToEmail: c.Email}

	switch ev.Kind {
	case service.NotificationAttemptStarted:
		deadline := ev.EndsAt.Format("15:04 MST")
		msg.Subject = "Ujian dimulai"
		msg.Text = fmt.Sprintf("Halo %s, ujian Anda telah dimulai dan berakhir pukul %s.", c.Name, deadline)
		msg.HTML = fmt.Sprintf("<p>Halo %s,</p><p>Ujian Anda telah dimulai dan berakhir pukul <b>%s</b>.</p>", c.Name, deadline)
	default:
		score := 0
		if ev.FinalScore != nil {
			score = *ev.FinalScore
		}
		reason := endReasons[ev.Status]
		msg.Subject = "Ujian selesai"
		msg.Text = fmt.Sprintf("Halo %s, ujian Anda %s. Skor akhir: %d.", c.Name, reason, score)
		msg.HTML = fmt.Sprintf("<p>Halo %s,</p><p>Ujian Anda %s. Skor akhir: <b>%d</b>.</p>", c.Name, reason, score)
	}
	return msg
}

var endReasons = map[model.AttemptStatus]string{
	model.AttemptSubmitted:              "telah dikumpulkan",
	model.AttemptAutoSubmittedTimeout:   "dikumpulkan otomatis karena waktu habis",
	model.AttemptAutoSubmittedIntegrity: "dikumpulkan otomatis karena pelanggaran",
}
