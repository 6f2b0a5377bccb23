package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// actionTimeout bounds the work done for one WebSocket frame.
const actionTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams autosave, integrity events and submit over one
// WebSocket per attempt. Every action goes through the same services as
// the HTTP endpoints.
type WSHandler struct {
	attempts  AttemptLifecycle
	integrity ViolationRecorder
	leases    middleware.LeaseValidator
	log       zerolog.Logger
	upgrader  websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	attempts AttemptLifecycle,
	integrity ViolationRecorder,
	leases middleware.LeaseValidator,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		attempts:  attempts,
		integrity: integrity,
		leases:    leases,
		log:       log.With().Str("component", "ws_handler").Logger(),
		upgrader:  buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:id/stream
// Ownership and attempt state are checked before the upgrade so failures
// surface as ordinary HTTP errors.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)

	attemptID, ok := parseAttemptID(c)
	if !ok {
		return
	}

	a, err := h.attempts.Get(c.Request.Context(), claims.CandidateID, attemptID)
	if err != nil {
		status, code := response.FromError(err)
		response.Fail(c, status, code)
		return
	}
	if a.Status.Terminal() {
		response.Fail(c, http.StatusConflict, response.ErrAttemptTerminal)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(ws.MaxMessageSize)

	s := &stream{
		h:           h,
		conn:        conn,
		ctx:         c.Request.Context(),
		candidateID: claims.CandidateID,
		leaseToken:  claims.ID,
		attemptID:   attemptID,
		log: h.log.With().
			Int("candidate_id", claims.CandidateID).
			Str("attempt_id", attemptID.String()).
			Logger(),
	}

	s.log.Info().Msg("Candidate connected")
	_ = ws.WriteTyped(conn, ws.ConnectedResponse{
		Event:     ws.EventConnected,
		AttemptID: a.ID,
		Status:    a.Status,
		EndsAt:    a.EndsAt,
	})
	s.run()
}

// stream is one connected attempt.
type stream struct {
	h           *WSHandler
	conn        *websocket.Conn
	ctx         context.Context
	candidateID int
	leaseToken  string
	attemptID   uuid.UUID
	log         zerolog.Logger
}

func (s *stream) run() {
	for {
		action, raw, err := ws.ReadRequest(s.conn)
		if errors.Is(err, ws.ErrMalformed) {
			s.writeError(response.ErrInvalidPayload)
			continue
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}

		if !s.sessionValid() {
			return
		}

		var ended bool
		switch action {
		case ws.ActionAutosave:
			s.autosave(raw)
		case ws.ActionCheat:
			ended = s.cheat(raw)
		case ws.ActionSubmit:
			ended = s.submit()
		case ws.ActionPing:
			_ = ws.WriteTyped(s.conn, ws.PongResponse{Event: ws.EventPong, Time: time.Now().UTC()})
		default:
			s.log.Warn().Str("action", string(action)).Msg("Unknown action")
			s.writeError(response.ErrInvalidPayload)
		}

		if ended {
			ws.Close(s.conn, websocket.CloseNormalClosure, "attempt ended")
			return
		}
	}
}

// sessionValid re-checks the lease on every frame; a session replaced or
// logged out elsewhere loses the stream.
func (s *stream) sessionValid() bool {
	ctx, cancel := context.WithTimeout(s.ctx, actionTimeout)
	defer cancel()

	err := s.h.leases.Validate(ctx, s.candidateID, s.leaseToken)
	if err == nil {
		return true
	}
	if errors.Is(err, service.ErrStoreUnavailable) {
		s.writeError(response.ErrStoreUnavailable)
		ws.Close(s.conn, websocket.CloseTryAgainLater, "store unavailable")
		return false
	}
	s.writeError(response.ErrSessionInvalidated)
	ws.Close(s.conn, websocket.ClosePolicyViolation, "session invalidated")
	return false
}

func (s *stream) autosave(raw json.RawMessage) {
	var req model.SaveAnswerRequest
	if !s.decode(raw, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, actionTimeout)
	defer cancel()

	ans, err := s.h.attempts.SaveAnswer(ctx, s.candidateID, s.attemptID, req)
	if err != nil {
		s.fail(err)
		return
	}
	_ = ws.WriteTyped(s.conn, ws.SavedResponse{
		Event:       ws.EventSaved,
		QuestionID:  ans.QuestionID,
		LastSavedAt: ans.LastSavedAt,
	})
}

func (s *stream) cheat(raw json.RawMessage) bool {
	var req model.CheatingEventRequest
	if !s.decode(raw, &req) {
		return false
	}

	ctx, cancel := context.WithTimeout(s.ctx, actionTimeout)
	defer cancel()

	result, err := s.h.integrity.RecordViolation(ctx, s.candidateID, s.attemptID, req)
	if err != nil {
		s.fail(err)
		return false
	}
	_ = ws.WriteTyped(s.conn, ws.ViolationResponse{Event: ws.EventViolation, ViolationResult: *result})

	if !result.Status.Terminal() {
		return false
	}
	return s.sendEnded(ctx)
}

func (s *stream) submit() bool {
	ctx, cancel := context.WithTimeout(s.ctx, actionTimeout)
	defer cancel()

	a, err := s.h.attempts.Submit(ctx, s.candidateID, s.attemptID)
	if err != nil {
		s.fail(err)
		return false
	}
	_ = ws.WriteTyped(s.conn, ws.Ended(a))
	return true
}

func (s *stream) sendEnded(ctx context.Context) bool {
	a, err := s.h.attempts.Get(ctx, s.candidateID, s.attemptID)
	if err != nil {
		s.fail(err)
		return true
	}
	_ = ws.WriteTyped(s.conn, ws.Ended(a))
	return true
}

func (s *stream) decode(raw json.RawMessage, dst interface{}) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		s.writeError(response.ErrInvalidPayload)
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		s.writeError(response.ErrValidation)
		return false
	}
	return true
}

func (s *stream) fail(err error) {
	status, code := response.FromError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Stream action failed")
	}
	s.writeError(code)
}

func (s *stream) writeError(code response.ErrCode) {
	_ = ws.WriteError(s.conn, string(code), response.GetMessage(code))
}
