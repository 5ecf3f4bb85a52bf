package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-gate/internal/domain"
	"github.com/prohmpiriya/booking-rush-gate/internal/metrics"
	"github.com/prohmpiriya/booking-rush-gate/internal/middleware"
	"github.com/prohmpiriya/booking-rush-gate/internal/repository"
	"github.com/prohmpiriya/booking-rush-gate/internal/service"
	"github.com/prohmpiriya/booking-rush-gate/pkg/logger"
	"github.com/prohmpiriya/booking-rush-gate/pkg/response"
	"go.uber.org/zap"
)

const (
	// streamStart reads every message of a channel that had none at connect
	streamStart  = "0-0"
	replayBatch  = 100
	lastEventID  = "Last-Event-ID"
	cursorQuery  = "cursor"
	eventIDQuery = "event_id"
)

// PushHandler serves each user's push channel as a server-sent event stream
type PushHandler struct {
	admission service.AdmissionService
	push      repository.PushStore
	heartbeat time.Duration
	log       *logger.Logger
}

// NewPushHandler creates a new push handler
func NewPushHandler(admission service.AdmissionService, push repository.PushStore, heartbeat time.Duration, log *logger.Logger) *PushHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &PushHandler{admission: admission, push: push, heartbeat: heartbeat, log: log}
}

// Stream handles GET /queue/stream.
//
// A client reconnecting with Last-Event-ID gets every retained message after
// it. A fresh client naming an event gets its current state first, so a
// promotion that happened before it connected is never missed.
func (h *PushHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}
	eventID := c.Query(eventIDQuery)
	cursor := c.GetHeader(lastEventID)
	if cursor == "" {
		cursor = c.Query(cursorQuery)
	}

	// everything that can fail with a status code happens before the
	// stream headers go out
	var first []*domain.PushMessage
	switch {
	case cursor != "":
		msgs, err := h.push.After(ctx, userID, cursor, replayBatch)
		if err != nil {
			handleError(c, err)
			return
		}
		first = msgs
	case eventID != "":
		state, err := h.admission.Status(ctx, eventID, userID)
		if err != nil {
			handleError(c, err)
			return
		}
		first = append(first, stateMessage(state))
		cursor = state.Cursor
	default:
		latest, err := h.push.After(ctx, userID, "", 1)
		if err != nil {
			handleError(c, err)
			return
		}
		if len(latest) > 0 {
			cursor = latest[0].ID
		}
	}
	if cursor == "" {
		cursor = streamStart
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	metrics.RecordPushSession(ctx, 1)
	defer metrics.RecordPushSession(context.WithoutCancel(ctx), -1)
	h.log.Debug("push stream opened", zap.String("user_id", userID), zap.String("cursor", cursor))

	for _, msg := range first {
		if msg.ID != "" {
			cursor = msg.ID
		}
		h.write(c, msg)
	}

	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := h.push.Wait(ctx, userID, cursor, h.heartbeat)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.log.Warn("push stream read failed", zap.String("user_id", userID), zap.Error(err))
			return
		}
		if len(msgs) == 0 {
			h.write(c, h.heartbeatMessage(ctx, eventID, userID))
			continue
		}
		for _, msg := range msgs {
			cursor = msg.ID
			h.write(c, msg)
		}
	}
}

func (h *PushHandler) write(c *gin.Context, msg *domain.PushMessage) {
	c.Render(-1, sse.Event{
		Id:    msg.ID,
		Event: string(msg.Kind),
		Data:  msg,
	})
	c.Writer.Flush()
}

// heartbeatMessage refreshes the rank of a waiting client on every keep-alive
func (h *PushHandler) heartbeatMessage(ctx context.Context, eventID, userID string) *domain.PushMessage {
	msg := &domain.PushMessage{Kind: domain.PushHeartbeat, EventID: eventID, At: time.Now()}
	if eventID == "" {
		return msg
	}
	state, err := h.admission.Status(ctx, eventID, userID)
	if err != nil {
		h.log.Debug("heartbeat state refresh failed", zap.String("user_id", userID), zap.Error(err))
		return msg
	}
	if state.Status == domain.StatusWaiting {
		msg.Status = state.Status
		msg.Rank = state.Rank
	}
	return msg
}

// stateMessage renders a state snapshot as a status message. It carries no
// id, since it is not part of the replayable history.
func stateMessage(s *domain.AdmissionState) *domain.PushMessage {
	return &domain.PushMessage{
		Kind:       domain.PushStatus,
		EventID:    s.EventID,
		Status:     s.Status,
		Rank:       s.Rank,
		EntryToken: s.EntryToken,
		ExpiresAt:  s.ExpiresAt,
		At:         time.Now(),
	}
}
