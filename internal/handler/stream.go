package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mailmind/assistant/internal/middleware"
	"github.com/mailmind/assistant/internal/model"
	"github.com/mailmind/assistant/internal/service"
	"github.com/mailmind/assistant/pkg/logger"
	"github.com/mailmind/assistant/pkg/metrics"
)

// streamBuffer is how many events a slow client may fall behind before its
// stream is closed.
const streamBuffer = 64

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	conversationService *service.ConversationService
	logger              *logger.Logger
	heartbeat           time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(convSvc *service.ConversationService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		conversationService: convSvc,
		logger:              log,
		heartbeat:           30 * time.Second,
	}
}

// SnapshotEvent carries the state a stream starts from.
type SnapshotEvent struct {
	Messages []model.Message `json:"messages"`
	Pending  bool            `json:"pending"`
}

// Stream handles GET /api/v1/conversations/:id/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	store, err := h.conversationService.Store(ctx, conversationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	events := make(chan model.ConversationEvent, streamBuffer)
	lagged := make(chan struct{})
	var lagOnce sync.Once

	msgs, pending, unsubscribe := store.Watch(func(event model.ConversationEvent) {
		select {
		case events <- event:
		default:
			lagOnce.Do(func() { close(lagged) })
		}
	})
	defer unsubscribe()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})
	sendSSEEvent(w, flusher, "snapshot", &SnapshotEvent{
		Messages: msgs,
		Pending:  pending,
	})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("conversation_id", conversationID))
			return

		case <-lagged:
			h.logger.Warn("SSE client fell behind, closing stream", zap.String("conversation_id", conversationID))
			sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
				Code:    "lagged",
				Message: "stream fell behind, reconnect to resync",
			})
			return

		case event := <-events:
			if err := sendSSEEvent(w, flusher, string(event.Type), event); err != nil {
				h.logger.Warn("failed to write SSE event", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
