package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"timetracker-backend/internal/metrics"
	"timetracker-backend/internal/middleware"
	"timetracker-backend/internal/models"
	"timetracker-backend/internal/relay"
)

const transportSSE = "sse"

type changeStreamer interface {
	Stream(ctx context.Context, userID uuid.UUID) (<-chan models.StreamMessage, error)
}

// StreamHandler pushes the caller's session changes as server-sent events.
// The feed subscription lives exactly as long as the client connection.
type StreamHandler struct {
	relay     changeStreamer
	keepAlive time.Duration
	log       zerolog.Logger
	closing   chan struct{}
	once      sync.Once
}

func NewStreamHandler(streamer changeStreamer, keepAlive time.Duration, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{relay: streamer, keepAlive: keepAlive, log: log, closing: make(chan struct{})}
}

// Close ends every open stream so server shutdown does not wait on them.
func (h *StreamHandler) Close() {
	h.once.Do(func() { close(h.closing) })
}

func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Streaming unsupported", r))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	messages, err := h.relay.Stream(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to subscribe to session changes")
		writeJSON(w, http.StatusServiceUnavailable, errorResp("TRANSIENT_ERROR", "Change feed unavailable", r))
		return
	}

	metrics.StreamSubscribers.WithLabelValues(transportSSE).Inc()
	defer metrics.StreamSubscribers.WithLabelValues(transportSSE).Dec()

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	h.prepare(w)
	w.WriteHeader(http.StatusOK)
	if err := writeEvent(w, models.StreamMessage{Type: relay.MessageConnected}); err != nil {
		return
	}
	flusher.Flush()

	var tick <-chan time.Time
	if h.keepAlive > 0 {
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closing:
			return
		case <-tick:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := writeEvent(w, msg); err != nil {
				h.log.Debug().Err(err).Str("user_id", userID.String()).Msg("stream client went away")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *StreamHandler) prepare(w http.ResponseWriter) {
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
}

func writeEvent(w http.ResponseWriter, msg models.StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
