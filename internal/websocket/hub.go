package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"timetracker-backend/internal/metrics"
	"timetracker-backend/internal/middleware"
	"timetracker-backend/internal/models"
	"timetracker-backend/internal/relay"
)

const (
	transportWS = "websocket"
	writeWait   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type changeStreamer interface {
	Stream(ctx context.Context, userID uuid.UUID) (<-chan models.StreamMessage, error)
}

type connection struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub serves the push stream over WebSocket for clients that prefer it to
// server-sent events. Every connection gets its own relay stream; the hub
// only tracks connections so they can be counted and closed on shutdown.
type Hub struct {
	mu          sync.Mutex
	connections map[uuid.UUID][]*connection
	relay       changeStreamer
	pingPeriod  time.Duration
	log         zerolog.Logger
}

func NewHub(streamer changeStreamer, pingPeriod time.Duration, log zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*connection),
		relay:       streamer,
		pingPeriod:  pingPeriod,
		log:         log.With().Str("component", "ws_hub").Logger(),
	}
}

// HandleWebSocket expects the identity middleware in front of it; browsers
// pass the host token as the token query parameter.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := h.relay.Stream(ctx, userID)
	if err != nil {
		cancel()
		h.log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to subscribe to session changes")
		http.Error(w, "Change feed unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	conn := &connection{ws: ws, cancel: cancel}
	h.registerConnection(userID, conn)

	// Reader: only needed to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer h.unregisterConnection(userID, conn)
		h.writeLoop(ctx, ws, messages)
	}()
}

func (h *Hub) writeLoop(ctx context.Context, ws *websocket.Conn, messages <-chan models.StreamMessage) {
	if err := h.send(ws, models.StreamMessage{Type: relay.MessageConnected}); err != nil {
		return
	}

	var tick <-chan time.Time
	if h.pingPeriod > 0 {
		ticker := time.NewTicker(h.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-tick:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := h.send(ws, msg); err != nil {
				return
			}
		}
	}
}

func (h *Hub) send(ws *websocket.Conn, msg models.StreamMessage) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(msg)
}

func (h *Hub) registerConnection(userID uuid.UUID, conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[userID] = append(h.connections[userID], conn)
	metrics.StreamSubscribers.WithLabelValues(transportWS).Inc()

	h.log.Debug().Str("user_id", userID.String()).Int("total", len(h.connections[userID])).Msg("WebSocket connected")
}

func (h *Hub) unregisterConnection(userID uuid.UUID, conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.cancel()
	conn.ws.Close()

	conns := h.connections[userID]
	for i, c := range conns {
		if c == conn {
			h.connections[userID] = append(conns[:i], conns[i+1:]...)
			metrics.StreamSubscribers.WithLabelValues(transportWS).Dec()
			break
		}
	}
	if len(h.connections[userID]) == 0 {
		delete(h.connections, userID)
	}

	h.log.Debug().Str("user_id", userID.String()).Msg("WebSocket disconnected")
}

// Connections reports how many sockets a user has open.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections[userID])
}

// Close ends every connection; their write loops send a close frame.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.connections {
		for _, c := range conns {
			c.cancel()
		}
	}
}
