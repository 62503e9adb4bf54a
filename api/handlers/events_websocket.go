package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/offline-downloader/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Event names on the wire, matching what the host application listens for
const (
	eventDownloadListChanged = "onDownloadListChanged"
	eventDownloadProgress    = "onDownloadProgress"
	eventDownloadError       = "onDownloadError"
	eventRenewLicenseResult  = "onRenewLicenseResult"
)

type eventEnvelope struct {
	Event string      `json:"event"`
	Body  interface{} `json:"body"`
}

type eventClient struct {
	conn *websocket.Conn
	send chan []byte
}

// EventHub implements domain.Notifier over WebSocket connections. Each
// subscriber gets its own buffered send queue; progress events may be
// dropped for a slow consumer (at-most-recent semantics), state-change
// events are queued unconditionally.
type EventHub struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	clients map[string]*eventClient
}

// NewEventHub creates an event hub
func NewEventHub(logger *zap.Logger) *EventHub {
	return &EventHub{
		logger:  logger,
		clients: make(map[string]*eventClient),
	}
}

// HandleWebSocket upgrades the connection and streams download events
func (h *EventHub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}

	id := uuid.New().String()
	client := &eventClient{conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[id] = client
	h.mu.Unlock()

	h.logger.Info("Event subscriber connected",
		zap.String("subscriber", id),
		zap.String("remote_addr", c.Request.RemoteAddr))

	defer func() {
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
		conn.Close()
	}()

	// Drain client messages so ping/pong keeps working
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case data := <-client.send:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *EventHub) broadcast(event string, body interface{}, droppable bool) {
	data, err := json.Marshal(eventEnvelope{Event: event, Body: body})
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, client := range h.clients {
		select {
		case client.send <- data:
		default:
			if droppable {
				// Slow consumer: progress ticks are coalesced, the next
				// one carries the newest counters anyway.
				continue
			}
			h.logger.Warn("Event queue full, dropping subscriber",
				zap.String("subscriber", id), zap.String("event", event))
		}
	}
}

// DownloadListChanged emits the full record snapshot
func (h *EventHub) DownloadListChanged(records []*domain.DownloadRecord) {
	h.broadcast(eventDownloadListChanged, recordViews(records), false)
}

// DownloadProgress emits the currently-downloading subset
func (h *EventHub) DownloadProgress(active []*domain.DownloadRecord) {
	h.broadcast(eventDownloadProgress, recordViews(active), true)
}

// DownloadFailed emits a structured download error
func (h *EventHub) DownloadFailed(event domain.DownloadErrorEvent) {
	h.broadcast(eventDownloadError, event, false)
}

// RenewLicenseResult emits the outcome of a license renewal
func (h *EventHub) RenewLicenseResult(event domain.RenewLicenseEvent) {
	h.broadcast(eventRenewLicenseResult, event, false)
}

// recordView is the wire shape of one record, with derived fields the
// host application renders directly.
type recordView struct {
	*domain.DownloadRecord
	Identifier string `json:"identifier"`
	Expired    bool   `json:"expired,omitempty"`
}

func recordViews(records []*domain.DownloadRecord) []recordView {
	now := time.Now()
	out := make([]recordView, 0, len(records))
	for _, record := range records {
		out = append(out, recordView{
			DownloadRecord: record,
			Identifier:     record.Identifier(),
			Expired:        record.IsExpired(now),
		})
	}
	return out
}
