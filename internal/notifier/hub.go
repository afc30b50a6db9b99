package notifier

import (
	"net/http"
	"sync"
	"time"

	"github.com/amaumene/yggsync/internal/metrics"
	"github.com/amaumene/yggsync/internal/models"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// ObserverQueueSize is the per-observer buffer; events beyond it are
	// dropped for that observer only
	ObserverQueueSize = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ObserverID identifies a subscription
type ObserverID int

// Hub fans engine events out to observers. Publish never blocks; delivery is
// at most once and nothing is replayed to late subscribers.
type Hub struct {
	mu        sync.RWMutex
	observers map[ObserverID]chan models.Event
	lastID    ObserverID
	closed    bool

	metrics  *metrics.Metrics
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

// NewHub creates a new hub
func NewHub(m *metrics.Metrics, logger *logrus.Logger) *Hub {
	return &Hub{
		observers: make(map[ObserverID]chan models.Event),
		metrics:   m,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard may be served from another origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Subscribe registers an observer. The channel is closed by Unsubscribe or
// Close.
func (h *Hub) Subscribe() (ObserverID, <-chan models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.Event, ObserverQueueSize)
	if h.closed {
		close(ch)
		return 0, ch
	}

	h.lastID++
	id := h.lastID
	h.observers[id] = ch
	h.metrics.SetObservers(len(h.observers))
	return id, ch
}

// Unsubscribe removes an observer and closes its channel. Unknown IDs are
// ignored.
func (h *Hub) Unsubscribe(id ObserverID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.observers[id]
	if !ok {
		return
	}
	delete(h.observers, id)
	close(ch)
	h.metrics.SetObservers(len(h.observers))
}

// Publish delivers the event to every observer with room in its buffer
func (h *Hub) Publish(event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.observers {
		select {
		case ch <- event:
		default:
			h.metrics.IncDropped()
			h.logger.WithFields(logrus.Fields{
				"observer": id,
				"type":     event.Type,
			}).Debug("Observer queue full, dropping event")
		}
	}
}

// Observers returns the number of current observers
func (h *Hub) Observers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Close unsubscribes every observer. Later subscriptions get a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.observers {
		delete(h.observers, id)
		close(ch)
	}
	h.metrics.SetObservers(0)
}

// ServeHTTP upgrades the request to a WebSocket and streams events as JSON
// until the client goes away or the hub is closed
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	id, events := h.Subscribe()
	defer h.Unsubscribe(id)

	logger := h.logger.WithFields(logrus.Fields{
		"observer":    id,
		"remote_addr": r.RemoteAddr,
	})
	logger.Info("WebSocket client connected")
	defer logger.Info("WebSocket client disconnected")

	// Clients never send anything useful; reading keeps pongs and close
	// frames flowing
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				logger.WithError(err).Debug("WebSocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
