package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/resident-x/go-solarsight/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	subscriberSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type subscriber struct {
	siteID string
	send   chan *domain.SiteView
}

// Hub fans refreshed site views out to websocket subscribers. Slow subscribers drop views
// rather than block the refresh path.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	logger      zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		logger:      logger.With().Str("component", "stream_hub").Logger(),
	}
}

func (h *Hub) subscribe(siteID string) *subscriber {
	sub := &subscriber{siteID: siteID, send: make(chan *domain.SiteView, subscriberSize)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}

// Broadcast delivers a view to every subscriber of its site.
func (h *Hub) Broadcast(view *domain.SiteView) {
	if view == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		if sub.siteID != view.SiteID {
			continue
		}
		select {
		case sub.send <- view:
		default:
			h.logger.Warn().
				Str("site_id", view.SiteID).
				Str("view", string(view.View)).
				Msg("Subscriber buffer full, dropping view")
		}
	}
}

// Subscribers returns the number of subscribers for a site.
func (h *Hub) Subscribers(siteID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for sub := range h.subscribers {
		if sub.siteID == siteID {
			n++
		}
	}
	return n
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}

// serve upgrades the request and streams views for siteID until the client goes away.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, siteID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	sub := h.subscribe(siteID)
	h.logger.Debug().Str("site_id", siteID).Msg("Stream subscriber connected")

	go h.readPump(conn, sub)
	h.writePump(conn, sub)
}

// readPump discards client messages and unsubscribes when the connection closes.
func (h *Hub) readPump(conn *websocket.Conn, sub *subscriber) {
	defer h.unsubscribe(sub)

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
}

// writePump sends queued views and keeps the connection alive with pings.
func (h *Hub) writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		h.logger.Debug().Str("site_id", sub.siteID).Msg("Stream subscriber disconnected")
	}()

	for {
		select {
		case view, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(view); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
