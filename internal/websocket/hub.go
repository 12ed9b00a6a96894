package websocket

import (
	"encoding/json"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xelth-com/eckposgo/internal/sync"
)

// Hub fans conflict events out to connected review consoles. Only the Run
// goroutine touches the client set.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	stop    chan struct{}
	done    chan struct{}
	stopped atomic.Bool
	count   atomic.Int64

	log *zap.Logger
}

// NewHub creates a new Hub instance
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub's main loop and returns after Stop
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			h.log.Info("📡 Review console connected", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.count.Store(int64(len(h.clients)))
				h.log.Info("📴 Review console disconnected", zap.String("client_id", client.ID))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow consumer, drop it
					delete(h.clients, client)
					close(client.send)
					h.log.Warn("dropping slow review console", zap.String("client_id", client.ID))
				}
			}
			h.count.Store(int64(len(h.clients)))

		case <-h.stop:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.count.Store(0)
			return
		}
	}
}

// Stop ends Run and disconnects every client. It is safe to call more than once.
func (h *Hub) Stop() {
	if h.stopped.CompareAndSwap(false, true) {
		close(h.stop)
	}
	<-h.done
}

// Publish implements sync.Notifier. It never blocks: when the queue is full
// the event is dropped.
func (h *Hub) Publish(e sync.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		h.log.Error("failed to marshal conflict event", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("conflict event queue full, dropping event",
			zap.String("type", string(e.Type)), zap.String("conflict_id", e.ConflictID))
	}
}

// ClientCount returns the number of connected consoles
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
