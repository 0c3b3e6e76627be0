package broadcast

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/shuvam773/kanban/domain"
)

const defaultSubscriberBuffer = 64

// Message is one encoded event ready to be written to a connection.
type Message struct {
	Version int64
	Type    domain.EventType
	Data    []byte
}

// Subscription is a connection's membership in a board room. C is closed
// when the connection leaves or is evicted.
type Subscription struct {
	ID      string
	BoardID string
	C       <-chan Message
}

// Hub tracks room membership per board and fans messages out to members.
// Delivery never blocks: a member whose queue is full is evicted so it can
// reconnect and refetch.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[string]chan Message
	buffer int
	log    *log.Logger
}

// NewHub creates a hub with per-connection queues of the given size.
func NewHub(buffer int, logger *log.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{rooms: make(map[string]map[string]chan Message), buffer: buffer, log: logger}
}

// Join adds the connection to the board room. Joining twice returns the
// existing subscription.
func (h *Hub) Join(boardID, connID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[boardID]
	if !ok {
		room = make(map[string]chan Message)
		h.rooms[boardID] = room
	}
	ch, ok := room[connID]
	if !ok {
		ch = make(chan Message, h.buffer)
		room[connID] = ch
	}
	return &Subscription{ID: connID, BoardID: boardID, C: ch}
}

// Leave removes the connection from the board room. Leaving a room the
// connection is not in is a no-op.
func (h *Hub) Leave(boardID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(boardID, connID)
}

func (h *Hub) removeLocked(boardID, connID string) {
	room, ok := h.rooms[boardID]
	if !ok {
		return
	}
	if ch, ok := room[connID]; ok {
		delete(room, connID)
		close(ch)
	}
	if len(room) == 0 {
		delete(h.rooms, boardID)
	}
}

// Broadcast delivers msg to every member of the board room in the order
// Broadcast is called. It returns the number of members reached.
func (h *Hub) Broadcast(boardID string, msg Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for connID, ch := range h.rooms[boardID] {
		select {
		case ch <- msg:
			delivered++
		default:
			h.log.WithFields(log.Fields{"board": boardID, "conn": connID}).Warn("subscriber queue full; evicting")
			h.removeLocked(boardID, connID)
		}
	}
	return delivered
}

// Members returns the number of connections in the board room.
func (h *Hub) Members(boardID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[boardID])
}
