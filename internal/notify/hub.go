// Package notify delivers mailbox events to per-user queues.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-engine/pkg/types"
)

// DefaultBuffer is the per-user queue capacity
const DefaultBuffer = 100

// Hub fans notifications out to per-user buffered queues. Publishing never
// blocks: when a queue is full the oldest event is dropped.
type Hub struct {
	mu     sync.RWMutex
	queues map[string]chan types.Notification
	size   int
	logger *logrus.Logger
}

// NewHub creates a hub with the given per-user buffer size
func NewHub(size int, logger *logrus.Logger) *Hub {
	if size <= 0 {
		size = DefaultBuffer
	}
	return &Hub{
		queues: make(map[string]chan types.Notification),
		size:   size,
		logger: logger,
	}
}

// Publish enqueues n for user, filling in id and timestamp when empty
func (h *Hub) Publish(user string, n types.Notification) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	q := h.queue(user)
	for {
		select {
		case q <- n:
			return
		default:
		}

		// Full: drop the oldest and retry
		select {
		case dropped := <-q:
			h.logger.WithFields(logrus.Fields{
				"type":       dropped.Type,
				"message_id": dropped.MessageID,
			}).Debug("Notification queue full, dropped oldest")
		default:
		}
	}
}

// Subscribe returns the receive side of the user's queue
func (h *Hub) Subscribe(user string) <-chan types.Notification {
	return h.queue(user)
}

// Drain returns and removes every queued notification for user
func (h *Hub) Drain(user string) []types.Notification {
	q := h.queue(user)
	out := []types.Notification{}
	for {
		select {
		case n := <-q:
			out = append(out, n)
		default:
			return out
		}
	}
}

func (h *Hub) queue(user string) chan types.Notification {
	h.mu.RLock()
	q, ok := h.queues[user]
	h.mu.RUnlock()
	if ok {
		return q
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if q, ok = h.queues[user]; !ok {
		q = make(chan types.Notification, h.size)
		h.queues[user] = q
	}
	return q
}
