package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const (
	outboxSize   = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// listener is one open notification socket.
type listener struct {
	userID  string
	outbox  chan Message
	dropped atomic.Int64
}

// offer queues msg without blocking. A full outbox gives up its oldest
// message to make room.
func (l *listener) offer(msg Message) bool {
	select {
	case l.outbox <- msg:
		return true
	default:
	}
	select {
	case <-l.outbox:
		l.dropped.Add(1)
	default:
	}
	select {
	case l.outbox <- msg:
		return true
	default:
		l.dropped.Add(1)
		return false
	}
}

// pump writes queued messages and keepalive pings to conn. It returns nil
// once the hub detaches l, or the error that ended the stream.
func (l *listener) pump(ctx context.Context, conn *websocket.Conn) error {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-l.outbox:
			if !ok {
				return nil
			}
			if err := withDeadline(ctx, func(ctx context.Context) error {
				return wsjson.Write(ctx, conn, msg)
			}); err != nil {
				return err
			}
		case <-ping.C:
			if err := withDeadline(ctx, conn.Ping); err != nil {
				return err
			}
		}
	}
}

func withDeadline(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return op(ctx)
}

// Hub fans notifications out to every socket a user has open.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string][]*listener
	logger *zap.Logger
}

// NewHub returns an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{byUser: make(map[string][]*listener), logger: logger}
}

func (h *Hub) attach(userID string) *listener {
	l := &listener{userID: userID, outbox: make(chan Message, outboxSize)}
	h.mu.Lock()
	h.byUser[userID] = append(h.byUser[userID], l)
	open := len(h.byUser[userID])
	h.mu.Unlock()
	h.logger.Debug("notification socket attached",
		zap.String("user_id", userID), zap.Int("open", open))
	return l
}

// detach removes l and closes its outbox. Detaching twice is a no-op.
func (h *Hub) detach(l *listener) {
	h.mu.Lock()
	list := h.byUser[l.userID]
	found := false
	for i, other := range list {
		if other == l {
			list = append(list[:i], list[i+1:]...)
			found = true
			break
		}
	}
	if found {
		close(l.outbox)
		if len(list) == 0 {
			delete(h.byUser, l.userID)
		} else {
			h.byUser[l.userID] = list
		}
	}
	h.mu.Unlock()
	if !found {
		return
	}
	fields := []zap.Field{zap.String("user_id", l.userID)}
	if n := l.dropped.Load(); n > 0 {
		fields = append(fields, zap.Int64("dropped", n))
	}
	h.logger.Debug("notification socket detached", fields...)
}

// closeAll detaches every socket.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for user, list := range h.byUser {
		for _, l := range list {
			close(l.outbox)
		}
		delete(h.byUser, user)
	}
}

// SendToUser queues msg on each of the user's sockets and reports how many
// accepted it.
func (h *Hub) SendToUser(userID string, msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	accepted := 0
	for _, l := range h.byUser[userID] {
		if l.offer(msg) {
			accepted++
		}
	}
	return accepted
}

// Connections counts open sockets across all users.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, list := range h.byUser {
		n += len(list)
	}
	return n
}

// Users counts users with at least one open socket.
func (h *Hub) Users() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}
