// Package ws pushes session notifications to a user's open WebSocket
// connections.
package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/HerbHall/counsellor/internal/auth"
	"github.com/HerbHall/counsellor/internal/event"
	"github.com/HerbHall/counsellor/internal/journal"
	"github.com/HerbHall/counsellor/pkg/models"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Subscriber is the part of the event bus the handler listens on.
type Subscriber interface {
	Subscribe(topic string, handler event.Handler) (unsubscribe func())
}

// Handler provides the notification WebSocket endpoint.
type Handler struct {
	hub            *Hub
	tokens         *auth.TokenService
	originPatterns []string
	logger         *zap.Logger
	unsubscribe    []func()
	closeOnce      sync.Once
}

// NewHandler creates a WebSocket handler and subscribes to journal events.
// originPatterns limits browser origins; when empty any origin is accepted
// because the token query parameter authenticates the socket.
func NewHandler(tokens *auth.TokenService, bus Subscriber, originPatterns []string, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:            NewHub(logger),
		tokens:         tokens,
		originPatterns: originPatterns,
		logger:         logger,
	}
	if bus != nil {
		h.subscribe(bus)
	}
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/notifications", h.handleNotifications)
}

// Close stops forwarding events and hangs up every open socket.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		for _, unsub := range h.unsubscribe {
			unsub()
		}
		h.hub.closeAll()
	})
}

// handleNotifications upgrades the connection and streams the caller's
// notifications.
//
//	@Summary		Notification stream
//	@Description	WebSocket stream of details.learned and session.ended messages for the authenticated user.
//	@Tags			notifications
//	@Param			token	query	string	true	"Access token"
//	@Success		101
//	@Failure		401	{object}	models.APIProblem
//	@Router			/ws/notifications [get]
func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on WebSocket requests.
	token := r.URL.Query().Get("token")
	if token == "" {
		models.Problem(w, http.StatusUnauthorized, "missing token parameter")
		return
	}
	claims, err := h.tokens.ValidateAccessToken(token)
	if err != nil {
		models.Problem(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	opts := &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
	if len(h.originPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	l := h.hub.attach(claims.UserID)
	defer h.hub.detach(l)

	// Clients never send data; CloseRead handles control frames and ends
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := l.pump(ctx, conn); err != nil && ctx.Err() == nil {
		h.logger.Debug("notification stream ended", zap.String("user_id", claims.UserID), zap.Error(err))
		conn.Close(websocket.StatusInternalError, "write failed")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// subscribe forwards journal events to the owning user's sockets.
func (h *Handler) subscribe(bus Subscriber) {
	h.unsubscribe = append(h.unsubscribe,
		bus.Subscribe("journal.*", func(_ context.Context, e event.Event) {
			msg := Message{Timestamp: e.Timestamp}
			switch p := e.Payload.(type) {
			case journal.DetailsLearned:
				msg.Type, msg.ConversationID = MessageDetailsLearned, p.ConversationID
				msg.Data = DetailsLearnedData{Changes: p.Changes}
			case journal.SessionEnded:
				msg.Type, msg.ConversationID = MessageSessionEnded, p.ConversationID
				msg.Data = SessionEndedData{Summary: p.Summary, ChangeCount: p.ChangeCount}
			default:
				return
			}
			h.hub.SendToUser(e.UserID, msg)
		}),
	)
	h.logger.Debug("subscribed to journal events for WebSocket notifications")
}
