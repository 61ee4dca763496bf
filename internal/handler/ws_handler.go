package handler

import (
	"context"
	"net/http"
	"time"

	"inkdown-notes/internal/middleware"
	"inkdown-notes/internal/service"
	"inkdown-notes/internal/session"
	"inkdown-notes/internal/websocket"
	"inkdown-notes/pkg/logger"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WebSocketHandler struct {
	manager  *websocket.Manager
	upgrader ws.Upgrader
	log      *zap.Logger
}

// NewWebSocketHandler accepts handshakes from origins the policy allows.
// Requests without an Origin header come from non-browser clients, which
// the API token already gates.
func NewWebSocketHandler(manager *websocket.Manager, origins *middleware.OriginPolicy, log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		log:     logger.OrNop(log),
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins.Allows(origin)
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade websocket connection", zap.Error(err))
		return
	}

	client := websocket.NewClient(uuid.New().String(), conn, h.manager)
	if !h.manager.Register(client) {
		conn.Close()
		return
	}
	h.log.Debug("websocket connected", zap.String("client_id", client.ID))

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler turns UI messages into presence signals and
// conflict decisions.
type WebSocketMessageHandler struct {
	sync     *service.SyncService
	presence *session.Presence
	manager  *websocket.Manager
	timeout  time.Duration
	log      *zap.Logger
}

func NewWebSocketMessageHandler(syncService *service.SyncService, presence *session.Presence, manager *websocket.Manager, timeout time.Duration, log *zap.Logger) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		sync:     syncService,
		presence: presence,
		manager:  manager,
		timeout:  timeout,
		log:      logger.OrNop(log),
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeVisibility:
		var payload websocket.VisibilityPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		h.presence.SetVisible(payload.Visible)

	case websocket.TypeFocus:
		h.presence.Focus()

	case websocket.TypeBlur:
		h.presence.Blur()

	case websocket.TypeResolveConflict:
		return h.handleResolve(client, msg)

	case websocket.TypePing:
		return h.reply(client, websocket.TypePong, nil)

	default:
		h.log.Debug("unknown websocket message type", zap.String("type", string(msg.Type)))
	}

	return nil
}

// handleResolve runs off the manager loop; resolving may touch the remote
// replica.
func (h *WebSocketMessageHandler) handleResolve(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.ResolveConflictPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		ack := &websocket.AckPayload{MessageID: msg.ID, Success: true}
		result, err := h.sync.ResolveConflict(ctx, payload.ConflictID, payload.Choice)
		if err != nil {
			ack.Success = false
			ack.Error = service.UserMessage(err)
		} else {
			ack.Data = result
		}

		if err := h.reply(client, websocket.TypeAck, ack); err != nil {
			h.log.Warn("failed to acknowledge conflict resolution", zap.Error(err))
		}
	}()
	return nil
}

func (h *WebSocketMessageHandler) reply(client *websocket.Client, msgType websocket.MessageType, payload interface{}) error {
	reply, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return h.manager.SendToClient(client, reply)
}
