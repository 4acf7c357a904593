package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"matchchat/internal/config"
	"matchchat/internal/domain"
	"matchchat/internal/middleware"
	"matchchat/internal/realtime"
	"matchchat/internal/service"
	"matchchat/pkg/logger"
)

var upgrader = websocket.Upgrader{
	// Доступ проверяется токеном, а не origin.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// closeTryAgainLater - код 1013: подписчик отстал или поток прерывался, клиент переподключается и сверяется.
const closeTryAgainLater = 1013

type WebSocketHandler struct {
	broker   *realtime.Broker
	resolver service.ResolverService
	cfg      config.WSConfig
	log      logger.Logger
}

func NewWebSocketHandler(broker *realtime.Broker, resolver service.ResolverService, cfg config.WSConfig, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		broker:   broker,
		resolver: resolver,
		cfg:      cfg,
		log:      log.With("component", "websocket"),
	}
}

// Conversation - поток событий журнала одного матча, только для участников.
func (h *WebSocketHandler) Conversation(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	userID := middleware.UserID(c)
	if _, err := h.resolver.Get(c.Request.Context(), id, userID); err != nil {
		_ = c.Error(err)
		return
	}
	h.serve(c, domain.ConversationChannel(id), userID)
}

// Me - поток изменений списка матчей текущего пользователя.
func (h *WebSocketHandler) Me(c *gin.Context) {
	userID := middleware.UserID(c)
	h.serve(c, domain.UserChannel(userID), userID)
}

func (h *WebSocketHandler) serve(c *gin.Context, channel, userID string) {
	// Подписываемся до апгрейда: события между апгрейдом и подпиской не теряются.
	sub, err := h.broker.Subscribe(channel)
	if err != nil {
		_ = c.Error(err)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	log := h.log.With("channel", channel, "user_id", userID)
	log.Debug("WebSocket subscribed")

	pongWait := h.cfg.PingInterval * 2
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Входящие кадры не нужны, читаем ради pong и close.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-readerDone:
			log.Debug("WebSocket closed by client")
			return
		case evt, ok := <-sub.Events():
			if !ok {
				h.closeWithReason(conn, sub.Err(), log)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				log.Warn("Failed to write event", "error", err, "event_id", evt.ID)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				log.Debug("Ping failed", "error", err)
				return
			}
		}
	}
}

func (h *WebSocketHandler) closeWithReason(conn *websocket.Conn, reason error, log logger.Logger) {
	code, text := websocket.CloseGoingAway, "server shutting down"
	if errors.Is(reason, realtime.ErrSlowConsumer) {
		code, text = closeTryAgainLater, "subscriber fell behind, reconnect"
		log.Warn("Closing slow WebSocket subscriber")
	} else if errors.Is(reason, realtime.ErrRelayInterrupted) {
		code, text = closeTryAgainLater, "event stream interrupted, reconnect"
		log.Warn("Closing WebSocket subscriber after relay interruption")
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(h.cfg.WriteTimeout))
}
