package chat

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatService "github.com/zhouzirui/z-tavern/salesbot/internal/service/chat"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// webSocketHandler keeps one socket per session open and runs a turn for
// every inbound message frame.
type webSocketHandler struct {
	chatSvc     *chatService.Service
	upgrader    websocket.Upgrader
	readTimeout time.Duration
}

func newWebSocketHandler(chatSvc *chatService.Service) *webSocketHandler {
	return &webSocketHandler{
		chatSvc:     chatSvc,
		readTimeout: wsReadTimeout,
		upgrader: websocket.Upgrader{
			// Origin checks are done by the CORS middleware.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *webSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	go pingLoop(ctx, conn)

	h.send(conn, sessionID, "connected", nil)

	for {
		// Pongs are not read while a turn runs, so the idle window restarts
		// only once the previous frame has been answered.
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}

		switch msg.Type {
		case "message":
			h.handleTurn(ctx, conn, sessionID, msg.Text)
		case "reset":
			deleted, err := h.chatSvc.Reset(ctx, sessionID)
			if err != nil {
				h.send(conn, sessionID, "error", map[string]string{"message": err.Error()})
				continue
			}
			h.send(conn, sessionID, "reset", map[string]int64{"deleted": deleted})
		default:
			h.send(conn, sessionID, "error", map[string]string{"message": "unsupported message type: " + msg.Type})
		}
	}
}

func (h *webSocketHandler) handleTurn(ctx context.Context, conn *websocket.Conn, sessionID, text string) {
	reply, err := h.chatSvc.HandleTurn(ctx, sessionID, text)
	if err != nil {
		h.send(conn, sessionID, "error", map[string]string{"message": err.Error()})
		return
	}
	h.send(conn, sessionID, "reply", reply)
}

// send is only called from the read loop, so writes never race.
func (h *webSocketHandler) send(conn *websocket.Conn, sessionID, kind string, data interface{}) {
	msg := outgoingMessage{
		Type:      kind,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write %s failed: %v", kind, err)
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
