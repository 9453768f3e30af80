package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/Freeeeeet/tutor_session/internal/service"
	"github.com/Freeeeeet/tutor_session/internal/transport/rest/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// PendingMessage carries a snapshot of the tutor's queue, oldest first
type PendingMessage struct {
	Type     string                  `json:"type"`
	Requests []*model.SessionRequest `json:"requests"`
}

// OutcomeMessage carries the terminal state of a request
type OutcomeMessage struct {
	Type    string                `json:"type"`
	Request *model.SessionRequest `json:"request"`
}

// Handler streams watcher output over WebSocket connections
type Handler struct {
	svc    *service.HandshakeService
	logger *zap.Logger
}

func NewHandler(svc *service.HandshakeService, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// TutorWS handles GET /v1/ws/tutor
func (h *Handler) TutorWS(w http.ResponseWriter, r *http.Request) {
	tutorID := middleware.GetUserID(r.Context())

	// Соединение живёт дольше запроса: контекст отменяют насосы
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))

	feed, err := h.svc.WatchPending(ctx, tutorID)
	if err != nil {
		cancel()
		h.rejectUpgrade(w, err)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		h.logger.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}

	msgs := make(chan interface{})
	go func() {
		defer close(msgs)
		for snapshot := range feed {
			select {
			case msgs <- PendingMessage{Type: "pending", Requests: snapshot}:
			case <-ctx.Done():
			}
		}
	}()

	h.logger.Info("Tutor connected via WebSocket", zap.Int64("tutor_id", tutorID))

	go h.writePump(wsConn, msgs, normalClose, cancel)
	go h.readPump(wsConn, cancel)
}

// RequestWS handles GET /v1/ws/requests/{id}: one outcome message, then a normal close.
// If the watch stops without an outcome the client gets 1011 and should reconnect.
func (h *Handler) RequestWS(w http.ResponseWriter, r *http.Request) {
	requestID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeHTTPError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	req, err := h.svc.Get(r.Context(), requestID)
	if err != nil {
		h.rejectUpgrade(w, err)
		return
	}
	userID := middleware.GetUserID(r.Context())
	if req.StudentID != userID && req.TutorID != userID {
		writeHTTPError(w, http.StatusForbidden, "not a participant of this request")
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))

	feed, err := h.svc.WatchOutcome(ctx, requestID)
	if err != nil {
		cancel()
		h.rejectUpgrade(w, err)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		h.logger.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}

	msgs := make(chan interface{})
	delivered := false
	go func() {
		defer close(msgs)
		for outcome := range feed {
			select {
			case msgs <- OutcomeMessage{Type: "outcome", Request: outcome}:
				delivered = true
			case <-ctx.Done():
			}
		}
	}()

	// delivered читается только после close(msgs)
	closeCode := func() int {
		if delivered || ctx.Err() != nil {
			return websocket.CloseNormalClosure
		}
		h.logger.Warn("Outcome watch ended without a terminal state", zap.String("request_id", requestID.String()))
		return websocket.CloseInternalServerErr
	}

	go h.writePump(wsConn, msgs, closeCode, cancel)
	go h.readPump(wsConn, cancel)
}

func (h *Handler) rejectUpgrade(w http.ResponseWriter, err error) {
	switch {
	case service.IsNotFound(err):
		writeHTTPError(w, http.StatusNotFound, err.Error())
	case service.IsTransient(err):
		writeHTTPError(w, http.StatusServiceUnavailable, "temporarily unavailable, please retry")
	case errors.Is(err, context.Canceled):
		writeHTTPError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		h.logger.Error("Failed to open watch", zap.Error(err))
		writeHTTPError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func writeHTTPError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func normalClose() int { return websocket.CloseNormalClosure }

func (h *Handler) readPump(wsConn *websocket.Conn, cancel context.CancelFunc) {
	defer func() {
		cancel()
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := wsConn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		// Клиент ничего не присылает, читаем только ради pong и close
	}
}

// writePump sends msgs until the channel closes, then closes the socket with closeCode()
func (h *Handler) writePump(wsConn *websocket.Conn, msgs <-chan interface{}, closeCode func() int, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		wsConn.Close()
	}()

	for {
		select {
		case msg, ok := <-msgs:
			_ = wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = wsConn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(closeCode(), ""))
				return
			}
			if err := wsConn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
