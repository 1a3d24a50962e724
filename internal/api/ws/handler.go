package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wckdouglas/rodeo/internal/infrastructure/monitoring"
	"github.com/wckdouglas/rodeo/internal/session"
	"github.com/wckdouglas/rodeo/internal/shared/errs"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The studio webview's origin never matches the loopback listen
	// address, so origin checks would only lock the GUI out.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler streams per-session kernel events to GUI subscribers.
type Handler struct {
	sessions *session.Manager
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewHandler creates the stream handler. metrics may be nil.
func NewHandler(sessions *session.Manager, logger *zap.Logger, metrics *monitoring.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, logger: logger, metrics: metrics}
}

// Stream upgrades the connection and forwards one session's events
// until either side goes away. Subscription happens before the upgrade
// so an unknown id is still a clean 404 instead of a dead socket.
func (h *Handler) Stream(c *gin.Context) {
	sid := c.Param("id")
	sub, err := h.sessions.Subscribe(sid)
	if err != nil {
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		h.logger.Warn("websocket upgrade failed",
			zap.String("session_id", sid),
			zap.Error(err))
		return
	}

	h.metrics.IncWSConnections()
	h.logger.Debug("event stream opened", zap.String("session_id", sid))

	defer func() {
		sub.Close()
		conn.Close()
		h.metrics.DecWSConnections()
		h.logger.Debug("event stream closed", zap.String("session_id", sid))
	}()

	// The GUI sends nothing meaningful, but reading surfaces close
	// frames and client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				// Session closed; the last event already went out.
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			h.metrics.RecordWSMessage("out", string(ev.Kind))
		case <-done:
			return
		}
	}
}
