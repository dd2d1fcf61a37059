package http

import (
	"context"
	"errors"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/actorchat-server/internal/auth"
	"github.com/vovakirdan/actorchat-server/internal/core"
)

// WSHandler upgrades HTTP connections and hands the socket to the
// connection manager.
type WSHandler struct {
	mgr     *core.Manager
	tickets *auth.TicketConfig
	log     *zerolog.Logger
}

// NewWSHandler builds the websocket handler.
func NewWSHandler(mgr *core.Manager, tickets *auth.TicketConfig, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{mgr: mgr, tickets: tickets, log: logger}
}

// identity extracts the (user, room) pair from the handshake: a signed
// ticket when ticket auth is on, plain query ids otherwise.
func (h *WSHandler) identity(c *gin.Context) (userID, roomID uuid.UUID, err error) {
	if len(h.tickets.Secret) > 0 {
		claims, err := auth.ValidateTicket(h.tickets, c.Query("ticket"))
		if err != nil {
			return uuid.Nil, uuid.Nil, err
		}
		return claims.UserID, claims.RoomID, nil
	}

	userID, err = uuid.Parse(c.Query("user_id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.New("bad user_id")
	}
	roomID, err = uuid.Parse(c.Query("room_id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.New("bad room_id")
	}
	return userID, roomID, nil
}

// Handle serves GET /ws.
func (h *WSHandler) Handle(c *gin.Context) {
	userID, roomID, err := h.identity(c)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws handshake rejected")
		c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "invalid handshake identity"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}

	err = h.mgr.Serve(c.Request.Context(), userID, roomID, newWSConn(conn))
	if err != nil && !errors.Is(err, context.Canceled) {
		if websocket.CloseStatus(err) == -1 && !errors.Is(err, core.ErrRoomNotFound) && !errors.Is(err, core.ErrUserNotFound) {
			h.log.Warn().Err(err).Msg("ws session ended with error")
		} else {
			h.log.Debug().Err(err).Msg("ws session ended")
		}
	}
}

// wsConn adapts a coder/websocket connection to core.Conn frames.
type wsConn struct {
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (w *wsConn) Read(ctx context.Context) (core.Frame, error) {
	typ, data, err := w.conn.Read(ctx)
	if err != nil {
		return core.Frame{}, err
	}
	return core.Frame{Binary: typ == websocket.MessageBinary, Data: data}, nil
}

func (w *wsConn) Write(ctx context.Context, f core.Frame) error {
	typ := websocket.MessageText
	if f.Binary {
		typ = websocket.MessageBinary
	}
	return w.conn.Write(ctx, typ, f.Data)
}

// Reject closes with an unacceptable-data status during session setup.
func (w *wsConn) Reject(reason string) error {
	return w.conn.Close(websocket.StatusUnsupportedData, reason)
}

func (w *wsConn) Close(reason string) error {
	return w.conn.Close(websocket.StatusNormalClosure, reason)
}
