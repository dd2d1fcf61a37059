package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/actorchat-server/internal/auth"
	"github.com/vovakirdan/actorchat-server/internal/core"
	"github.com/vovakirdan/actorchat-server/internal/store"
)

// APIHandlers provides HTTP handlers for the REST API.
type APIHandlers struct {
	mgr     *core.Manager
	tickets *auth.TicketConfig
	log     *zerolog.Logger
}

// NewAPIHandlers creates the REST handlers.
func NewAPIHandlers(mgr *core.Manager, tickets *auth.TicketConfig, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{mgr: mgr, tickets: tickets, log: logger}
}

// CreateUserRequest is the create-user request body.
type CreateUserRequest struct {
	Name string `json:"name" binding:"required,min=1,max=64"`
}

// CreateRoomRequest is the create-room request body.
type CreateRoomRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=64"`
	Description string `json:"description" binding:"max=512"`
}

// ConnectRequest asks for a websocket connect ticket.
type ConnectRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
	RoomID uuid.UUID `json:"room_id" binding:"required"`
}

// UserResponse is the user representation on the REST surface.
type UserResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// RoomResponse is the room representation on the REST surface.
type RoomResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
}

// ConnectResponse carries the signed connect ticket.
type ConnectResponse struct {
	Ticket string `json:"ticket"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func roomResponse(r store.Room) RoomResponse {
	return RoomResponse{ID: r.ID, Name: r.Name, Description: r.Description}
}

// CreateUser handles POST /api/users.
func (h *APIHandlers) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create user request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	user, err := h.mgr.CreateUser(c.Request.Context(), req.Name)
	if err != nil {
		h.log.Error().Err(err).Str("name", req.Name).Msg("failed to create user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("user_id", user.ID.String()).Str("name", user.Name).Msg("user created")
	c.JSON(http.StatusCreated, UserResponse{ID: user.ID, Name: user.Name})
}

// CreateRoom handles POST /api/rooms.
func (h *APIHandlers) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	room, err := h.mgr.CreateRoom(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		h.log.Error().Err(err).Str("name", req.Name).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room_id", room.ID.String()).Str("name", room.Name).Msg("room created")
	c.JSON(http.StatusCreated, roomResponse(*room))
}

// SearchRooms handles GET /api/rooms/search?query=.
func (h *APIHandlers) SearchRooms(c *gin.Context) {
	query := c.Query("query")

	rooms, err := h.mgr.SearchRooms(c.Request.Context(), query)
	if err != nil {
		h.log.Error().Err(err).Str("query", query).Msg("failed to search rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]RoomResponse, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomResponse(r))
	}
	c.JSON(http.StatusOK, out)
}

// Connect handles POST /api/connect: mints a signed websocket connect
// ticket for a (user, room) pair. Returns 404 when either does not exist,
// so clients learn about bad ids before upgrading.
func (h *APIHandlers) Connect(c *gin.Context) {
	if len(h.tickets.Secret) == 0 {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "ticket auth disabled"})
		return
	}

	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid connect request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if _, err := h.mgr.GetUser(c.Request.Context(), req.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Str("user_id", req.UserID.String()).Msg("failed to look up user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if _, err := h.mgr.GetRoom(c.Request.Context(), req.RoomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		h.log.Error().Err(err).Str("room_id", req.RoomID.String()).Msg("failed to look up room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	ticket, err := auth.GenerateTicket(h.tickets, req.UserID, req.RoomID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to sign ticket")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, ConnectResponse{Ticket: ticket})
}
