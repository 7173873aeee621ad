// Package api exposes the administrative HTTP surface for room management.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jamlink/broker/internal/v1/logging"
	"github.com/jamlink/broker/internal/v1/room"
	"github.com/jamlink/broker/internal/v1/types"
)

// Handler serves the /rooms endpoints.
type Handler struct {
	rooms *room.Service
}

// NewHandler wires the room admin handlers.
func NewHandler(rooms *room.Service) *Handler {
	return &Handler{rooms: rooms}
}

// Register attaches the room routes to a router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/rooms", h.CreateRoom)
	rg.GET("/rooms/:id", h.GetRoom)
	rg.PATCH("/rooms/:id/rules", h.UpdateRules)
	rg.DELETE("/rooms/:id", h.DeleteRoom)
}

type createRoomRequest struct {
	OwnerId         types.PeerIdType `json:"ownerId" binding:"required"`
	MaxPlayers      int              `json:"maxPlayers"`
	AllowRelay      bool             `json:"allowRelay"`
	LatencyTargetMs int              `json:"latencyTargetMs"`
	OpusBitrate     int              `json:"opusBitrate"`
}

type updateRulesRequest struct {
	OwnerId         types.PeerIdType `json:"ownerId" binding:"required"`
	MaxPlayers      int              `json:"maxPlayers"`
	AllowRelay      bool             `json:"allowRelay"`
	LatencyTargetMs int              `json:"latencyTargetMs"`
	OpusBitrate     int              `json:"opusBitrate"`
}

type ownerRequest struct {
	OwnerId types.PeerIdType `json:"ownerId" binding:"required"`
}

// roomView is the JSON shape of a room in API responses.
type roomView struct {
	RoomId  types.RoomIdType   `json:"roomId"`
	OwnerId types.PeerIdType   `json:"ownerId"`
	Players []types.PeerIdType `json:"players"`
	Rules   types.RoomRules    `json:"rules"`
	Active  bool               `json:"active"`
}

func viewOf(r *room.Room) roomView {
	return roomView{
		RoomId:  r.Id(),
		OwnerId: r.OwnerId(),
		Players: r.Members(),
		Rules:   r.Rules(),
		Active:  r.Active(),
	}
}

// CreateRoom handles POST /rooms. The owner becomes the sole member.
func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rules := types.RoomRules{
		MaxPlayers:      req.MaxPlayers,
		AllowRelay:      req.AllowRelay,
		LatencyTargetMs: req.LatencyTargetMs,
		OpusBitrate:     req.OpusBitrate,
	}

	r, err := h.rooms.CreateRoom(c.Request.Context(), req.OwnerId, rules)
	if err != nil {
		if errors.Is(err, types.ErrInvalidRoomRules) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logging.Error(c.Request.Context(), "room creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"roomId": r.Id()})
}

// GetRoom handles GET /rooms/:id.
func (h *Handler) GetRoom(c *gin.Context) {
	r, err := h.rooms.GetRoom(c.Request.Context(), types.RoomIdType(c.Param("id")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": viewOf(r)})
}

// UpdateRules handles PATCH /rooms/:id/rules. Only the owner may update.
func (h *Handler) UpdateRules(c *gin.Context) {
	var req updateRulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rules := types.RoomRules{
		MaxPlayers:      req.MaxPlayers,
		AllowRelay:      req.AllowRelay,
		LatencyTargetMs: req.LatencyTargetMs,
		OpusBitrate:     req.OpusBitrate,
	}

	r, err := h.rooms.UpdateRules(c.Request.Context(), types.RoomIdType(c.Param("id")), req.OwnerId, rules)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": viewOf(r)})
}

// DeleteRoom handles DELETE /rooms/:id, closing the room. Only the owner may
// close it.
func (h *Handler) DeleteRoom(c *gin.Context) {
	var req ownerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.rooms.CloseRoom(c.Request.Context(), types.RoomIdType(c.Param("id")), req.OwnerId); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

// writeError maps domain errors onto HTTP statuses without leaking internal
// detail for unexpected failures.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, room.ErrUnknownRoom):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case errors.Is(err, room.ErrNotRoomOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not the room owner"})
	case errors.Is(err, room.ErrAlreadyClosed), errors.Is(err, room.ErrRoomInactive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, types.ErrInvalidRoomRules):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logging.Error(c.Request.Context(), "room operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
