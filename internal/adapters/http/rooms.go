package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/gin-gonic/gin"
)

type roomHandlers struct {
	orch *orch.Orchestrator
}

func (h *roomHandlers) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.orch.Rooms.List()})
}

func (h *roomHandlers) create(c *gin.Context) {
	var req struct {
		Title       string `json:"title"`
		WaitingRoom *bool  `json:"waitingRoom"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, domain.ErrBadPayload)
		return
	}
	info := h.orch.CreateRoom(core.SessionID(c.GetString("client_token")), req.Title, req.WaitingRoom)
	c.JSON(http.StatusCreated, info)
}

func (h *roomHandlers) get(c *gin.Context) {
	room, ok := h.orch.Rooms.GetRoom(domain.RoomID(c.Param("id")))
	if !ok {
		abort(c, http.StatusNotFound, domain.ErrRoomNotFound)
		return
	}
	c.JSON(http.StatusOK, core.Info(room))
}

// close ends a room. Only the client that created it may do so.
func (h *roomHandlers) close(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	room, ok := h.orch.Rooms.GetRoom(id)
	if !ok {
		abort(c, http.StatusNotFound, domain.ErrRoomNotFound)
		return
	}
	if room.Room().HostID != domain.UserID(c.GetString("client_token")) {
		abort(c, http.StatusForbidden, domain.ErrForbidden)
		return
	}
	if err := h.orch.CloseRoomByID(id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		abort(c, status, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"code": domain.Code(err), "error": err.Error()})
}
