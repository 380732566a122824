package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dormitory-access-backend/internal/model"
	"dormitory-access-backend/internal/orchestrator"
	"dormitory-access-backend/internal/store"
)

type createRoomRequest struct {
	Number string `json:"number" binding:"required"`
	Size   int    `json:"size" binding:"required,min=1"`
}

type updateRoomRequest struct {
	Number *string `json:"number" binding:"omitempty,min=1,max=5"`
	Size   *int    `json:"size" binding:"omitempty,min=1"`
}

// ListRooms handles GET /api/dormitories/:id/rooms?status=free|full&number=.
func (h *Handler) ListRooms(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := c.Query("status")
	if status != "" && status != "free" && status != "full" {
		h.respondError(c, &orchestrator.ValidationError{Field: "status", Message: "must be free or full"})
		return
	}

	rooms, err := h.store.ListRooms(c.Request.Context(), scope, store.RoomFilter{
		DormitoryID: id,
		Number:      c.Query("number"),
		Status:      status,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// CreateRoom handles POST /api/dormitories/:id/rooms.
func (h *Handler) CreateRoom(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	dorm, err := h.store.GetDormitory(ctx, scope, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	room := model.Room{DormitoryID: dorm.ID, Number: strings.TrimSpace(req.Number), Size: req.Size}
	if err := h.store.CreateRoom(ctx, &room); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// UpdateRoom handles PUT /api/rooms/:id. A room cannot shrink below the
// residents it holds.
func (h *Handler) UpdateRoom(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var req updateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Number != nil {
		n := strings.TrimSpace(*req.Number)
		if n == "" {
			h.respondError(c, &orchestrator.ValidationError{Field: "number", Message: "room number is required"})
			return
		}
		req.Number = &n
	}

	room, err := h.store.UpdateRoom(c.Request.Context(), scope, id, store.RoomUpdate{Number: req.Number, Size: req.Size})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// DeleteRoom handles DELETE /api/rooms/:id. A room with residents is kept and
// the request fails with 409.
func (h *Handler) DeleteRoom(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.store.DeleteRoom(c.Request.Context(), scope, id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
