package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dormitory-access-backend/internal/billing"
	"dormitory-access-backend/internal/model"
	"dormitory-access-backend/internal/orchestrator"
	"dormitory-access-backend/internal/resident"
	"dormitory-access-backend/internal/store"
)

const dateLayout = "2006-01-02"

// ResidentResponse is a resident with its debt at the open horizon. Debt is
// absent for residents without an arrival date.
type ResidentResponse struct {
	*model.Resident
	Debt *billing.Debt `json:"debt,omitempty"`
}

// ListResidents handles GET /api/residents.
func (h *Handler) ListResidents(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	f := store.ResidentFilter{
		Status:  store.ResidentStatus(c.Query("status")),
		Room:    c.Query("room"),
		Name:    c.Query("name"),
		Faculty: c.Query("faculty"),
	}
	switch f.Status {
	case store.StatusActive, store.StatusInside, store.StatusOutside, store.StatusDeleted:
	default:
		h.respondError(c, &orchestrator.ValidationError{Field: "status", Message: "unknown status " + strconv.Quote(string(f.Status))})
		return
	}
	if v := c.Query("dormitoryId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.respondError(c, &orchestrator.ValidationError{Field: "dormitoryId", Message: "must be an integer"})
			return
		}
		f.DormitoryID = id
	}

	residents, err := h.store.ListResidents(c.Request.Context(), scope, f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, residents)
}

// GetResident handles GET /api/residents/:id.
func (h *Handler) GetResident(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	r, err := h.store.GetResident(ctx, scope, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	resp, err := h.withDebt(ctx, r)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) withDebt(ctx context.Context, r *model.Resident) (ResidentResponse, error) {
	dorm, err := h.store.GetDormitory(ctx, store.Admin, r.DormitoryID)
	if err != nil {
		return ResidentResponse{}, err
	}
	resp := ResidentResponse{Resident: r}
	if debt, ok := billing.ComputeDebt(dorm, r, h.asOf()); ok {
		resp.Debt = &debt
	}
	return resp, nil
}

type updateResidentRequest struct {
	// RoomID 0 moves the resident out of their room.
	RoomID    *int64  `json:"roomId"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Faculty   *string `json:"faculty"`
	Phone     *string `json:"phone"`
	// Dates are YYYY-MM-DD; an empty checkoutDate clears it.
	ArrivalDate  *string `json:"arrivalDate"`
	CheckoutDate *string `json:"checkoutDate"`
	PaidTotal    *int64  `json:"paidTotal"`
}

func parseDate(field, v string) (*time.Time, error) {
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, &orchestrator.ValidationError{Field: field, Message: "must be a YYYY-MM-DD date"}
	}
	return &t, nil
}

func (req updateResidentRequest) input() (resident.UpdateInput, error) {
	in := resident.UpdateInput{
		RoomID:    req.RoomID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Faculty:   req.Faculty,
		Phone:     req.Phone,
		PaidTotal: req.PaidTotal,
	}
	var err error
	if req.ArrivalDate != nil {
		if in.ArrivalDate, err = parseDate("arrivalDate", *req.ArrivalDate); err != nil {
			return in, err
		}
	}
	if req.CheckoutDate != nil {
		if *req.CheckoutDate == "" {
			in.ClearCheckout = true
		} else if in.CheckoutDate, err = parseDate("checkoutDate", *req.CheckoutDate); err != nil {
			return in, err
		}
	}
	return in, nil
}

// UpdateResident handles PUT /api/residents/:id. It records payments, tenancy
// dates and room moves without contacting devices.
func (h *Handler) UpdateResident(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var req updateResidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in, err := req.input()
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	r, err := h.residents.Update(ctx, scope, id, in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	resp, err := h.withDebt(ctx, r)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func optionalInt(c *gin.Context, field string) (*int64, error) {
	v := c.PostForm(field)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, &orchestrator.ValidationError{Field: field, Message: "must be an integer"}
	}
	return &n, nil
}

// readPhoto loads the uploaded photo, reading at most one byte past the limit
// so oversized uploads are still detected.
func (h *Handler) readPhoto(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile("photo")
	if err != nil {
		return nil, nil
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, int64(h.maxPhotoBytes)+1))
}

func (h *Handler) createInput(c *gin.Context) (resident.CreateInput, error) {
	in := resident.CreateInput{
		FirstName: c.PostForm("firstName"),
		LastName:  c.PostForm("lastName"),
		Faculty:   c.PostForm("faculty"),
		Phone:     c.PostForm("phone"),
	}
	dormID, err := optionalInt(c, "dormitoryId")
	if err != nil {
		return in, err
	}
	if dormID != nil {
		in.DormitoryID = *dormID
	}
	if in.RoomID, err = optionalInt(c, "roomId"); err != nil {
		return in, err
	}
	paid, err := optionalInt(c, "paidTotal")
	if err != nil {
		return in, err
	}
	if paid != nil {
		in.PaidTotal = *paid
	}
	if v := c.PostForm("arrivalDate"); v != "" {
		if in.ArrivalDate, err = parseDate("arrivalDate", v); err != nil {
			return in, err
		}
	}
	in.Photo, err = h.readPhoto(c)
	return in, err
}

// CreateResident handles POST /api/residents (multipart form with a photo file).
func (h *Handler) CreateResident(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	in, err := h.createInput(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	r, err := h.residents.Create(c.Request.Context(), scope, in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// DeleteResident handles DELETE /api/residents/:id.
func (h *Handler) DeleteResident(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	r, err := h.residents.Delete(c.Request.Context(), scope, id, c.GetHeader(HeaderActor))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// ToggleBlock handles POST /api/residents/:id/block.
func (h *Handler) ToggleBlock(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	r, err := h.residents.ToggleBlock(c.Request.Context(), scope, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
