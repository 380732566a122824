package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"dormitory-access-backend/internal/billing"
	"dormitory-access-backend/internal/model"
	"dormitory-access-backend/internal/orchestrator"
	"dormitory-access-backend/internal/store"
)

// DebtResponse is a dormitory's debt totals at the open horizon.
type DebtResponse struct {
	DormitoryID int64     `json:"dormitoryId"`
	AsOf        time.Time `json:"asOf"`
	billing.Totals
}

// DormitoryResponse is a dormitory with its resident counts. MainDeviceID is
// only set when the devices were loaded.
type DormitoryResponse struct {
	model.Dormitory
	MainDeviceID *int64               `json:"mainDeviceId,omitempty"`
	Stats        store.DormitoryStats `json:"stats"`
}

type updateDormitoryRequest struct {
	Name              *string `json:"name"`
	Address           *string `json:"address"`
	MonthlyRent       *int64  `json:"monthlyRent"`
	MinRequiredMonths *int64  `json:"minRequiredMonths"`
}

// ListDormitories handles GET /api/dormitories.
func (h *Handler) ListDormitories(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	dorms, err := h.store.ListDormitories(ctx, scope)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ids := make([]int64, len(dorms))
	for i, d := range dorms {
		ids[i] = d.ID
	}
	stats, err := h.store.DormitoryStats(ctx, ids)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]DormitoryResponse, 0, len(dorms))
	for _, d := range dorms {
		out = append(out, DormitoryResponse{Dormitory: d, Stats: stats[d.ID]})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) dormitoryResponse(c *gin.Context, dorm *model.Dormitory) (DormitoryResponse, error) {
	stats, err := h.store.DormitoryStats(c.Request.Context(), []int64{dorm.ID})
	if err != nil {
		return DormitoryResponse{}, err
	}
	resp := DormitoryResponse{Dormitory: *dorm, Stats: stats[dorm.ID]}
	if main, ok := dorm.MainDevice(); ok {
		resp.MainDeviceID = &main.ID
	}
	return resp, nil
}

// GetDormitory handles GET /api/dormitories/:id.
func (h *Handler) GetDormitory(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	dorm, err := h.store.GetDormitory(c.Request.Context(), scope, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	resp, err := h.dormitoryResponse(c, dorm)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateDormitory handles PUT /api/dormitories/:id: name, address and rent
// schedule. Debts follow the new schedule on the next read.
func (h *Handler) UpdateDormitory(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	var req updateDormitoryRequest
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
	if req.Name != nil {
		dorm.Name = strings.TrimSpace(*req.Name)
	}
	if req.Address != nil {
		dorm.Address = strings.TrimSpace(*req.Address)
	}
	if req.MonthlyRent != nil {
		dorm.MonthlyRent = *req.MonthlyRent
	}
	if req.MinRequiredMonths != nil {
		dorm.MinRequiredMonths = *req.MinRequiredMonths
	}
	if err := dorm.Validate(); err != nil {
		h.respondError(c, &orchestrator.ValidationError{Field: "dormitory", Message: err.Error()})
		return
	}

	if err := h.store.UpdateDormitory(ctx, scope, dorm); err != nil {
		h.respondError(c, err)
		return
	}
	resp, err := h.dormitoryResponse(c, dorm)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetDormitoryDebt handles GET /api/dormitories/:id/debt.
func (h *Handler) GetDormitoryDebt(c *gin.Context) {
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
	dorm, err := h.store.GetDormitory(ctx, scope, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	residents, err := h.store.ResidentsByDormitory(ctx, []int64{dorm.ID})
	if err != nil {
		h.respondError(c, err)
		return
	}

	asOf := h.asOf()
	c.JSON(http.StatusOK, DebtResponse{
		DormitoryID: dorm.ID,
		AsOf:        asOf,
		Totals:      billing.Aggregate(dorm, residents[dorm.ID], asOf),
	})
}

// GetPortfolio handles GET /api/portfolio: debt totals of every visible dormitory.
func (h *Handler) GetPortfolio(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	dorms, err := h.store.ListDormitories(ctx, scope)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ids := make([]int64, len(dorms))
	for i, d := range dorms {
		ids[i] = d.ID
	}
	residents, err := h.store.ResidentsByDormitory(ctx, ids)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, billing.Portfolio(dorms, residents, h.asOf()))
}

// SyncDormitory handles POST /api/dormitories/:id/sync.
func (h *Handler) SyncDormitory(c *gin.Context) {
	scope, ok := h.scoped(c)
	if !ok {
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		h.respondError(c, err)
		return
	}
	result, err := h.residents.SyncDormitory(c.Request.Context(), scope, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
