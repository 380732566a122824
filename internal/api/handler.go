package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dormitory-access-backend/internal/billing"
	"dormitory-access-backend/internal/mw"
	"dormitory-access-backend/internal/orchestrator"
	"dormitory-access-backend/internal/resident"
	"dormitory-access-backend/internal/store"
)

// Scope headers are set by the authenticating proxy in front of the service.
const (
	HeaderRole           = "X-Role"
	HeaderOrganizationID = "X-Organization-ID"
	HeaderDormitoryID    = "X-Dormitory-ID"
	HeaderActor          = "X-Actor"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store         store.Store
	residents     *resident.Service
	webpush       *webpush.Options
	horizon       billing.Horizon
	now           func() time.Time
	maxPhotoBytes int
	log           *zap.Logger
}

// Option customises a Handler.
type Option func(*Handler)

// WithHorizon sets the academic-year cutoff used for open tenancies.
func WithHorizon(h billing.Horizon) Option {
	return func(hd *Handler) { hd.horizon = h }
}

// WithClock overrides the clock the horizon is computed from.
func WithClock(now func() time.Time) Option {
	return func(hd *Handler) { hd.now = now }
}

// WithLogger sets the request error logger.
func WithLogger(log *zap.Logger) Option {
	return func(hd *Handler) {
		if log != nil {
			hd.log = log
		}
	}
}

// WithMaxPhotoBytes sets the upload size accepted for resident photos.
func WithMaxPhotoBytes(n int) Option {
	return func(hd *Handler) {
		if n > 0 {
			hd.maxPhotoBytes = n
		}
	}
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, residents *resident.Service, webpushOptions *webpush.Options, opts ...Option) *Handler {
	h := &Handler{
		store:         s,
		residents:     residents,
		webpush:       webpushOptions,
		horizon:       billing.DefaultHorizon,
		now:           time.Now,
		maxPhotoBytes: orchestrator.DefaultMaxPhotoBytes,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) asOf() time.Time {
	return h.horizon.AsOf(h.now())
}

// scopeFrom reads the caller's role filter from the request headers.
func scopeFrom(c *gin.Context) (store.Scope, error) {
	scope := store.Scope{Role: store.Role(c.GetHeader(HeaderRole))}
	var err error
	if v := c.GetHeader(HeaderOrganizationID); v != "" {
		if scope.OrganizationID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return store.Scope{}, &orchestrator.ValidationError{Field: HeaderOrganizationID, Message: "must be an integer"}
		}
	}
	if v := c.GetHeader(HeaderDormitoryID); v != "" {
		if scope.DormitoryID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return store.Scope{}, &orchestrator.ValidationError{Field: HeaderDormitoryID, Message: "must be an integer"}
		}
	}
	return scope, nil
}

func idParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &orchestrator.ValidationError{Field: name, Message: "must be a positive integer"}
	}
	return id, nil
}

// respondError maps an error kind to its HTTP status.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": orchestrator.Reason(err)})
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrIntegrity):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrDeviceCommunication):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": orchestrator.Reason(err)})
	default:
		h.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(mw.RequestIDKey)),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// scoped resolves the caller's scope or writes the error response.
func (h *Handler) scoped(c *gin.Context) (store.Scope, bool) {
	scope, err := scopeFrom(c)
	if err != nil {
		h.respondError(c, err)
		return store.Scope{}, false
	}
	return scope, true
}
