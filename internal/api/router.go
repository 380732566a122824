package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"dormitory-access-backend/internal/mw"
)

// RouterConfig tunes the shared middleware.
type RouterConfig struct {
	RateLimitPerSec float64
	RateLimitBurst  int
	ClientKeyHeader string
	CacheTTL        time.Duration
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestID())

	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, cfg.ClientKeyHeader)
	cacheStore := cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	caching := mw.Cache(cacheStore, cfg.CacheTTL, HeaderRole, HeaderOrganizationID, HeaderDormitoryID)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// GETs are cached per scope; successful writes flush the cache.
		records := api.Group("", caching)
		records.GET("/dormitories", h.ListDormitories)
		records.GET("/dormitories/:id", h.GetDormitory)
		records.GET("/dormitories/:id/debt", h.GetDormitoryDebt)
		records.GET("/dormitories/:id/rooms", h.ListRooms)
		records.GET("/portfolio", h.GetPortfolio)
		records.GET("/residents", h.ListResidents)
		records.GET("/residents/:id", h.GetResident)

		records.PUT("/dormitories/:id", h.UpdateDormitory)
		records.POST("/dormitories/:id/sync", h.SyncDormitory)
		records.POST("/dormitories/:id/rooms", h.CreateRoom)
		records.PUT("/rooms/:id", h.UpdateRoom)
		records.DELETE("/rooms/:id", h.DeleteRoom)
		records.POST("/residents", h.CreateResident)
		records.PUT("/residents/:id", h.UpdateResident)
		records.DELETE("/residents/:id", h.DeleteResident)
		records.POST("/residents/:id/block", h.ToggleBlock)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
