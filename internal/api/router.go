package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"studyroom-backend/config"
	"studyroom-backend/internal/mw"
	"studyroom-backend/internal/reservation"
	"studyroom-backend/internal/sweep"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(db *gorm.DB, svc *reservation.Service, sweeper *sweep.Service, cfg *config.ServerConfig) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(svc)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/rooms/:room_id/slots", caching, GetRoomSlots(db))

		api.POST("/reservations", handler.PostReservation)
		api.GET("/reservations/:id", handler.GetReservation)
		api.DELETE("/reservations/:id", handler.DeleteReservation)
		api.POST("/reservations/:id/qr", handler.PostQR)
		api.GET("/reservations/:id/qr.png", handler.GetQRImage)

		api.POST("/checkin", handler.PostCheckIn)

		api.GET("/subscriptions", GetSubscription(db))
		api.PUT("/subscriptions", PutSubscription(db))
		api.DELETE("/subscriptions", DeleteSubscription(db))

		// Idempotent sweep trigger for an external scheduler; the
		// in-process ticker covers deployments without one.
		api.POST("/admin/sweep", func(c *gin.Context) {
			sweeper.SweepOnce(c.Request.Context())
			c.Status(http.StatusAccepted)
		})
	}

	return r
}
