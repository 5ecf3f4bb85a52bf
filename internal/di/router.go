package di

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-gate/internal/middleware"
	pkgmiddleware "github.com/prohmpiriya/booking-rush-gate/pkg/middleware"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
)

// RouterConfig holds what the HTTP surface needs beyond the container
type RouterConfig struct {
	ServiceName string
	// UserSecret verifies access tokens issued by the auth service
	UserSecret string
	// Tracing adds a server span per request
	Tracing bool
}

// NewRouter registers every route of the gate API
func NewRouter(c *Container, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(pkgmiddleware.Recovery(c.Log))
	router.Use(pkgmiddleware.RequestID())
	if cfg.Tracing {
		router.Use(telemetry.TracingMiddleware(cfg.ServiceName))
	}
	router.Use(pkgmiddleware.AccessLog(c.Log))

	router.GET("/health", c.HealthHandler.Health)
	router.GET("/ready", c.HealthHandler.Ready)

	auth := middleware.Auth(cfg.UserSecret)
	entry := middleware.EntryTokenGuard(c.Tokens)

	// a commit invalidates the entry token, so a retried commit has to be
	// replayed before the guard sees the spent token
	idemCfg := pkgmiddleware.DefaultIdempotencyConfig(c.Redis.Client())
	idemCfg.UserKey = ""
	idemCfg.ScopeHeaders = []string{middleware.EntryTokenHeader, "Authorization"}
	idempotency := pkgmiddleware.Idempotency(idemCfg)

	v1 := router.Group("/api/v1")
	{
		queue := v1.Group("/queue")
		queue.GET("/:event_id/status", c.QueueHandler.Status)
		queue.GET("/stream", auth, c.PushHandler.Stream)
		queue.POST("/:event_id/enter", auth, c.QueueHandler.Enter)
		queue.GET("/:event_id/state", auth, c.QueueHandler.State)

		checkout := v1.Group("/checkout")
		checkout.POST("/seats", entry, c.CheckoutHandler.SelectSeats)
		checkout.DELETE("/seats", entry, c.CheckoutHandler.ReleaseSeats)
		checkout.POST("/commit", idempotency, entry, c.CheckoutHandler.Commit)

		admin := v1.Group("/admin", auth, middleware.RequireRole("admin", "super_admin"))
		admin.PUT("/events/:event_id/capacity", c.AdminHandler.SetCapacity)
		admin.POST("/events/:event_id/seats", c.AdminHandler.RegisterSeats)
		admin.GET("/events/:event_id/seats", c.AdminHandler.SeatMap)
		admin.DELETE("/users/:user_id/entry", c.AdminHandler.RevokeEntry)
	}
	return router
}
