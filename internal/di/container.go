package di

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/booking-rush-gate/internal/handler"
	"github.com/prohmpiriya/booking-rush-gate/internal/repository"
	"github.com/prohmpiriya/booking-rush-gate/internal/service"
	"github.com/prohmpiriya/booking-rush-gate/internal/worker"
	"github.com/prohmpiriya/booking-rush-gate/pkg/config"
	"github.com/prohmpiriya/booking-rush-gate/pkg/database"
	"github.com/prohmpiriya/booking-rush-gate/pkg/logger"
	pkgredis "github.com/prohmpiriya/booking-rush-gate/pkg/redis"
	"go.uber.org/zap"
)

// Container holds all dependencies of the admission pipeline
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *pkgredis.Client
	Log   *logger.Logger

	// Stores
	Waiting *repository.RedisWaitingLog
	Slots   *repository.RedisSlotStore
	Seats   *repository.RedisSeatStore
	Push    *repository.RedisPushStore
	Events  repository.EventRepository
	Tickets repository.TicketRepository

	// Publishers
	EventPublisher service.EventPublisher

	// Services
	Releaser  *service.SlotReleaser
	Ceilings  *service.CeilingResolver
	Tokens    service.TokenService
	Admission service.AdmissionService
	Checkout  service.CheckoutService
	Admin     service.AdminService

	// Handlers
	HealthHandler   *handler.HealthHandler
	QueueHandler    *handler.QueueHandler
	PushHandler     *handler.PushHandler
	CheckoutHandler *handler.CheckoutHandler
	AdminHandler    *handler.AdminHandler

	admission config.AdmissionConfig
}

// ContainerConfig contains what the container is built from. DB and
// EventPublisher are optional.
type ContainerConfig struct {
	DB             *database.PostgresDB
	Redis          *pkgredis.Client
	EventPublisher service.EventPublisher
	Admission      config.AdmissionConfig
	JWT            config.JWTConfig
	Log            *logger.Logger
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	log := cfg.Log
	if log == nil {
		log = logger.NewNop()
	}
	publisher := cfg.EventPublisher
	if publisher == nil {
		publisher = service.NewNoOpEventPublisher()
	}
	a := cfg.Admission

	c := &Container{
		DB:             cfg.DB,
		Redis:          cfg.Redis,
		Log:            log,
		Waiting:        repository.NewRedisWaitingLog(cfg.Redis, a.PushHistory),
		Slots:          repository.NewRedisSlotStore(cfg.Redis, a.PushHistory),
		Seats:          repository.NewRedisSeatStore(cfg.Redis),
		Push:           repository.NewRedisPushStore(cfg.Redis, a.PushHistory),
		EventPublisher: publisher,
		admission:      a,
	}
	if cfg.DB != nil {
		c.Events = repository.NewPostgresEventRepository(cfg.DB.Pool())
		c.Tickets = repository.NewPostgresTicketRepository(cfg.DB.Pool())
	}

	c.initServices(cfg.JWT)
	c.initHandlers()
	return c
}

// initServices initializes all services
func (c *Container) initServices(jwt config.JWTConfig) {
	a := c.admission
	c.Releaser = service.NewSlotReleaser(c.Slots, c.Waiting, c.EventPublisher, c.Log.With(zap.String("component", "releaser")))
	c.Ceilings = service.NewCeilingResolver(c.Slots, c.Events, a.DefaultCapacity)
	c.Tokens = service.NewTokenService(c.Slots, c.Releaser, &service.TokenServiceConfig{
		Secret: jwt.EntrySecret,
		Issuer: jwt.Issuer,
		TTL:    a.EntryTokenTTL,
	})
	c.Admission = service.NewAdmissionService(c.Waiting, c.Slots, c.Push, c.Events, c.Releaser, c.Ceilings,
		&service.AdmissionServiceConfig{EstimatedWaitPerUser: a.EstimatedWaitPerUser}, c.Log)
	c.Checkout = service.NewCheckoutService(c.Seats, c.Tickets, c.Tokens, c.EventPublisher,
		&service.CheckoutServiceConfig{SeatLockTTL: a.SeatLockTTL, MaxSeatsPerSelect: a.MaxSeatsPerSelect}, c.Log)
	c.Admin = service.NewAdminService(c.Waiting, c.Slots, c.Seats, c.Tokens, c.Log)
}

// initHandlers initializes all handlers
func (c *Container) initHandlers() {
	components := map[string]handler.HealthChecker{"redis": c.Redis}
	if c.DB != nil {
		components["database"] = c.DB
	}
	c.HealthHandler = handler.NewHealthHandler(components)
	c.QueueHandler = handler.NewQueueHandler(c.Admission)
	c.PushHandler = handler.NewPushHandler(c.Admission, c.Push, c.admission.HeartbeatInterval, c.Log)
	c.CheckoutHandler = handler.NewCheckoutHandler(c.Checkout)
	c.AdminHandler = handler.NewAdminHandler(c.Admin, c.Admission)
}

// NewDispatcher builds a dispatcher over the container's stores
func (c *Container) NewDispatcher() *worker.Dispatcher {
	cfg := worker.DefaultDispatcherConfig()
	cfg.Consumer = c.admission.DispatcherConsumer
	cfg.Interval = c.admission.DispatchInterval
	cfg.VisibilityTimeout = c.admission.VisibilityTimeout
	cfg.Batch = int64(c.admission.DispatchBatch)
	return worker.NewDispatcher(cfg, c.Waiting, c.Tokens, c.Ceilings, c.Releaser, c.EventPublisher,
		c.Log.With(zap.String("component", "dispatcher")))
}

// NewExpiryListener builds an expiry listener over the container's stores
func (c *Container) NewExpiryListener() *worker.ExpiryListener {
	cfg := worker.DefaultExpiryListenerConfig()
	cfg.SweepInterval = c.admission.SweepInterval
	return worker.NewExpiryListener(c.Redis, c.Slots, c.Seats, c.Releaser, cfg,
		c.Log.With(zap.String("component", "expiry_listener")))
}

// LoadScripts pre-loads every Lua script. Stores fall back to EVAL when a
// script is missing, so a failure here is not fatal.
func (c *Container) LoadScripts(ctx context.Context) error {
	loaders := []struct {
		name string
		load func(context.Context) error
	}{
		{"waiting log", c.Waiting.LoadScripts},
		{"slot store", c.Slots.LoadScripts},
		{"seat store", c.Seats.LoadScripts},
	}
	for _, l := range loaders {
		if err := l.load(ctx); err != nil {
			return fmt.Errorf("failed to load %s scripts: %w", l.name, err)
		}
	}
	return nil
}

// Close releases the publisher and the push subscription. Connections are
// owned by the caller.
func (c *Container) Close() {
	if err := c.Push.Close(); err != nil {
		c.Log.Warn("failed to close push subscription", zap.Error(err))
	}
	if err := c.EventPublisher.Close(); err != nil {
		c.Log.Warn("failed to close event publisher", zap.Error(err))
	}
}
