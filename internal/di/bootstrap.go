package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/booking-rush-gate/internal/metrics"
	"github.com/prohmpiriya/booking-rush-gate/internal/service"
	"github.com/prohmpiriya/booking-rush-gate/pkg/config"
	"github.com/prohmpiriya/booking-rush-gate/pkg/database"
	"github.com/prohmpiriya/booking-rush-gate/pkg/logger"
	pkgredis "github.com/prohmpiriya/booking-rush-gate/pkg/redis"
	"github.com/prohmpiriya/booking-rush-gate/pkg/telemetry"
	"go.uber.org/zap"
)

// Options selects the infrastructure a binary needs
type Options struct {
	ServiceName string
	// WithDatabase connects Postgres for the event catalog and tickets
	WithDatabase bool
}

// App is a bootstrapped process: its config, logger and container
type App struct {
	Config    *config.Config
	Log       *logger.Logger
	Container *Container

	closers []func()
}

// Bootstrap loads configuration and connects everything a binary needs.
// Close must be called on shutdown.
func Bootstrap(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: opts.ServiceName,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.Get()
	app := &App{Config: cfg, Log: log}

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    opts.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		log.Warn("telemetry disabled", zap.Error(err))
	} else {
		app.closers = append(app.closers, func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telemetry.Shutdown(sctx)
		})
	}
	if err := metrics.Init(); err != nil {
		log.Warn("failed to register metrics", zap.Error(err))
	}

	redisClient, err := pkgredis.NewClient(ctx, &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    3,
		RetryInterval: time.Second,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	app.closers = append(app.closers, func() { _ = redisClient.Close() })
	log.Info("redis connected", zap.String("addr", cfg.Redis.Addr()))

	var db *database.PostgresDB
	if opts.WithDatabase {
		db, err = database.NewPostgres(ctx, &database.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MaxIdleConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectTimeout:  5 * time.Second,
			MaxRetries:      3,
			RetryInterval:   time.Second,
			EnableTracing:   cfg.OTel.Enabled,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		app.closers = append(app.closers, db.Close)
		log.Info("database connected", zap.String("database", cfg.Database.DBName))
	}

	app.Container = NewContainer(&ContainerConfig{
		DB:             db,
		Redis:          redisClient,
		EventPublisher: newEventPublisher(ctx, cfg, opts.ServiceName, log),
		Admission:      cfg.Admission,
		JWT:            cfg.JWT,
		Log:            log,
	})
	app.closers = append(app.closers, app.Container.Close)

	if err := app.Container.LoadScripts(ctx); err != nil {
		log.Warn("failed to pre-load Lua scripts", zap.Error(err))
	}
	return app, nil
}

// newEventPublisher connects Kafka, falling back to a no-op publisher so
// admission keeps working while the broker is down
func newEventPublisher(ctx context.Context, cfg *config.Config, serviceName string, log *logger.Logger) service.EventPublisher {
	if !cfg.Kafka.Enabled {
		log.Info("kafka disabled, using no-op publisher")
		return service.NewNoOpEventPublisher()
	}
	publisher, err := service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.Topic,
		ServiceName: serviceName,
		ClientID:    cfg.Kafka.ClientID,
	})
	if err != nil {
		log.Warn("kafka connection failed, using no-op publisher", zap.Error(err))
		return service.NewNoOpEventPublisher()
	}
	log.Info("kafka event publisher connected", zap.Strings("brokers", cfg.Kafka.Brokers))
	return publisher
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	logger.Sync()
}
