package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prohmpiriya/booking-rush-gate/internal/di"
	"github.com/prohmpiriya/booking-rush-gate/internal/worker"
	"github.com/prohmpiriya/booking-rush-gate/pkg/logger"
	"go.uber.org/zap"
)

const serviceName = "gate-expiry-listener"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := di.Bootstrap(ctx, di.Options{ServiceName: serviceName})
	if err != nil {
		log.Fatalf("Failed to start %s: %v", serviceName, err)
	}
	defer app.Close()
	appLog := app.Log

	listener := app.Container.NewExpiryListener()
	done := make(chan error, 1)
	go func() {
		done <- listener.Start(ctx)
	}()
	go reportStats(ctx, listener, appLog)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLog.Info("shutting down expiry listener...")
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			appLog.Warn("expiry listener did not stop in time")
		}
	case err := <-done:
		// a dead subscription must restart the process, not idle silently
		if err != nil {
			appLog.Error("expiry listener failed", zap.Error(err))
			app.Close()
			os.Exit(1)
		}
	}
	appLog.Info("expiry listener stopped")
}

// reportStats periodically logs what the listener has released
func reportStats(ctx context.Context, l *worker.ExpiryListener, log *logger.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slots, seats, lastSweep := l.Stats()
			log.Info("expiry listener stats",
				zap.Int64("slots_released", slots),
				zap.Int64("seats_released", seats),
				zap.Time("last_sweep", lastSweep),
			)
		}
	}
}
