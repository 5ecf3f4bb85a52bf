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

const serviceName = "gate-dispatcher"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the event catalog supplies per-event ceilings
	app, err := di.Bootstrap(ctx, di.Options{ServiceName: serviceName, WithDatabase: true})
	if err != nil {
		log.Fatalf("Failed to start %s: %v", serviceName, err)
	}
	defer app.Close()
	appLog := app.Log

	dispatcher := app.Container.NewDispatcher()
	done := make(chan struct{})
	go func() {
		dispatcher.Start(ctx)
		close(done)
	}()
	go reportStats(ctx, dispatcher, appLog)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("shutting down dispatcher...")
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		// unacknowledged entries are claimed by another dispatcher
		appLog.Warn("dispatcher did not stop in time")
	}
	appLog.Info("dispatcher stopped")
}

// reportStats periodically logs dispatcher progress
func reportStats(ctx context.Context, d *worker.Dispatcher, log *logger.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total, last := d.Stats()
			if total > 0 {
				log.Info("dispatcher stats",
					zap.Int64("total_promoted", total),
					zap.Time("last_promotion", last),
				)
			}
		}
	}
}
