package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/booking-rush-gate/internal/di"
	"go.uber.org/zap"
)

const serviceName = "gate-api"

func main() {
	ctx := context.Background()

	app, err := di.Bootstrap(ctx, di.Options{ServiceName: serviceName, WithDatabase: true})
	if err != nil {
		log.Fatalf("Failed to start %s: %v", serviceName, err)
	}
	defer app.Close()
	cfg := app.Config
	appLog := app.Log

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DisableConsoleColor()

	router := di.NewRouter(app.Container, di.RouterConfig{
		ServiceName: serviceName,
		UserSecret:  cfg.JWT.Secret,
		Tracing:     cfg.OTel.Enabled,
	})

	// push streams derive from this context and end when shutdown starts
	baseCtx, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(stopStreams)

	go func() {
		appLog.Info("gate api listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("server forced to shutdown", zap.Error(err))
	}
	appLog.Info("server exited gracefully")
}
