package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"aria-orchestrator/internal/config"
	"aria-orchestrator/internal/handlers"
	"aria-orchestrator/internal/pkg/logger"
	"aria-orchestrator/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting orchestrator",
		"environment", cfg.Environment,
		"port", cfg.HTTP.Port)

	redisService, err := services.NewRedisService(cfg.Redis, log)
	if err != nil {
		log.WithError(err).Error("Failed to connect to Redis")
		os.Exit(1)
	}
	defer redisService.Close()

	serviceClient := services.NewServiceClient(cfg.Services, cfg.Breaker, log)
	workflowEngine := services.NewWorkflowEngine(serviceClient, cfg.Workflow, log)
	speculativeExecutor := services.NewSpeculativeExecutor(serviceClient, cfg.Speculative, log)
	defer speculativeExecutor.Close()

	eventProcessor := services.NewEventProcessor(redisService, workflowEngine, speculativeExecutor, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := eventProcessor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("Event processor stopped unexpectedly")
		}
	}()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	handler := handlers.NewWorkflowHandler(workflowEngine, speculativeExecutor, serviceClient, redisService, log)
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}

	log.Info("Orchestrator stopped")
}
