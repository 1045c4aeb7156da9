package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/reviewpix/reviewpix/internal/chat"
	"github.com/reviewpix/reviewpix/internal/config"
	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/reviewpix/reviewpix/internal/notifications"
	"github.com/reviewpix/reviewpix/internal/pipeline"
	"github.com/reviewpix/reviewpix/internal/render"
	"github.com/reviewpix/reviewpix/internal/scheduler"
	"github.com/reviewpix/reviewpix/internal/server"
	"github.com/reviewpix/reviewpix/internal/sources"
	"github.com/reviewpix/reviewpix/internal/store"
	"github.com/sirupsen/logrus"
)

const templatesDir = "templates"

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Infof("Starting review image service for %s", cfg.Company.Name)

	reviewStore, err := store.New(cfg.Ingestion.DataPath)
	if err != nil {
		logrus.Fatalf("Failed to open review store: %v", err)
	}

	coordinator := render.New(cfg.Company, templatesDir)
	if cfg.EagerStart {
		coordinator.Warm()
	}

	chatService := chat.NewService(cfg.Chat)
	emailService := notifications.NewEmailService(cfg.Notifications)

	generic := sources.NewGenericSource(cfg.Ingestion.Generic)
	registry := buildRegistry(cfg, generic)

	pl := pipeline.New(cfg, reviewStore, coordinator, chatService)

	var digest func() error
	if emailService.Configured() {
		digest = func() error {
			return sendDailyDigest(cfg, reviewStore, emailService)
		}
	}

	sched := scheduler.New(cfg, reviewStore, registry, pl, digest)
	if cfg.Ingestion.Enabled {
		if err := sched.Start(); err != nil {
			logrus.Fatalf("Failed to start scheduler: %v", err)
		}
	}

	srv := server.New(cfg, reviewStore, coordinator, pl, sched, chatService, registry, generic)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	if cfg.Ingestion.Enabled {
		sched.Stop()
	}
	coordinator.Shutdown()
	if err := reviewStore.Shutdown(); err != nil {
		logrus.Errorf("Store shutdown failed: %v", err)
	}

	logrus.Info("Server exited")
}

// buildRegistry initialises every adapter and keys it by name. Disabled
// adapters stay registered so the status endpoint can report them.
func buildRegistry(cfg *config.Config, generic *sources.GenericSource) map[string]sources.Source {
	registry := map[string]sources.Source{
		"google":   sources.NewGoogleSource(cfg.Ingestion.Sources["google"]),
		"yelp":     sources.NewYelpSource(cfg.Ingestion.Sources["yelp"]),
		"facebook": sources.NewFacebookSource(cfg.Ingestion.Sources["facebook"]),
		"generic":  generic,
	}
	for name, src := range registry {
		if src.Initialize() {
			logrus.Infof("Source %s enabled", name)
		}
	}
	return registry
}

// sendDailyDigest emails a summary of the reviews ingested in the last
// 24 hours; no email is sent for an empty window.
func sendDailyDigest(cfg *config.Config, reviewStore *store.Store, emailService *notifications.EmailService) error {
	cutoff := time.Now().Add(-24 * time.Hour)

	var recent []models.Review
	for _, review := range reviewStore.Recent(200, "") {
		if review.ProcessedAt.After(cutoff) {
			recent = append(recent, review)
		}
	}
	if len(recent) == 0 {
		logrus.Info("No reviews in the last 24 hours, skipping digest")
		return nil
	}

	digest := notifications.BuildDigest(cfg.Company.Name, recent, "Daily")
	return emailService.SendDigest(digest)
}
