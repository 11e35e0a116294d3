package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"repstream/workout-agent/internal/client"
	"repstream/workout-agent/internal/collector"
	"repstream/workout-agent/internal/config"
	"repstream/workout-agent/internal/database"
	"repstream/workout-agent/internal/device"
	"repstream/workout-agent/internal/link"
	"repstream/workout-agent/internal/logger"
	"repstream/workout-agent/internal/network"
	"repstream/workout-agent/internal/queue"
	"repstream/workout-agent/internal/server"
	"repstream/workout-agent/internal/service"
	"repstream/workout-agent/internal/session"

	"go.uber.org/zap"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/local.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting workout agent",
		zap.String("env", cfg.Env),
		zap.String("config_path", *configPath),
	)

	// Initialize the durable job store; degrade to in-memory queueing
	// if it cannot be opened rather than dropping telemetry silently
	db, err := database.New(cfg.StoragePath, log.Logger)
	if err != nil {
		log.Warn("Durable store unavailable, queued telemetry will not survive restarts",
			zap.Error(err),
			zap.String("path", cfg.StoragePath),
		)
		db, err = database.New(":memory:", log.Logger)
		if err != nil {
			log.Fatal("Failed to initialize in-memory store", zap.Error(err))
		}
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	// Resolve monitor identity
	identityManager := device.NewIdentityManager()
	monitorID, err := identityManager.GetOrGenerateMonitorID(cfg.Monitor.ID)
	if err != nil {
		log.Fatal("Failed to resolve monitor ID", zap.Error(err))
	}

	if cfg.Monitor.ID == "" {
		log.Info("Generated monitor ID", zap.String("monitor_id", monitorID))
	} else {
		log.Info("Using configured monitor ID", zap.String("monitor_id", monitorID))
	}

	// Initialize API client
	apiClient := client.NewAPIClient(
		cfg.Backend.BaseURL,
		cfg.Backend.APIKey,
		monitorID,
		time.Duration(cfg.Backend.Timeout)*time.Second,
		log.Logger,
	)

	// Initialize upload queue and requeue anything a previous run left
	// mid-upload
	uploadQueue := queue.New(db.DB, cfg.Retention.MaxRetries, log.Logger)
	if _, err := uploadQueue.RequeueInFlight(); err != nil {
		log.Error("Failed to requeue in-flight jobs", zap.Error(err))
	}

	// Initialize network monitor probing backend reachability
	networkMonitor := network.NewMonitor(
		func(ctx context.Context) bool {
			return apiClient.HealthCheck(ctx) == nil
		},
		time.Duration(cfg.Network.ProbeInterval)*time.Second,
		log.Logger,
	)

	// Initialize connection manager client for the sensor link
	managerClient := link.NewManagerClient(
		cfg.Link.ManagerURL,
		time.Duration(cfg.Link.PollInterval)*time.Second,
		log.Logger,
	)

	var pairedDevice *link.Device
	if cfg.Link.DeviceID != "" {
		pairedDevice = &link.Device{
			ID:   cfg.Link.DeviceID,
			Name: cfg.Link.DeviceName,
		}
	}

	// Initialize sample collector
	sampleCollector := collector.NewSampleCollector(
		cfg.Recording.BatchSize,
		time.Duration(cfg.Recording.BatchFlushInterval)*time.Second,
		log.Logger,
	)

	// Initialize state machine and session service
	machine := session.NewMachine(log.Logger)
	sessionService := service.NewSessionService(
		machine,
		networkMonitor,
		sampleCollector,
		uploadQueue,
		apiClient,
		managerClient.Connect,
		pairedDevice,
		time.Duration(cfg.Session.ResumeCountdown)*time.Second,
		time.Duration(cfg.Session.FlushInterval)*time.Second,
		cfg.Session.ReconnectMaxAttempts,
		log.Logger,
	)

	// Link poller feeds the watcher's fallback detection path
	linkPoller := link.NewPoller(
		managerClient,
		sessionService.Watcher(),
		time.Duration(cfg.Link.PollInterval)*time.Second,
		log.Logger,
	)

	// Optional local status server for the workout UI
	var statusHTTPServer *http.Server
	if cfg.Server.Enabled {
		statusServer := server.NewStatusServer(sessionService, log.Logger)

		addr := fmt.Sprintf("localhost:%d", cfg.Server.Port)
		statusHTTPServer = &http.Server{
			Addr:         addr,
			Handler:      statusServer,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			log.Info("Starting status server", zap.String("address", addr))
			if err := statusHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("Status server error", zap.Error(err))
			}
		}()
	} else {
		log.Info("Status server disabled in configuration")
	}

	// Start everything
	if err := sessionService.Start(); err != nil {
		log.Fatal("Failed to start session service", zap.Error(err))
	}
	linkPoller.Start()

	log.Info("Workout agent started successfully",
		zap.String("monitor_id", monitorID),
		zap.String("backend_url", cfg.Backend.BaseURL),
	)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	log.Info("Shutting down workout agent...")

	if statusHTTPServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := statusHTTPServer.Shutdown(ctx); err != nil {
			log.Warn("Status server shutdown error", zap.Error(err))
		} else {
			log.Info("Status server stopped")
		}
	}

	linkPoller.Stop()

	// Stop session service (synchronous, with timeout)
	done := make(chan struct{})
	go func() {
		sessionService.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Session service stopped successfully")
	case <-time.After(3 * time.Second):
		log.Warn("Shutdown timeout reached, forcing immediate exit")
		os.Exit(1)
	}

	// Drop stale completed jobs so storage stays bounded
	if err := uploadQueue.PurgeOld(time.Duration(cfg.Retention.MaxAgeDays) * 24 * time.Hour); err != nil {
		log.Error("Failed to purge old jobs", zap.Error(err))
	}

	log.Info("Workout agent stopped")
}
