// Command hybridscand is the main executable for the hybridscan backend
// service. It initializes the database, scan service, and HTTP API
// server, and handles graceful shutdown when terminated.
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

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"hybridscan/internal/api"
	"hybridscan/internal/config"
	"hybridscan/internal/database"
	"hybridscan/internal/scanner"
)

// Global variables for command line flags
var logLevelFlag string

// parseFlags parses command line flags and returns the config path
func parseFlags() string {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.StringVar(&logLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()
	return *configPath
}

func main() {
	// Parse command line flags
	configPath := parseFlags()

	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(logLevelFlag)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use colored console output for development
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("Starting hybridscan backend")

	// Load configuration
	cfg := config.GetConfig()
	if err := cfg.LoadConfig(configPath); err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}

	// Initialize database
	log.Info().Str("path", cfg.Database.Path).Msg("Initializing database")
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Clean out results past the retention window
	if removed, err := db.CleanOldData(cfg.Database.DataRetentionDays); err != nil {
		log.Error().Err(err).Msg("Failed to clean old scan results")
	} else if removed > 0 {
		log.Info().Int("removed", removed).Msg("Removed scan results past retention")
	}

	// Initialize scan service
	log.Info().Msg("Initializing scan service")
	scanService := scanner.New(cfg, db)

	if err := scanService.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scan service")
	}

	// Initialize router and API handlers
	router := mux.NewRouter()

	// Create API handlers
	streamHandler := api.NewStreamHandler(scanService, cfg)
	resultHandler := api.NewResultHandler(db)
	statusHandler := api.NewStatusHandler(db, scanService, cfg)

	// Register API routes
	streamHandler.RegisterRoutes(router)
	resultHandler.RegisterRoutes(router)
	statusHandler.RegisterRoutes(router)

	// Set up CORS
	corsMiddleware := handlers.CORS(
		handlers.AllowedOrigins(cfg.Server.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	// Set up HTTP server. The write timeout stays at the configured
	// value, which defaults to zero: event-stream responses are held
	// open for the lifetime of a scan.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      corsMiddleware(router),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Set up signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for termination signal
	sig := <-signalChan
	log.Info().Str("signal", sig.String()).Msg("Received termination signal")

	// Begin graceful shutdown
	log.Info().Msg("Shutting down...")

	// Create a shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Shutdown HTTP server
	log.Info().Msg("Shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop scan service; cancels any scans still running
	log.Info().Msg("Stopping scan service")
	if err := scanService.Stop(); err != nil {
		log.Error().Err(err).Msg("Scan service shutdown failed")
	}

	// Optimize database before exit
	log.Info().Msg("Optimizing database before exit")
	if err := db.OptimizeDatabase(); err != nil {
		log.Error().Err(err).Msg("Database optimization failed")
	}

	log.Info().Msg("hybridscan has been shut down gracefully")
}
