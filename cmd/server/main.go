package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	httpapi "loaner-backend/internal/api/http"
	"loaner-backend/internal/config"
	"loaner-backend/internal/directory"
	"loaner-backend/internal/document"
	"loaner-backend/internal/logger"
	"loaner-backend/internal/notify"
	"loaner-backend/internal/repository/postgres"
	"loaner-backend/internal/security"
	"loaner-backend/internal/service"
	"loaner-backend/internal/storage"
	"loaner-backend/internal/utils"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	issueToken := flag.Int("issue-token", 0, "Print an access token for the given staff id and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)

	tokenManager := security.NewTokenManager(cfg.JWT.Secret, time.Duration(cfg.JWT.AccessTokenExpiry)*time.Minute)
	if *issueToken > 0 {
		token, err := tokenManager.GenerateAccessToken(int32(*issueToken), "", "")
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	logger.Info("Starting Loaner Backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress())
	logger.Info("Database configuration", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database, "user", cfg.Database.User)

	// Initialize Database
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(); err != nil {
		logger.Error("Failed to ping database", "error", err)
		log.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Database connection established")

	ctx := context.Background()
	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		logger.Info("Database schema up to date")
	}

	store := postgres.NewStore(db)

	// Collaborators
	var collab service.Collaborators

	media, err := storage.NewLocalStorageService(cfg.Storage.BaseURL, cfg.Storage.MediaDir, cfg.Storage.MaxFileSize<<20)
	if err != nil {
		log.Fatalf("Failed to initialize media storage: %v", err)
	}
	collab.Media = media
	logger.Info("Using local media storage", "media_dir", cfg.Storage.MediaDir)

	documents, err := document.NewStore(cfg.Documents.AgreementDir, cfg.Documents.ArchiveDir)
	if err != nil {
		log.Fatalf("Failed to initialize agreement store: %v", err)
	}
	collab.Documents = documents

	if cfg.Directory.Enabled {
		dir, err := directory.New(ctx, cfg.Directory)
		if err != nil {
			log.Fatalf("Failed to initialize directory client: %v", err)
		}
		collab.Directory = dir
		logger.Info("Directory integration enabled", "customer", cfg.Directory.Customer)
	} else {
		logger.Warn("Directory integration disabled; only locally known students can check out")
	}

	if cfg.Email.Enabled {
		collab.Email = notify.NewSendGridService(cfg.Email)
		logger.Info("SendGrid email enabled", "from", cfg.Email.From)
	}

	handoffCfg := service.HandoffConfig{
		InsuranceFeeCents: cfg.Fees.InsuranceFeeCents,
		PartCosts:         utils.NewPartCostSchedule(cfg.Fees.PartCosts, cfg.Fees.DefaultPartCostCents),
		SystemActorID:     cfg.Actors.SystemActorID,
	}

	// Initialize Services
	ledgerSvc := service.NewLedgerService(store)
	handoffSvc := service.NewHandoffService(store, collab, handoffCfg)
	validationSvc := service.NewValidationService(store, collab.Directory, handoffCfg)

	srv := httpapi.NewServer(handoffSvc, ledgerSvc, validationSvc, media, cfg.Actors.SystemActorID)
	router := httpapi.NewRouter(srv, httpapi.NewAuthMiddleware(tokenManager))

	httpServer := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("Server stopped. Goodbye!")
}
