package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"verify-backend/internal/cache"
	"verify-backend/internal/config"
	"verify-backend/internal/database"
	"verify-backend/internal/db"
	"verify-backend/internal/handlers"
	"verify-backend/internal/health"
	h "verify-backend/internal/http"
	"verify-backend/internal/middleware"
	"verify-backend/internal/repositories"
	"verify-backend/internal/services"
	"verify-backend/internal/sms"
)

func main() {
	// Parse command-line flags
	port := flag.Int("port", 0, "Server port (overrides config)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()
	if *port != 0 {
		cfg.Server.Port = *port
	}

	// Connect to PostgreSQL
	pool := db.Connect(cfg)
	defer pool.Close()

	// Initialize Redis cache (optional - graceful fallback if unavailable)
	if err := cache.Init(); err != nil {
		log.Printf("[Redis] Cache unavailable: %v (rate-limit window reads go to the database)", err)
	} else {
		log.Println("[Redis] Cache connected successfully")
	}

	// Run database migrations
	migrator := database.NewMigrator(pool, "migrations")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrator.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize health checker
	healthChecker := health.NewHealthChecker(pool)

	// Initialize repositories
	challengeRepo := repositories.NewChallengeRepository(pool)
	attemptRepo := repositories.NewAttemptLogRepository(pool)

	// Build the delivery chain: primary provider, numeric retry, inline
	// fallback. Without credentials the chain degrades to inline delivery
	// and the code is returned in the response for development use.
	provider := sms.NewHTTPProvider(sms.Config{
		AccountSID:          cfg.SMS.AccountSID,
		AuthToken:           cfg.SMS.AuthToken,
		MessagingServiceSID: cfg.SMS.MessagingServiceSID,
		SenderID:            cfg.SMS.SenderID,
		FromNumber:          cfg.SMS.FromNumber,
		ForceNumericSender:  cfg.SMS.ForceNumericSender,
		Timeout:             time.Duration(cfg.SMS.TimeoutSeconds) * time.Second,
	})
	if !provider.IsConfigured() {
		log.Println("WARNING: SMS credentials not set, codes will be returned inline (dev fallback)")
	}
	chain := sms.NewChain(provider, cfg.SMS.ForceFallback)

	// Initialize challenge service with injected policy
	challengeService := services.NewChallengeService(challengeRepo, attemptRepo, chain, services.Config{
		CodeLength:           cfg.OTP.CodeLength,
		TTL:                  time.Duration(cfg.OTP.TTLSeconds) * time.Second,
		ResendCooldown:       time.Duration(cfg.OTP.ResendCooldownSeconds) * time.Second,
		MaxRequests:          cfg.OTP.MaxRequests,
		Window:               time.Duration(cfg.OTP.WindowSeconds) * time.Second,
		MaxAttempts:          cfg.OTP.MaxAttempts,
		FailOpenOnStoreError: cfg.OTP.FailOpenOnStoreError,
	})

	// Initialize handlers
	otpHandler := handlers.NewOTPHandler(challengeService)
	webhookHandler := handlers.NewPaymentWebhookHandler(cfg.Webhook.PaymentSecret)
	healthHandler := handlers.NewHealthHandler(healthChecker)

	// Build router with middleware stack
	corsMiddleware := middleware.NewCORS(cfg)
	router := h.NewRouter(otpHandler, webhookHandler, healthHandler)
	handler := middleware.PanicRecovery(middleware.MetricsMiddleware(corsMiddleware(router)))

	// Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Server running on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
