package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/bizbooks/backend/internal/database"
	"github.com/bizbooks/backend/internal/handlers"
	mW "github.com/bizbooks/backend/internal/middleware"
	"github.com/bizbooks/backend/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("currency.default", "CURRENCY_DEFAULT")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	if err := database.EnsureSchema(db); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	accountService := services.NewAccountService(db)
	ledgerService := services.NewLedgerService(db, redisClient)
	chequeService := services.NewChequeService(db, ledgerService)
	chequeHandler := handlers.NewChequeHandler(chequeService)
	reconciliationService := services.NewReconciliationService(db, ledgerService)
	reconciliationHandler := handlers.NewReconciliationHandler(reconciliationService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Company-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes, company-scoped
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.TenantMiddleware)

		// Account registry
		r.Post("/accounts", accountService.CreateAccount)
		r.Get("/accounts", accountService.ListAccounts)
		r.Get("/accounts/{accountId}", accountService.GetAccount)
		r.Get("/accounts/{accountId}/balance", ledgerService.AccountBalance)

		// Ledger core
		r.Post("/transactions", ledgerService.PostTransaction)
		r.Get("/transactions/{txId}", ledgerService.GetTransaction)
		r.Post("/transactions/{txId}/reverse", ledgerService.ReverseTransaction)

		// Cheque lifecycle
		r.Post("/cheque-books", chequeHandler.CreateBook)
		r.Post("/cheques/issue", chequeHandler.Issue)
		r.Post("/cheques/receive", chequeHandler.Receive)
		r.Get("/cheques/{chequeId}", chequeHandler.GetCheque)
		r.Post("/cheques/{chequeId}/deposit", chequeHandler.Deposit)
		r.Post("/cheques/{chequeId}/clear", chequeHandler.Clear)
		r.Post("/cheques/{chequeId}/bounce", chequeHandler.Bounce)
		r.Post("/cheques/{chequeId}/stop", chequeHandler.Stop)
		r.Post("/cheques/{chequeId}/cancel", chequeHandler.Cancel)

		// Bank reconciliation
		r.Post("/reconciliation/import", reconciliationHandler.ImportStatement)
		r.Post("/reconciliation/auto-match", reconciliationHandler.AutoMatch)
		r.Post("/reconciliation/match", reconciliationHandler.ManualMatch)
		r.Post("/reconciliation/{entryId}/unmatch", reconciliationHandler.Unmatch)
		r.Post("/reconciliation/{entryId}/dispute", reconciliationHandler.Dispute)
		r.Post("/reconciliation/{entryId}/create-transaction", reconciliationHandler.CreateTransactionFromEntry)
		r.Post("/reconciliation/auto-reconcile", reconciliationHandler.AutoReconcile)
		r.Get("/reconciliation/summary", reconciliationHandler.Summary)
		r.Get("/reconciliation/brs", reconciliationHandler.BRS)
		r.Get("/reconciliation/unreconciled", reconciliationHandler.Unreconciled)

		// Manual bank-date marking
		r.Put("/entries/{entryId}/bank-date", reconciliationHandler.SetBankDate)
		r.Delete("/entries/{entryId}/bank-date", reconciliationHandler.ClearBankDate)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
