package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/aixr/awards-mailer/internal/api"
	"github.com/aixr/awards-mailer/internal/config"
	"github.com/aixr/awards-mailer/internal/dispatch"
	"github.com/aixr/awards-mailer/internal/repository/postgres"
	"github.com/aixr/awards-mailer/internal/resend"
	"github.com/aixr/awards-mailer/internal/scheduler"
	"github.com/aixr/awards-mailer/internal/service/communication"
	"github.com/aixr/awards-mailer/internal/webhook"
)

func main() {
	log.Println("Starting awards-mailer server...")

	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.URL})
		} else {
			redisClient = redis.NewClient(opts)
		}
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("Redis unavailable (%v), scheduler lock falls back to advisory locks", err)
			redisClient = nil
		} else {
			log.Println("Connected to Redis")
		}
	}

	commRepo := postgres.NewCommunicationRepo(db)
	recipientRepo := postgres.NewRecipientRepo(db)
	contactRepo := postgres.NewContactRepo(db)

	transport := resend.NewClient(cfg.Resend)
	dispatcher := dispatch.NewDispatcher(transport, recipientRepo, dispatch.NewRenderer(), cfg.Sender.UnsubscribeBaseURL)

	sendSvc := communication.NewService(commRepo, recipientRepo, dispatcher)
	sendSvc.SetBatchSize(cfg.Dispatch.BatchSize)
	sendSvc.SetRateInterval(cfg.Dispatch.RateInterval())

	poller := scheduler.NewPoller(commRepo, sendSvc)
	poller.SetPollInterval(cfg.Scheduler.PollInterval())
	poller.SetLockBackends(redisClient, db)

	verifier := webhook.NewVerifier(cfg.Webhook)
	if !verifier.Enabled() {
		log.Println("WARNING: webhook signature verification disabled (no signing secret)")
	}
	if cfg.Server.APIKey == "" {
		log.Println("WARNING: operator API key not configured, /api endpoints are open")
	}
	ingestor := webhook.NewIngestor(recipientRepo, commRepo, contactRepo)

	handlers := api.NewHandlers(sendSvc, poller, verifier, ingestor)
	server := api.NewServer(cfg.Server, handlers)

	if err := poller.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go func() {
		log.Printf("Listening on %s", cfg.Server.Addr())
		if err := server.ListenAndServe(cfg.Server.Addr()); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	poller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Let detached batch loops finish so no campaign is left mid-send.
	sendSvc.Wait()
	log.Println("Server stopped")
}
