package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/aixr/awards-mailer/internal/config"
	"github.com/aixr/awards-mailer/internal/dispatch"
	"github.com/aixr/awards-mailer/internal/repository/postgres"
	"github.com/aixr/awards-mailer/internal/resend"
	"github.com/aixr/awards-mailer/internal/scheduler"
	"github.com/aixr/awards-mailer/internal/service/communication"
)

// The worker runs the scheduler poll loop without the HTTP surface. Useful
// as a separate deployment when webhook traffic and campaign sends should
// not share a process.
func main() {
	log.Println("Starting awards-mailer worker...")

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
		}
	}

	commRepo := postgres.NewCommunicationRepo(db)
	recipientRepo := postgres.NewRecipientRepo(db)

	transport := resend.NewClient(cfg.Resend)
	dispatcher := dispatch.NewDispatcher(transport, recipientRepo, dispatch.NewRenderer(), cfg.Sender.UnsubscribeBaseURL)

	sendSvc := communication.NewService(commRepo, recipientRepo, dispatcher)
	sendSvc.SetBatchSize(cfg.Dispatch.BatchSize)
	sendSvc.SetRateInterval(cfg.Dispatch.RateInterval())

	poller := scheduler.NewPoller(commRepo, sendSvc)
	poller.SetPollInterval(cfg.Scheduler.PollInterval())
	poller.SetLockBackends(redisClient, db)

	if err := poller.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	log.Printf("Scheduler running (poll interval %v)", cfg.Scheduler.PollInterval())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	poller.Stop()
	sendSvc.Wait()
	log.Println("Worker stopped")
}
