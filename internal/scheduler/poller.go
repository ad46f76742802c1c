// Package scheduler promotes scheduled communications whose send time has
// arrived and hands them to the send orchestrator. A tick can run from the
// background polling loop or on demand from the HTTP trigger.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aixr/awards-mailer/internal/domain"
	"github.com/aixr/awards-mailer/internal/pkg/distlock"
	"github.com/aixr/awards-mailer/internal/service/communication"
)

// DefaultPollInterval is how often the background loop checks for due
// communications.
const DefaultPollInterval = 60 * time.Second

// tickLockTTL bounds how long one worker holds the tick lock.
const tickLockTTL = 5 * time.Minute

// Store is the persistence surface the poller needs.
type Store interface {
	// DueScheduled returns communications with status=scheduled whose
	// scheduled_at is at or before now, oldest first.
	DueScheduled(ctx context.Context, now time.Time) ([]domain.Communication, error)

	// ClaimPending moves scheduled -> pending. ErrNotFound means another
	// worker already claimed it or the communication changed state.
	ClaimPending(ctx context.Context, id string) error

	// RollbackToScheduled undoes a claim so the next tick retries. Only
	// applies while the communication is still pending.
	RollbackToScheduled(ctx context.Context, id string) error
}

// Sender triggers the actual send once a communication is claimed.
type Sender interface {
	Trigger(ctx context.Context, id string) (*communication.SendReceipt, error)
}

// TickOutcome records what happened to one due communication.
type TickOutcome struct {
	CommunicationID string `json:"communication_id"`
	Triggered       bool   `json:"triggered"`
	Error           string `json:"error,omitempty"`
}

// TickResult summarizes one scheduler pass.
type TickResult struct {
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   bool          `json:"skipped,omitempty"` // another worker held the tick lock
	Outcomes  []TickOutcome `json:"outcomes,omitempty"`
}

// Poller drives scheduled sends. One communication failing to trigger never
// blocks the rest of the tick.
type Poller struct {
	store  Store
	sender Sender

	// Lock backends; both nil disables cross-worker locking.
	redisClient *redis.Client
	db          *sql.DB

	pollInterval time.Duration

	ticks     int64
	triggered int64
	errors    int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewPoller creates a scheduler poller.
func NewPoller(store Store, sender Sender) *Poller {
	return &Poller{
		store:        store,
		sender:       sender,
		pollInterval: DefaultPollInterval,
	}
}

// SetPollInterval overrides the background loop interval.
func (p *Poller) SetPollInterval(d time.Duration) {
	if d > 0 {
		p.pollInterval = d
	}
}

// SetLockBackends enables the distributed tick lock. Redis is preferred;
// with only a database handle the lock falls back to advisory locks.
func (p *Poller) SetLockBackends(client *redis.Client, db *sql.DB) {
	p.redisClient = client
	p.db = db
}

// Start begins the background polling loop.
func (p *Poller) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("[Scheduler] Starting with poll interval: %v", p.pollInterval)

	p.wg.Add(1)
	go p.pollLoop()
	return nil
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	log.Printf("[Scheduler] Stopped. Ticks: %d, Triggered: %d, Errors: %d",
		atomic.LoadInt64(&p.ticks), atomic.LoadInt64(&p.triggered), atomic.LoadInt64(&p.errors))
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunTick(p.ctx); err != nil {
				log.Printf("[Scheduler] Tick error: %v", err)
			}
		}
	}
}

// RunTick performs one scheduler pass: find due communications, claim each
// one, and hand it to the sender. A claim that loses the race is skipped
// silently; a trigger failure rolls the claim back so the next tick retries.
func (p *Poller) RunTick(ctx context.Context) (*TickResult, error) {
	atomic.AddInt64(&p.ticks, 1)
	result := &TickResult{}

	if p.redisClient != nil || p.db != nil {
		lock := distlock.NewLock(p.redisClient, p.db, "scheduler:tick", tickLockTTL)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquiring tick lock: %w", err)
		}
		if !acquired {
			result.Skipped = true
			return result, nil
		}
		defer lock.Release(ctx)
	}

	due, err := p.store.DueScheduled(ctx, time.Now().UTC())
	if err != nil {
		atomic.AddInt64(&p.errors, 1)
		return nil, fmt.Errorf("fetching due communications: %w", err)
	}

	for _, comm := range due {
		outcome := p.processDue(ctx, comm.ID)
		if outcome == nil {
			continue // lost the claim race
		}
		result.Processed++
		result.Outcomes = append(result.Outcomes, *outcome)
		if outcome.Triggered {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	if result.Processed > 0 {
		log.Printf("[Scheduler] Tick: %d due, %d triggered, %d failed",
			result.Processed, result.Succeeded, result.Failed)
	}
	return result, nil
}

func (p *Poller) processDue(ctx context.Context, id string) *TickOutcome {
	if err := p.store.ClaimPending(ctx, id); err != nil {
		if err == communication.ErrNotFound {
			return nil
		}
		atomic.AddInt64(&p.errors, 1)
		return &TickOutcome{CommunicationID: id, Error: err.Error()}
	}

	if _, err := p.sender.Trigger(ctx, id); err != nil {
		atomic.AddInt64(&p.errors, 1)
		log.Printf("[Scheduler] Trigger failed for %s: %v", id, err)
		if rbErr := p.store.RollbackToScheduled(ctx, id); rbErr != nil {
			log.Printf("[Scheduler] Rollback failed for %s: %v", id, rbErr)
		}
		return &TickOutcome{CommunicationID: id, Error: err.Error()}
	}

	atomic.AddInt64(&p.triggered, 1)
	return &TickOutcome{CommunicationID: id, Triggered: true}
}
