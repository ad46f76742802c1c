package communication

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aixr/awards-mailer/internal/dispatch"
	"github.com/aixr/awards-mailer/internal/domain"
)

const (
	// DefaultBatchSize matches the transport's per-call recipient ceiling.
	DefaultBatchSize = 100

	// DefaultRateInterval is the minimum delay between batch calls.
	DefaultRateInterval = 500 * time.Millisecond
)

// SendReceipt is returned to the trigger caller once the send has been
// claimed. The batch loop may still be running when the caller sees it.
type SendReceipt struct {
	CommunicationID string `json:"communication_id"`
	Accepted        bool   `json:"accepted"`
	RecipientCount  int    `json:"recipient_count"`
}

// SendReport is the final outcome of a completed batch loop.
type SendReport struct {
	CommunicationID string                     `json:"communication_id"`
	Sent            int                        `json:"sent"`
	Failed          int                        `json:"failed"`
	Status          domain.CommunicationStatus `json:"status"`
}

// Service coordinates campaign sends. All public methods are safe for
// concurrent use; different communications' sends proceed concurrently,
// while the status claim keeps each communication single-sender.
type Service struct {
	repo       Repository
	recipients RecipientRepository
	dispatcher Dispatcher

	batchSize int
	newPacer  func() Pacer

	wg sync.WaitGroup
}

// NewService creates a communication send service.
func NewService(repo Repository, recipients RecipientRepository, dispatcher Dispatcher) *Service {
	return &Service{
		repo:       repo,
		recipients: recipients,
		dispatcher: dispatcher,
		batchSize:  DefaultBatchSize,
		newPacer:   func() Pacer { return dispatch.NewLimiter(DefaultRateInterval) },
	}
}

// SetBatchSize overrides the transport chunk size.
func (s *Service) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// SetRateInterval overrides the inter-batch delay.
func (s *Service) SetRateInterval(d time.Duration) {
	s.newPacer = func() Pacer { return dispatch.NewLimiter(d) }
}

// SetPacerFactory injects a pacer, used by tests to avoid real sleeps.
func (s *Service) SetPacerFactory(f func() Pacer) {
	s.newPacer = f
}

// Get returns a single communication.
func (s *Service) Get(ctx context.Context, id string) (*domain.Communication, error) {
	return s.repo.Get(ctx, id)
}

// Trigger claims the communication for sending and runs the batch loop on
// a detached goroutine. It returns after the claim, so the caller is not
// held open for the campaign's full duration. ErrAlreadySending and
// ErrAlreadyCompleted signal conflicts before any mutation.
func (s *Service) Trigger(ctx context.Context, id string) (*SendReceipt, error) {
	comm, pending, err := s.claim(ctx, id)
	if err != nil {
		return nil, err
	}

	receipt := &SendReceipt{CommunicationID: id, Accepted: true, RecipientCount: len(pending)}
	if len(pending) == 0 {
		return receipt, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Detached from the trigger request: the batch loop owns its own
		// lifetime once the claim succeeded.
		s.run(context.Background(), comm, pending)
	}()

	return receipt, nil
}

// Send claims the communication and runs the batch loop synchronously,
// returning the final report. Used by tests and operational tooling.
func (s *Service) Send(ctx context.Context, id string) (*SendReport, error) {
	comm, pending, err := s.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return &SendReport{
			CommunicationID: id,
			Sent:            comm.SentCount,
			Failed:          comm.FailedCount,
			Status:          domain.CommunicationCompleted,
		}, nil
	}
	return s.run(ctx, comm, pending), nil
}

// Wait blocks until all detached batch loops have finished. Called during
// graceful shutdown.
func (s *Service) Wait() {
	s.wg.Wait()
}

// claim enforces the at-most-one-concurrent-send guarantee: check status,
// write sending so a concurrent caller observes the change, then load the
// pending recipients. A communication with no pending recipients is
// finalized as completed immediately.
func (s *Service) claim(ctx context.Context, id string) (*domain.Communication, []domain.Recipient, error) {
	comm, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	switch comm.Status {
	case domain.CommunicationSending:
		return nil, nil, ErrAlreadySending
	case domain.CommunicationCompleted:
		return nil, nil, ErrAlreadyCompleted
	}

	if err := s.repo.ClaimSending(ctx, id); err != nil {
		return nil, nil, err
	}

	pending, err := s.recipients.ListPending(ctx, id)
	if err != nil {
		s.releaseClaim(ctx, id)
		return nil, nil, fmt.Errorf("listing pending recipients: %w", err)
	}

	if len(pending) == 0 {
		if err := s.repo.Finalize(ctx, id, domain.CommunicationCompleted,
			comm.SentCount, comm.FailedCount, time.Now().UTC()); err != nil {
			s.releaseClaim(ctx, id)
			return nil, nil, fmt.Errorf("finalizing empty send: %w", err)
		}
		log.Printf("[communication.Service] %s: no pending recipients, completed", id)
	}

	return comm, pending, nil
}

// releaseClaim undoes a claim whose batch loop never started. Without it
// a transient store failure would strand the communication in sending,
// turning every retry into a conflict.
func (s *Service) releaseClaim(ctx context.Context, id string) {
	if err := s.repo.ReleaseClaim(ctx, id); err != nil {
		log.Printf("[communication.Service] %s: releasing claim: %v", id, err)
	}
}

// run drives the dispatcher across all batches in order. Partial failure
// never blocks remaining recipients: a failed batch is resolved and the
// loop continues. Counters are persisted after every batch so a crash
// leaves accurate partial counts.
func (s *Service) run(ctx context.Context, comm *domain.Communication, pending []domain.Recipient) *SendReport {
	pacer := s.newPacer()
	batches := dispatch.Chunk(pending, s.batchSize)

	// Resume from the communication's existing counters so a re-trigger
	// after a crash keeps the earlier batches' counts.
	totalSent := comm.SentCount
	totalFailed := comm.FailedCount

	log.Printf("[communication.Service] %s: sending %d recipients in %d batches",
		comm.ID, len(pending), len(batches))

	for i, batch := range batches {
		pacer.Wait(ctx) // no-op before the first batch

		stats, err := s.dispatchBatch(ctx, comm, batch)
		if err != nil {
			// The dispatcher could not resolve the whole batch. Mark the
			// remainder failed and move on to the next batch.
			log.Printf("[communication.Service] %s: batch %d/%d error: %v",
				comm.ID, i+1, len(batches), err)
			for _, rec := range batch {
				if mErr := s.recipients.MarkFailed(ctx, rec.ID, err.Error()); mErr != nil {
					log.Printf("[communication.Service] %s: marking %s failed: %v", comm.ID, rec.ID, mErr)
				}
			}
			stats.Failed = len(batch) - stats.Sent
		}

		totalSent += stats.Sent
		totalFailed += stats.Failed

		if err := s.repo.UpdateCounters(ctx, comm.ID, totalSent, totalFailed); err != nil {
			log.Printf("[communication.Service] %s: persisting counters: %v", comm.ID, err)
		}
	}

	final := domain.FinalStatus(totalSent, totalFailed)
	if err := s.repo.Finalize(ctx, comm.ID, final, totalSent, totalFailed, time.Now().UTC()); err != nil {
		log.Printf("[communication.Service] %s: finalizing: %v", comm.ID, err)
	}

	log.Printf("[communication.Service] %s: done status=%s sent=%d failed=%d",
		comm.ID, final, totalSent, totalFailed)

	return &SendReport{CommunicationID: comm.ID, Sent: totalSent, Failed: totalFailed, Status: final}
}

// dispatchBatch converts a dispatcher panic into a batch error so one bad
// batch cannot take down the whole loop or leak the detached goroutine.
func (s *Service) dispatchBatch(ctx context.Context, comm *domain.Communication, batch []domain.Recipient) (stats dispatch.BatchStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()
	return s.dispatcher.DispatchBatch(ctx, comm, batch)
}
