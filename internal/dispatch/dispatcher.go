package dispatch

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/aixr/awards-mailer/internal/domain"
	"github.com/aixr/awards-mailer/internal/pkg/logger"
)

// Transport is the outbound batch email API. One call submits one chunk;
// results align by position with the submitted messages.
type Transport interface {
	SendBatch(ctx context.Context, msgs []domain.EmailMessage) ([]domain.SendResult, error)
}

// RecipientWriter persists per-recipient dispatch outcomes.
type RecipientWriter interface {
	MarkSent(ctx context.Context, id, messageID string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// BatchStats holds the per-chunk outcome counts.
type BatchStats struct {
	Sent   int
	Failed int
}

// Chunk partitions recipients into batches of at most size, preserving
// order.
func Chunk(recipients []domain.Recipient, size int) [][]domain.Recipient {
	if size <= 0 {
		size = 100
	}
	var batches [][]domain.Recipient
	for i := 0; i < len(recipients); i += size {
		end := i + size
		if end > len(recipients) {
			end = len(recipients)
		}
		batches = append(batches, recipients[i:end])
	}
	return batches
}

// Dispatcher turns one chunk of pending recipients into a transport call
// and resolves every recipient in the chunk to sent or failed. After a
// chunk attempt no recipient is ever left without a resolved status.
type Dispatcher struct {
	transport       Transport
	recipients      RecipientWriter
	renderer        *Renderer
	unsubscribeBase string
}

// NewDispatcher creates a batch dispatcher.
func NewDispatcher(transport Transport, recipients RecipientWriter, renderer *Renderer, unsubscribeBase string) *Dispatcher {
	return &Dispatcher{
		transport:       transport,
		recipients:      recipients,
		renderer:        renderer,
		unsubscribeBase: unsubscribeBase,
	}
}

// DispatchBatch renders and submits one chunk. Per-item transport
// rejections and render failures become failed recipients; a hard call
// failure marks the whole chunk failed. The returned error covers only
// unrecoverable store problems, never transport outcomes.
func (d *Dispatcher) DispatchBatch(ctx context.Context, comm *domain.Communication, batch []domain.Recipient) (BatchStats, error) {
	var stats BatchStats

	msgs := make([]domain.EmailMessage, 0, len(batch))
	submitted := make([]*domain.Recipient, 0, len(batch))

	for i := range batch {
		rec := &batch[i]
		msg, err := d.buildMessage(comm, rec)
		if err != nil {
			stats.Failed++
			if mErr := d.recipients.MarkFailed(ctx, rec.ID, err.Error()); mErr != nil {
				return stats, fmt.Errorf("marking recipient %s failed: %w", rec.ID, mErr)
			}
			logger.Warn("recipient render failed",
				"communication_id", comm.ID, "recipient_id", rec.ID, "email", rec.Email, "error", err.Error())
			continue
		}
		msgs = append(msgs, msg)
		submitted = append(submitted, rec)
	}

	if len(msgs) == 0 {
		return stats, nil
	}

	results, err := d.transport.SendBatch(ctx, msgs)
	if err != nil {
		// Hard call failure: resolve every submitted recipient as failed
		// and keep going. The campaign must not stall on one bad chunk.
		log.Printf("[Dispatcher] batch call failed for communication %s (%d recipients): %v",
			comm.ID, len(submitted), err)
		for _, rec := range submitted {
			stats.Failed++
			if mErr := d.recipients.MarkFailed(ctx, rec.ID, err.Error()); mErr != nil {
				return stats, fmt.Errorf("marking recipient %s failed: %w", rec.ID, mErr)
			}
		}
		return stats, nil
	}

	for i, rec := range submitted {
		res := domain.SendResult{Error: "no result returned for batch position"}
		if i < len(results) {
			res = results[i]
		}
		if res.Accepted() {
			stats.Sent++
			if err := d.recipients.MarkSent(ctx, rec.ID, res.MessageID, res.SentAt); err != nil {
				return stats, fmt.Errorf("marking recipient %s sent: %w", rec.ID, err)
			}
		} else {
			stats.Failed++
			if err := d.recipients.MarkFailed(ctx, rec.ID, res.Error); err != nil {
				return stats, fmt.Errorf("marking recipient %s failed: %w", rec.ID, err)
			}
		}
	}

	return stats, nil
}

// buildMessage renders the per-recipient message from the campaign's
// shared template.
func (d *Dispatcher) buildMessage(comm *domain.Communication, rec *domain.Recipient) (domain.EmailMessage, error) {
	bindings := map[string]any{
		"first_name":      rec.FirstName,
		"last_name":       rec.LastName,
		"full_name":       rec.FullName(),
		"email":           rec.Email,
		"organization":    rec.Organization,
		"unsubscribe_url": d.unsubscribeURL(rec.UnsubscribeToken),
	}

	subject, err := d.renderer.Render(comm.Subject, bindings)
	if err != nil {
		return domain.EmailMessage{}, fmt.Errorf("subject: %w", err)
	}
	html, err := d.renderer.Render(comm.HTMLBody, bindings)
	if err != nil {
		return domain.EmailMessage{}, fmt.Errorf("html body: %w", err)
	}
	text, err := d.renderer.Render(comm.TextBody, bindings)
	if err != nil {
		return domain.EmailMessage{}, fmt.Errorf("text body: %w", err)
	}

	msg := domain.EmailMessage{
		RecipientID: rec.ID,
		Email:       rec.Email,
		FromName:    comm.FromName,
		FromEmail:   comm.FromEmail,
		Subject:     subject,
		HTMLContent: html,
		TextContent: text,
	}
	if u := d.unsubscribeURL(rec.UnsubscribeToken); u != "" {
		msg.Headers = map[string]string{"List-Unsubscribe": "<" + u + ">"}
	}
	return msg, nil
}

func (d *Dispatcher) unsubscribeURL(token string) string {
	if d.unsubscribeBase == "" || token == "" {
		return ""
	}
	return d.unsubscribeBase + "?token=" + url.QueryEscape(token)
}
