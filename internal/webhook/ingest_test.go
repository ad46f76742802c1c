package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aixr/awards-mailer/internal/domain"
)

type memRecipientStore struct {
	mu         sync.Mutex
	byMessage  map[string]*domain.Recipient
	failReason map[string]string
}

func newMemRecipientStore() *memRecipientStore {
	return &memRecipientStore{
		byMessage:  make(map[string]*domain.Recipient),
		failReason: make(map[string]string),
	}
}

func (m *memRecipientStore) add(rec *domain.Recipient) {
	m.byMessage[rec.ProviderMessageID] = rec
}

func (m *memRecipientStore) find(id string) *domain.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byMessage {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (m *memRecipientStore) GetByMessageID(_ context.Context, messageID string) (*domain.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byMessage[messageID]
	if !ok {
		return nil, ErrRecipientNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memRecipientStore) MarkSentAt(_ context.Context, id string, at time.Time) error {
	rec := m.find(id)
	rec.Status = domain.RecipientSent
	rec.SentAt = &at
	return nil
}

func (m *memRecipientStore) MarkDelivered(_ context.Context, id string, at time.Time) error {
	rec := m.find(id)
	rec.Status = domain.RecipientDelivered
	rec.DeliveredAt = &at
	return nil
}

func (m *memRecipientStore) MarkDeliveryFailed(_ context.Context, id string, status domain.RecipientStatus, reason string) error {
	rec := m.find(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Status = status
	rec.ErrorMessage = reason
	m.failReason[id] = reason
	return nil
}

func (m *memRecipientStore) RecordOpen(_ context.Context, id string, at time.Time) error {
	rec := m.find(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.OpenCount++
	if rec.OpenedAt == nil {
		rec.OpenedAt = &at
	}
	return nil
}

func (m *memRecipientStore) RecordClick(_ context.Context, id string, click domain.ClickEvent) error {
	rec := m.find(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ClickCount++
	rec.ClickEvents = append(rec.ClickEvents, click)
	if rec.ClickedAt == nil {
		ts := click.Timestamp
		rec.ClickedAt = &ts
	}
	return nil
}

type memCommStore struct {
	mu       sync.Mutex
	failures map[string]int // communication id -> ApplyDeliveryFailure calls
}

func (m *memCommStore) ApplyDeliveryFailure(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == nil {
		m.failures = make(map[string]int)
	}
	m.failures[id]++
	return nil
}

type memContactStore struct {
	mu          sync.Mutex
	deactivated []string
}

func (m *memContactStore) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivated = append(m.deactivated, id)
	return nil
}

func setupIngestor(status domain.RecipientStatus) (*Ingestor, *memRecipientStore, *memCommStore, *memContactStore) {
	recs := newMemRecipientStore()
	recs.add(&domain.Recipient{
		ID:                "rcpt-1",
		CommunicationID:   "comm-1",
		ContactID:         "contact-1",
		Status:            status,
		Email:             "judge@awards.example",
		ProviderMessageID: "msg_abc",
	})
	comms := &memCommStore{}
	contacts := &memContactStore{}
	return NewIngestor(recs, comms, contacts), recs, comms, contacts
}

func event(typ string) Event {
	return Event{
		Type:      typ,
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Data:      EventData{EmailID: "msg_abc", To: []string{"judge@awards.example"}},
	}
}

func TestProcessDelivered(t *testing.T) {
	ing, recs, _, _ := setupIngestor(domain.RecipientSent)

	processed, err := ing.ProcessEvent(context.Background(), event("email.delivered"))
	if err != nil || !processed {
		t.Fatalf("ProcessEvent = %v, %v", processed, err)
	}
	rec := recs.find("rcpt-1")
	if rec.Status != domain.RecipientDelivered || rec.DeliveredAt == nil {
		t.Fatalf("recipient = %+v, want delivered with timestamp", rec)
	}

	// Duplicate delivery is a no-op.
	if processed, err = ing.ProcessEvent(context.Background(), event("email.delivered")); err != nil || !processed {
		t.Fatalf("duplicate = %v, %v", processed, err)
	}
	if rec.Status != domain.RecipientDelivered {
		t.Fatalf("status = %s after duplicate, want delivered", rec.Status)
	}
}

func TestProcessUnknownMessageID(t *testing.T) {
	ing, _, _, _ := setupIngestor(domain.RecipientSent)

	ev := event("email.delivered")
	ev.Data.EmailID = "msg_unknown"
	processed, err := ing.ProcessEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if processed {
		t.Fatal("unknown message id must not count as processed")
	}
}

func TestProcessBounceAdjustsAggregate(t *testing.T) {
	ing, recs, comms, contacts := setupIngestor(domain.RecipientSent)

	ev := event("email.bounced")
	ev.Data.Bounce = &BounceInfo{Message: "mailbox full", Type: "Transient"}
	processed, err := ing.ProcessEvent(context.Background(), ev)
	if err != nil || !processed {
		t.Fatalf("ProcessEvent = %v, %v", processed, err)
	}

	rec := recs.find("rcpt-1")
	if rec.Status != domain.RecipientBounced || rec.ErrorMessage != "mailbox full" {
		t.Fatalf("recipient = %+v, want bounced with diagnostic", rec)
	}
	if comms.failures["comm-1"] != 1 {
		t.Fatalf("aggregate adjustments = %d, want 1", comms.failures["comm-1"])
	}
	if len(contacts.deactivated) != 0 {
		t.Fatal("transient bounce must not deactivate the contact")
	}

	// Redelivery of the bounce must not double-count the aggregate.
	if _, err := ing.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if comms.failures["comm-1"] != 1 {
		t.Fatalf("aggregate adjustments = %d after redelivery, want 1", comms.failures["comm-1"])
	}
}

func TestProcessPermanentBounceDeactivatesContact(t *testing.T) {
	ing, _, _, contacts := setupIngestor(domain.RecipientSent)

	ev := event("email.bounced")
	ev.Data.Bounce = &BounceInfo{Message: "user unknown", Type: "Permanent"}
	if _, err := ing.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if len(contacts.deactivated) != 1 || contacts.deactivated[0] != "contact-1" {
		t.Fatalf("deactivated = %v, want [contact-1]", contacts.deactivated)
	}
}

func TestProcessComplaintDeactivatesContact(t *testing.T) {
	ing, recs, comms, contacts := setupIngestor(domain.RecipientDelivered)

	if _, err := ing.ProcessEvent(context.Background(), event("email.complained")); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if got := recs.find("rcpt-1").Status; got != domain.RecipientBounced {
		t.Fatalf("status = %s, want bounced", got)
	}
	if comms.failures["comm-1"] != 1 {
		t.Fatalf("aggregate adjustments = %d, want 1", comms.failures["comm-1"])
	}
	if len(contacts.deactivated) != 1 {
		t.Fatalf("deactivated = %v, want contact", contacts.deactivated)
	}
}

func TestProcessDeliveredAfterBounceIgnored(t *testing.T) {
	ing, recs, _, _ := setupIngestor(domain.RecipientBounced)

	processed, err := ing.ProcessEvent(context.Background(), event("email.delivered"))
	if err != nil || !processed {
		t.Fatalf("ProcessEvent = %v, %v", processed, err)
	}
	if got := recs.find("rcpt-1").Status; got != domain.RecipientBounced {
		t.Fatalf("status = %s, want bounced (no revert)", got)
	}
}

func TestProcessOpensAreAdditive(t *testing.T) {
	ing, recs, _, _ := setupIngestor(domain.RecipientDelivered)

	first := event("email.opened")
	second := event("email.opened")
	second.CreatedAt = first.CreatedAt.Add(time.Hour)

	for _, ev := range []Event{first, second} {
		if _, err := ing.ProcessEvent(context.Background(), ev); err != nil {
			t.Fatalf("ProcessEvent: %v", err)
		}
	}

	rec := recs.find("rcpt-1")
	if rec.OpenCount != 2 {
		t.Fatalf("open_count = %d, want 2 (duplicates count)", rec.OpenCount)
	}
	if rec.OpenedAt == nil || !rec.OpenedAt.Equal(first.CreatedAt) {
		t.Fatalf("opened_at = %v, want first event time", rec.OpenedAt)
	}
	if rec.Status != domain.RecipientDelivered {
		t.Fatalf("status = %s, opens must not move status", rec.Status)
	}
}

func TestProcessClicksAppend(t *testing.T) {
	ing, recs, _, _ := setupIngestor(domain.RecipientDelivered)

	ev := event("email.clicked")
	ev.Data.Click = &ClickInfo{
		Link:      "https://awards.example/vote",
		Timestamp: time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC),
		IPAddress: "203.0.113.9",
		UserAgent: "Mozilla/5.0",
	}

	for i := 0; i < 2; i++ {
		if _, err := ing.ProcessEvent(context.Background(), ev); err != nil {
			t.Fatalf("ProcessEvent: %v", err)
		}
	}

	rec := recs.find("rcpt-1")
	if rec.ClickCount != 2 || len(rec.ClickEvents) != 2 {
		t.Fatalf("clicks = %d/%d events, want 2/2", rec.ClickCount, len(rec.ClickEvents))
	}
	if rec.ClickEvents[0].URL != "https://awards.example/vote" {
		t.Fatalf("click url = %q", rec.ClickEvents[0].URL)
	}
	if rec.ClickedAt == nil || !rec.ClickedAt.Equal(ev.Data.Click.Timestamp) {
		t.Fatalf("clicked_at = %v, want click timestamp", rec.ClickedAt)
	}
}

func TestProcessSentEventIsUsuallyNoop(t *testing.T) {
	// The dispatch path marks recipients sent before the provider's sent
	// event arrives, so the event normally applies nothing.
	ing, recs, _, _ := setupIngestor(domain.RecipientSent)
	sentAt := recs.find("rcpt-1").SentAt

	processed, err := ing.ProcessEvent(context.Background(), event("email.sent"))
	if err != nil || !processed {
		t.Fatalf("ProcessEvent = %v, %v", processed, err)
	}
	rec := recs.find("rcpt-1")
	if rec.Status != domain.RecipientSent || rec.SentAt != sentAt {
		t.Fatalf("sent event must not rewrite an already-sent recipient")
	}

	// But it does advance a pending recipient.
	ing2, recs2, _, _ := setupIngestor(domain.RecipientPending)
	if _, err := ing2.ProcessEvent(context.Background(), event("email.sent")); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if got := recs2.find("rcpt-1").Status; got != domain.RecipientSent {
		t.Fatalf("status = %s, want sent", got)
	}
}

func TestProcessInformationalEvents(t *testing.T) {
	ing, recs, comms, _ := setupIngestor(domain.RecipientSent)

	for _, typ := range []string{"email.delivery_delayed", "email.scheduled", "email.received"} {
		processed, err := ing.ProcessEvent(context.Background(), event(typ))
		if err != nil || !processed {
			t.Fatalf("%s: ProcessEvent = %v, %v", typ, processed, err)
		}
	}
	if got := recs.find("rcpt-1").Status; got != domain.RecipientSent {
		t.Fatalf("status = %s, informational events must not mutate", got)
	}
	if len(comms.failures) != 0 {
		t.Fatal("informational events must not touch aggregates")
	}
}

func TestProcessUnrecognizedType(t *testing.T) {
	ing, _, _, _ := setupIngestor(domain.RecipientSent)
	processed, err := ing.ProcessEvent(context.Background(), event("email.mystery"))
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if processed {
		t.Fatal("unrecognized type must not count as processed")
	}
}
