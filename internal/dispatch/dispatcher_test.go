package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixr/awards-mailer/internal/domain"
)

// stubTransport returns canned results or a hard error, recording calls.
type stubTransport struct {
	mu      sync.Mutex
	calls   [][]domain.EmailMessage
	err     error
	resolve func(msgs []domain.EmailMessage) []domain.SendResult
}

func (s *stubTransport) SendBatch(_ context.Context, msgs []domain.EmailMessage) ([]domain.SendResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, msgs)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.resolve != nil {
		return s.resolve(msgs), nil
	}
	results := make([]domain.SendResult, len(msgs))
	for i := range msgs {
		results[i] = domain.SendResult{MessageID: fmt.Sprintf("msg-%d", i), SentAt: time.Now()}
	}
	return results, nil
}

// memWriter records per-recipient outcomes.
type memWriter struct {
	mu     sync.Mutex
	sent   map[string]string // recipient id -> message id
	failed map[string]string // recipient id -> reason
}

func newMemWriter() *memWriter {
	return &memWriter{sent: make(map[string]string), failed: make(map[string]string)}
}

func (m *memWriter) MarkSent(_ context.Context, id, messageID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[id] = messageID
	return nil
}

func (m *memWriter) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id] = reason
	return nil
}

func testRecipients(n int) []domain.Recipient {
	out := make([]domain.Recipient, n)
	for i := range out {
		out[i] = domain.Recipient{
			ID:               fmt.Sprintf("rec-%d", i),
			Email:            fmt.Sprintf("judge%d@example.com", i),
			FirstName:        "Ada",
			Status:           domain.RecipientPending,
			UnsubscribeToken: fmt.Sprintf("tok-%d", i),
		}
	}
	return out
}

func testComm() *domain.Communication {
	return &domain.Communication{
		ID:        "comm-1",
		Subject:   "Hello {{ first_name }}",
		HTMLBody:  "<p>Hi {{ first_name }}, <a href=\"{{ unsubscribe_url }}\">unsubscribe</a></p>",
		TextBody:  "Hi {{ full_name }}",
		FromName:  "XR Awards",
		FromEmail: "no-reply@awards.test",
	}
}

func TestChunkSizes(t *testing.T) {
	cases := []struct {
		n, size, want int
	}{
		{0, 100, 0},
		{1, 100, 1},
		{100, 100, 1},
		{101, 100, 2},
		{250, 100, 3},
		{3, 1, 3},
	}
	for _, c := range cases {
		got := Chunk(testRecipients(c.n), c.size)
		assert.Len(t, got, c.want, "n=%d size=%d", c.n, c.size)
		total := 0
		for _, b := range got {
			total += len(b)
		}
		assert.Equal(t, c.n, total)
	}
}

func TestChunkPreservesOrder(t *testing.T) {
	batches := Chunk(testRecipients(250), 100)
	require.Len(t, batches, 3)
	assert.Equal(t, "rec-0", batches[0][0].ID)
	assert.Equal(t, "rec-100", batches[1][0].ID)
	assert.Equal(t, "rec-249", batches[2][49].ID)
}

func TestDispatchBatchAllAccepted(t *testing.T) {
	transport := &stubTransport{}
	writer := newMemWriter()
	d := NewDispatcher(transport, writer, NewRenderer(), "https://awards.test/unsubscribe")

	stats, err := d.DispatchBatch(context.Background(), testComm(), testRecipients(3))
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Sent: 3, Failed: 0}, stats)
	assert.Len(t, writer.sent, 3)
	assert.Empty(t, writer.failed)

	// one transport call carrying all three, personalized
	require.Len(t, transport.calls, 1)
	msgs := transport.calls[0]
	require.Len(t, msgs, 3)
	assert.Equal(t, "Hello Ada", msgs[0].Subject)
	assert.Contains(t, msgs[0].HTMLContent, "token=tok-0")
	assert.Contains(t, msgs[0].Headers["List-Unsubscribe"], "tok-0")
}

func TestDispatchBatchPartialAcceptance(t *testing.T) {
	// ids for all but the last two positions
	transport := &stubTransport{resolve: func(msgs []domain.EmailMessage) []domain.SendResult {
		results := make([]domain.SendResult, len(msgs))
		for i := range msgs {
			if i < len(msgs)-2 {
				results[i] = domain.SendResult{MessageID: fmt.Sprintf("msg-%d", i), SentAt: time.Now()}
			} else {
				results[i] = domain.SendResult{Error: "mailbox rejected"}
			}
		}
		return results
	}}
	writer := newMemWriter()
	d := NewDispatcher(transport, writer, NewRenderer(), "")

	stats, err := d.DispatchBatch(context.Background(), testComm(), testRecipients(5))
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Sent: 3, Failed: 2}, stats)
	assert.Equal(t, "mailbox rejected", writer.failed["rec-3"])
	assert.Equal(t, "mailbox rejected", writer.failed["rec-4"])
	assert.Equal(t, "msg-0", writer.sent["rec-0"])
}

func TestDispatchBatchHardFailureMarksWholeChunk(t *testing.T) {
	transport := &stubTransport{err: errors.New("connection refused")}
	writer := newMemWriter()
	d := NewDispatcher(transport, writer, NewRenderer(), "")

	stats, err := d.DispatchBatch(context.Background(), testComm(), testRecipients(4))
	require.NoError(t, err, "hard transport failure is recovered locally")
	assert.Equal(t, BatchStats{Sent: 0, Failed: 4}, stats)
	require.Len(t, writer.failed, 4)
	for _, reason := range writer.failed {
		assert.Contains(t, reason, "connection refused")
	}
}

func TestDispatchBatchRenderFailureIsPerRecipient(t *testing.T) {
	transport := &stubTransport{}
	writer := newMemWriter()
	d := NewDispatcher(transport, writer, NewRenderer(), "")

	comm := testComm()
	comm.HTMLBody = "{% broken" // unparseable template fails every render

	stats, err := d.DispatchBatch(context.Background(), comm, testRecipients(2))
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Sent: 0, Failed: 2}, stats)
	assert.Empty(t, transport.calls, "nothing submitted when nothing rendered")
}
