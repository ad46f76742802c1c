package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aixr/awards-mailer/internal/config"
	"github.com/aixr/awards-mailer/internal/domain"
	"github.com/aixr/awards-mailer/internal/pkg/httpretry"
)

// MaxBatchSize is the provider's per-call recipient ceiling. The batch
// endpoint rejects payloads with more items.
const MaxBatchSize = 100

// Client is a Resend batch-send API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a new Resend API client.
func NewClient(cfg config.ResendConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
	}
}

// batchEmail is the wire format for one item of a batch call.
type batchEmail struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// batchResponse is the provider's batch-call response. Entries align by
// position with the submitted items.
type batchResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// SendBatch submits up to MaxBatchSize messages in one transport call and
// returns one SendResult per input position. A per-item absence of an id
// is reported in the result, not as an error; a non-nil error means the
// whole call failed and no item was accepted.
func (c *Client) SendBatch(ctx context.Context, msgs []domain.EmailMessage) ([]domain.SendResult, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	if len(msgs) > MaxBatchSize {
		return nil, fmt.Errorf("batch size %d exceeds provider maximum %d", len(msgs), MaxBatchSize)
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("resend: missing API key")
	}

	payload := make([]batchEmail, 0, len(msgs))
	for _, m := range msgs {
		payload = append(payload, batchEmail{
			From:    formatFrom(m.FromName, m.FromEmail),
			To:      []string{m.Email},
			Subject: m.Subject,
			HTML:    m.HTMLContent,
			Text:    m.TextContent,
			Headers: m.Headers,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed batchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	now := time.Now().UTC()
	results := make([]domain.SendResult, len(msgs))
	for i := range msgs {
		if i < len(parsed.Data) && parsed.Data[i].ID != "" {
			results[i] = domain.SendResult{MessageID: parsed.Data[i].ID, SentAt: now}
		} else {
			results[i] = domain.SendResult{Error: "no message id returned by provider"}
		}
	}
	return results, nil
}

func formatFrom(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
