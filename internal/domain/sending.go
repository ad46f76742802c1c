package domain

import "time"

// EmailMessage is a fully-resolved message ready for the outbound
// transport. By the time a message reaches this struct, all template
// substitution and unsubscribe-link injection is complete.
type EmailMessage struct {
	RecipientID string            `json:"recipient_id"`
	Email       string            `json:"email"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	TextContent string            `json:"text_content"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// SendResult is the per-item outcome of a transport batch call, aligned
// by position with the submitted messages. An empty MessageID means the
// provider did not accept that item.
type SendResult struct {
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
	Error     string    `json:"error,omitempty"`
}

// Accepted reports whether the transport assigned a message id.
func (r SendResult) Accepted() bool { return r.MessageID != "" }
