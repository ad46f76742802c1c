package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aixr/awards-mailer/internal/pkg/httputil"
	"github.com/aixr/awards-mailer/internal/scheduler"
	"github.com/aixr/awards-mailer/internal/service/communication"
	"github.com/aixr/awards-mailer/internal/webhook"
)

// maxWebhookBody bounds webhook payloads; provider events are small.
const maxWebhookBody = 1 << 20

// Handlers holds the services the HTTP layer delegates to.
type Handlers struct {
	comms    *communication.Service
	poller   *scheduler.Poller
	verifier *webhook.Verifier
	ingestor *webhook.Ingestor
}

// NewHandlers creates the API handlers.
func NewHandlers(comms *communication.Service, poller *scheduler.Poller, verifier *webhook.Verifier, ingestor *webhook.Ingestor) *Handlers {
	return &Handlers{comms: comms, poller: poller, verifier: verifier, ingestor: ingestor}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// TriggerSend claims a communication for sending and returns once the
// batch loop is underway. 409 when a send is already in progress or done.
func (h *Handlers) TriggerSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "communicationID")

	receipt, err := h.comms.Trigger(r.Context(), id)
	switch {
	case err == communication.ErrNotFound:
		httputil.NotFound(w, "communication not found")
	case communication.IsConflict(err):
		httputil.Error(w, http.StatusConflict, err.Error())
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.JSON(w, http.StatusAccepted, receipt)
	}
}

// GetCommunication returns one communication with its live counters.
func (h *Handlers) GetCommunication(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "communicationID")

	comm, err := h.comms.Get(r.Context(), id)
	switch {
	case err == communication.ErrNotFound:
		httputil.NotFound(w, "communication not found")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, comm)
	}
}

// RunSchedulerTick runs one scheduler pass on demand.
func (h *Handlers) RunSchedulerTick(w http.ResponseWriter, r *http.Request) {
	result, err := h.poller.RunTick(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, result)
}

// webhookReceipt is the response envelope for the webhook endpoint. The
// provider only needs a 2xx; processed is diagnostic.
type webhookReceipt struct {
	Received  bool `json:"received"`
	Processed bool `json:"processed"`
}

// ReceiveWebhook verifies and applies one provider event. Unmatched
// message ids still get a 200 so the provider stops retrying.
func (h *Handlers) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}

	if err := h.verifier.Verify(
		signatureHeader(r, "svix-id", "webhook-id"),
		signatureHeader(r, "svix-timestamp", "webhook-timestamp"),
		signatureHeader(r, "svix-signature", "webhook-signature"),
		body,
	); err != nil {
		httputil.Error(w, http.StatusUnauthorized, err.Error())
		return
	}

	var ev webhook.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		httputil.BadRequest(w, "invalid event payload")
		return
	}

	processed, err := h.ingestor.ProcessEvent(r.Context(), ev)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, webhookReceipt{Received: true, Processed: processed})
}

// signatureHeader returns the first non-empty header among the provider's
// header name variants.
func signatureHeader(r *http.Request, names ...string) string {
	for _, n := range names {
		if v := r.Header.Get(n); v != "" {
			return v
		}
	}
	return ""
}
