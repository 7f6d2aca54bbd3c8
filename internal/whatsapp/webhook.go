package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/lojasmm/shipbot/internal/logging"
)

// Inbound is one user message extracted from a webhook notification.
type Inbound struct {
	From        string
	MessageID   string
	Text        string
	ProfileName string
}

// MessageHandler is called for each incoming message.
type MessageHandler func(ctx context.Context, in Inbound)

type WebhookHandler struct {
	verifyToken string
	onMessage   MessageHandler
	logger      *logging.Logger
}

func NewWebhookHandler(verifyToken string, onMessage MessageHandler, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		onMessage:   onMessage,
		logger:      logger,
	}
}

// HandleVerify answers Meta's subscription challenge.
// Reference: https://developers.facebook.com/docs/whatsapp/cloud-api/get-started#webhook-verification
func (h *WebhookHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}

	h.logger.Warn("webhook: verification rejected", "mode", q.Get("hub.mode"))
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleIncoming processes webhook notifications. It always answers 200 so
// Meta does not redeliver payloads we cannot use.
func (h *WebhookHandler) HandleIncoming(w http.ResponseWriter, r *http.Request) {
	var payload WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("webhook: failed to decode payload", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Replies may outlive the request; keep values but drop cancellation.
	ctx := context.WithoutCancel(r.Context())

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, msg := range change.Value.Messages {
				text, ok := msg.Content()
				if !ok {
					h.logger.Debug("webhook: ignoring message", "type", msg.Type, "id", msg.ID)
					continue
				}
				h.onMessage(ctx, Inbound{
					From:        msg.From,
					MessageID:   msg.ID,
					Text:        text,
					ProfileName: names[msg.From],
				})
			}

			for _, st := range change.Value.Statuses {
				if st.Status == "failed" {
					h.logger.Warn("webhook: delivery failed",
						"recipient", st.RecipientID, "message", st.ID, "errors", st.Errors)
				}
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}
