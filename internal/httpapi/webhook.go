package httpapi

import (
	"io"
	"net/http"
)

// maxWebhookBody caps webhook payload reads. Provider events are small;
// anything past this is garbage.
const maxWebhookBody = 1 << 20

// handleWebhookChallenge answers the provider's endpoint verification
// handshake: the challenge query parameter is echoed back verbatim as
// plain text.
func (s *Server) handleWebhookChallenge(w http.ResponseWriter, r *http.Request) {
	challenge := r.URL.Query().Get("challenge")
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, challenge)
}

// handleWebhookEvent processes a provider event delivery. The response is
// always 200: malformed payloads, unmatched envelopes, and per-task
// failures are acknowledged and detailed in the body so the provider does
// not redeliver.
func (s *Server) handleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.log.Warn("webhook body read failed", "error", err)
		writeJSON(w, map[string]string{"outcome": "ignored", "reason": "unreadable body"})
		return
	}

	res := s.adapter.HandleEvent(r.Context(), body)
	writeJSON(w, res)
}
