package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"call-transcript-relay/internal/models"
	"call-transcript-relay/internal/scheduler"
	"call-transcript-relay/internal/service/normalize"
	"call-transcript-relay/internal/service/relay"
)

const maxWebhookBody = 4 << 20

type handlers struct {
	relay        *relay.Relay
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	logger       zerolog.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type webhookResponse struct {
	Success bool `json:"success"`
}

type injectRequest struct {
	CallID  string `json:"callId"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type injectResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Entry   models.TranscriptEntry `json:"entry"`
}

type transcriptResponse struct {
	CallID  string                   `json:"callId"`
	Entries []models.TranscriptEntry `json:"entries"`
}

type tasksResponse struct {
	Tasks []scheduler.TaskInfo `json:"tasks"`
	Stats relay.Stats          `json:"stats"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := errorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// webhook accepts a provider event. Any JSON payload with a call id is
// acknowledged, whether or not it carried transcript content.
func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read body", err)
		return
	}

	res, err := h.relay.HandleWebhook(body)
	switch {
	case errors.Is(err, normalize.ErrMissingCallID):
		writeError(w, http.StatusBadRequest, "Missing call_id", nil)
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "Invalid payload", err)
		return
	}

	if res.Kind == normalize.KindNone && res.Reason != "" {
		h.logger.Debug().Str("callId", res.CallID).Str("reason", res.Reason).Msg("Webhook acknowledged without content")
	}
	writeJSON(w, http.StatusOK, webhookResponse{Success: true})
}

// inject broadcasts a synthetic entry to a call's subscribers.
func (h *handlers) inject(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payload", err)
		return
	}
	if strings.TrimSpace(req.CallID) == "" || strings.TrimSpace(req.Text) == "" || req.Speaker == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields: callId, text, speaker", nil)
		return
	}

	e, err := h.relay.Inject(req.CallID, req.Speaker, req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry", err)
		return
	}
	writeJSON(w, http.StatusOK, injectResponse{
		Success: true,
		Message: "Test transcript broadcasted",
		Entry:   e,
	})
}

func (h *handlers) transcript(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	entries, ok := h.relay.Transcript(callID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown call", nil)
		return
	}
	if entries == nil {
		entries = []models.TranscriptEntry{}
	}
	writeJSON(w, http.StatusOK, transcriptResponse{CallID: callID, Entries: entries})
}

func (h *handlers) tasks(w http.ResponseWriter, _ *http.Request) {
	tasks := h.relay.Tasks()
	if tasks == nil {
		tasks = []scheduler.TaskInfo{}
	}
	writeJSON(w, http.StatusOK, tasksResponse{Tasks: tasks, Stats: h.relay.Stats()})
}

// streamSSE serves a call's transcript as server-sent events until the client
// disconnects.
func (h *handlers) streamSSE(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(r.URL.Query().Get("callId"))
	if callID == "" {
		writeError(w, http.StatusBadRequest, "Missing callId parameter", nil)
		return
	}

	t := newSSETransport(w, h.writeTimeout)
	if err := t.open(); err != nil {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", err)
		return
	}

	s, err := h.relay.Open(callID)
	if err != nil {
		_ = t.Write(r.Context(), models.StreamMessage{Type: models.MessageError, CallID: callID, Message: err.Error()})
		return
	}
	if err := s.Run(r.Context(), t); err != nil {
		h.logger.Debug().Err(err).Str("callId", callID).Str("sessionId", s.ID()).Msg("SSE session ended with error")
	}
}

// streamWS serves the same session over a WebSocket connection.
func (h *handlers) streamWS(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(r.URL.Query().Get("callId"))
	if callID == "" {
		writeError(w, http.StatusBadRequest, "Missing callId parameter", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Warn().Err(err).Str("callId", callID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	t := &wsTransport{conn: conn, writeTimeout: h.writeTimeout}
	s, err := h.relay.Open(callID)
	if err != nil {
		_ = t.Write(r.Context(), models.StreamMessage{Type: models.MessageError, CallID: callID, Message: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go readPump(conn, cancel)

	if err := s.Run(ctx, t); err != nil {
		h.logger.Debug().Err(err).Str("callId", callID).Str("sessionId", s.ID()).Msg("WebSocket session ended with error")
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}
