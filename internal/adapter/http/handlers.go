package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	otelspan "github.com/campuskit/tutorcore/internal/adapter/otel"
	"github.com/campuskit/tutorcore/internal/domain/chat"
	"github.com/campuskit/tutorcore/internal/domain/mode"
	"github.com/campuskit/tutorcore/internal/service"
)

// Handlers bundles the HTTP handlers over the chat service.
type Handlers struct {
	chat *service.ChatService
}

// NewHandlers creates the handler set.
func NewHandlers(chatSvc *service.ChatService) *Handlers {
	return &Handlers{chat: chatSvc}
}

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	Mode           string `json:"mode"`
	Stream         bool   `json:"stream,omitempty"`
}

// SendMessage runs one chat turn. With stream=true the response is delivered
// as Server-Sent Events; otherwise a single JSON body.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	body, ok := readJSON[sendMessageRequest](w, r)
	if !ok {
		return
	}

	req := chat.TurnRequest{
		ConversationID: body.ConversationID,
		Owner:          owner,
		Message:        body.Message,
		Mode:           body.Mode,
		Stream:         body.Stream,
	}

	ctx, span := otelspan.StartTurnSpan(r.Context(), body.ConversationID, body.Mode, body.Stream)
	defer span.End()

	if body.Stream {
		h.streamTurn(w, r.WithContext(ctx), req)
		return
	}

	resp, err := h.chat.Send(ctx, req)
	if err != nil {
		span.RecordError(err)
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamFragment is the SSE wire form of a fragment.
type streamFragment struct {
	ConversationID string `json:"conversation_id"`
	Delta          string `json:"delta,omitempty"`
	Done           bool   `json:"done,omitempty"`
	Error          string `json:"error,omitempty"`
	Cause          string `json:"cause,omitempty"`
}

func (h *Handlers) streamTurn(w http.ResponseWriter, r *http.Request, req chat.TurnRequest) {
	frags, err := h.chat.SendStream(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for f := range frags {
		sf := streamFragment{
			ConversationID: f.ConversationID,
			Delta:          f.Delta,
			Done:           f.Done,
		}
		if f.Err != nil {
			sf.Error = "generation failed"
			sf.Cause = causeString(f.Err)
		}
		data, err := json.Marshal(sf)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// History returns the ordered messages of a conversation.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	msgs, err := h.chat.History(r.Context(), urlParam(r, "id"), owner)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// ClearHistory truncates a conversation's messages and session state.
func (h *Handlers) ClearHistory(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	if err := h.chat.Clear(r.Context(), urlParam(r, "id"), owner); err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListModes returns all registered modes.
func (h *Handlers) ListModes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"modes": h.chat.Modes().List()})
}

// RegisterMode adds a custom mode.
func (h *Handlers) RegisterMode(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[mode.Mode](w, r)
	if !ok {
		return
	}
	if err := h.chat.Modes().Register(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, body)
}

// ListBackends reports the registered backends and which one is active.
func (h *Handlers) ListBackends(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   h.chat.ActiveBackend(),
		"backends": h.chat.Backends(),
	})
}

type switchBackendRequest struct {
	Name string `json:"name"`
}

// SwitchBackend changes the backend serving new turns.
func (h *Handlers) SwitchBackend(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[switchBackendRequest](w, r)
	if !ok {
		return
	}
	if err := h.chat.SwitchBackend(body.Name); err != nil {
		writeDomainError(w, err, "backend not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active": h.chat.ActiveBackend()})
}

// Metrics returns the orchestration counters snapshot.
func (h *Handlers) Metrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.chat.Metrics())
}

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
