package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/romanbabin/convogate/internal/api/apierrors"
	"github.com/romanbabin/convogate/internal/api/middleware"
	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/internal/orchestrator"
)

// MessagesHandler serves /api/messages and /api/messages/stream/{conversationId}.
type MessagesHandler struct {
	orch *orchestrator.Orchestrator
}

func NewMessagesHandler(orch *orchestrator.Orchestrator) *MessagesHandler {
	return &MessagesHandler{orch: orch}
}

type createMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// Create godoc
// @Summary Send a message (buffered)
// @Description Runs one turn through the safety pipeline and returns the final outcome in a single response; use the stream endpoint for incremental delivery
// @Tags Messages
// @Accept json
// @Produce json
// @Param request body createMessageRequest true "Message to send"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apierrors.ErrorResponse
// @Failure 429 {object} apierrors.ErrorResponse
// @Router /messages [post]
func (h *MessagesHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	sessionID := middleware.GetSessionID(ctx)

	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, requestID, apierrors.ValidationError("invalid request body"))
		return
	}

	events, err := h.orch.ProcessTurn(ctx, sessionID, req.ConversationID, req.Content)
	if err != nil {
		apierrors.WriteError(w, requestID, apierrors.FromDomainError(err))
		return
	}

	resp := map[string]interface{}{}
	var userMsg, assistantMsg *domain.Message
	for ev := range events {
		switch ev.Kind {
		case orchestrator.EventDone:
			if ev.Message != nil {
				if ev.Message.Role == domain.RoleUser {
					userMsg = ev.Message
				} else {
					assistantMsg = ev.Message
				}
			}
			if ev.Decision != nil {
				switch ev.Decision.Kind {
				case domain.DecisionBlock:
					resp["blocked"] = true
					resp["blockReason"] = ev.Decision.BlockCategory
				case domain.DecisionEscalate:
					resp["escalated"] = true
				}
			}
		case orchestrator.EventError:
			apierrors.WriteError(w, requestID, apierrors.FromDomainError(ev.Err))
			return
		}
	}
	if userMsg != nil {
		resp["userMessage"] = toMessageView(*userMsg)
	}
	if assistantMsg != nil {
		resp["assistantMessage"] = toMessageView(*assistantMsg)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stream godoc
// @Summary Send a message (streamed)
// @Description Runs one turn through the safety pipeline and streams the outcome as Server-Sent Events; always ends with exactly one "done" or "error" frame
// @Tags Messages
// @Produce text/event-stream
// @Param conversationId path string true "Conversation ID"
// @Param message query string true "Message text"
// @Success 200 {string} string "text/event-stream"
// @Failure 400 {object} apierrors.ErrorResponse
// @Router /messages/stream/{conversationId} [get]
func (h *MessagesHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	sessionID := middleware.GetSessionID(ctx)
	conversationID := routeVar(r, "conversationId")
	message := r.URL.Query().Get("message")

	flusher, ok := w.(http.Flusher)
	if !ok {
		apierrors.WriteError(w, requestID, apierrors.InternalError("streaming unsupported"))
		return
	}

	events, err := h.orch.ProcessTurn(ctx, sessionID, conversationID, message)
	if err != nil {
		apierrors.WriteError(w, requestID, apierrors.FromDomainError(err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		switch ev.Kind {
		case orchestrator.EventContent:
			writeSSE(w, flusher, "content", map[string]interface{}{"content": ev.Content})
		case orchestrator.EventDone:
			frame := map[string]interface{}{}
			if ev.Message != nil {
				frame["assistantMessage"] = toMessageView(*ev.Message)
			}
			if ev.Decision != nil && ev.Decision.Kind == domain.DecisionEscalate {
				frame["escalated"] = true
			}
			writeSSE(w, flusher, "done", frame)
			return
		case orchestrator.EventError:
			apiErr := apierrors.FromDomainError(ev.Err)
			writeSSE(w, flusher, "error", map[string]interface{}{"message": apiErr.Message, "code": apiErr.Code})
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, kind string, fields map[string]interface{}) {
	payload := map[string]interface{}{"type": kind}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
