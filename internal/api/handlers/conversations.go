// Package handlers implements the HTTP handlers for the gateway's
// conversation, message, and admin surface.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/romanbabin/convogate/internal/api/apierrors"
	"github.com/romanbabin/convogate/internal/api/middleware"
	"github.com/romanbabin/convogate/internal/convcache"
	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/internal/storage"
)

// ConversationsHandler serves /api/conversations*.
type ConversationsHandler struct {
	repo  storage.Repository
	cache *convcache.Cache
}

func NewConversationsHandler(repo storage.Repository) *ConversationsHandler {
	return &ConversationsHandler{repo: repo}
}

// WithCache wires the conversation-list cache fronting List. Optional: a nil
// cache (the default) means List always reads through to the repository.
func (h *ConversationsHandler) WithCache(c *convcache.Cache) *ConversationsHandler {
	h.cache = c
	return h
}

type conversationView struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Escalated bool      `json:"escalated"`
}

func toConversationView(c domain.Conversation) conversationView {
	return conversationView{
		ID: c.ID, SessionID: c.SessionID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt, Escalated: c.Escalated,
	}
}

func toCacheViews(views []conversationView) []convcache.ConversationView {
	out := make([]convcache.ConversationView, len(views))
	for i, v := range views {
		out[i] = convcache.ConversationView{
			ID: v.ID, SessionID: v.SessionID, CreatedAt: v.CreatedAt, UpdatedAt: v.UpdatedAt, Escalated: v.Escalated,
		}
	}
	return out
}

func toConversationViews(cached []convcache.ConversationView) []conversationView {
	out := make([]conversationView, len(cached))
	for i, v := range cached {
		out[i] = conversationView{
			ID: v.ID, SessionID: v.SessionID, CreatedAt: v.CreatedAt, UpdatedAt: v.UpdatedAt, Escalated: v.Escalated,
		}
	}
	return out
}

type messageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Flagged        bool      `json:"flagged"`
}

func toMessageView(m domain.Message) messageView {
	return messageView{
		ID: m.ID, ConversationID: m.ConversationID, Role: string(m.Role),
		Content: m.Content, CreatedAt: m.CreatedAt, Flagged: m.Flagged,
	}
}

// Create godoc
// @Summary Start a new conversation
// @Description Creates a conversation scoped to the caller's session, creating the session itself on first use
// @Tags Conversations
// @Produce json
// @Param X-Session-Id header string true "Caller session identifier"
// @Success 201 {object} map[string]interface{}
// @Failure 500 {object} apierrors.ErrorResponse
// @Router /conversations [post]
func (h *ConversationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)
	requestID := middleware.GetRequestID(ctx)

	if _, err := h.repo.GetOrCreateSession(ctx, sessionID); err != nil {
		apierrors.WriteError(w, requestID, apierrors.InternalError("failed to resolve session"))
		return
	}

	now := time.Now()
	conv := domain.Conversation{ID: uuid.New().String(), SessionID: sessionID, CreatedAt: now, UpdatedAt: now}
	if err := h.repo.CreateConversation(ctx, conv); err != nil {
		apierrors.WriteError(w, requestID, apierrors.InternalError("failed to create conversation"))
		return
	}
	if h.cache != nil {
		h.cache.InvalidateSession(ctx, sessionID)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"conversation": toConversationView(conv)})
}

// Get godoc
// @Summary Get a conversation
// @Description Returns a conversation and its full message history, scoped to the caller's session
// @Tags Conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} apierrors.ErrorResponse
// @Router /conversations/{id} [get]
func (h *ConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)
	requestID := middleware.GetRequestID(ctx)
	id := routeVar(r, "id")

	conv, err := h.repo.GetConversation(ctx, id)
	if err != nil || conv.SessionID != sessionID {
		apierrors.WriteError(w, requestID, apierrors.NotFoundError("conversation"))
		return
	}

	msgs, err := h.repo.ListMessages(ctx, id)
	if err != nil {
		apierrors.WriteError(w, requestID, apierrors.InternalError("failed to load messages"))
		return
	}
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, toMessageView(m))
	}

	resp := toConversationView(conv)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": map[string]interface{}{
			"id": resp.ID, "sessionId": resp.SessionID, "createdAt": resp.CreatedAt,
			"updatedAt": resp.UpdatedAt, "escalated": resp.Escalated, "messages": views,
		},
	})
}

// List godoc
// @Summary List conversations
// @Description Returns a paginated list of the caller's conversations, oldest first
// @Tags Conversations
// @Produce json
// @Param page query int false "Page number (default: 1)"
// @Param limit query int false "Results per page, 1-100 (default: 20)"
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} apierrors.ErrorResponse
// @Router /conversations [get]
func (h *ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.GetSessionID(ctx)
	requestID := middleware.GetRequestID(ctx)

	page, limit := pagination(r)

	if h.cache != nil {
		if cached, ok := h.cache.Get(ctx, sessionID, page, limit); ok {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"conversations": toConversationViews(cached.Conversations), "page": page, "limit": limit, "total": cached.Total,
			})
			return
		}
	}

	convs, err := h.repo.ListConversationsBySession(ctx, sessionID)
	if err != nil {
		apierrors.WriteError(w, requestID, apierrors.InternalError("failed to list conversations"))
		return
	}

	start := (page - 1) * limit
	if start > len(convs) {
		start = len(convs)
	}
	end := start + limit
	if end > len(convs) {
		end = len(convs)
	}

	views := make([]conversationView, 0, end-start)
	for _, c := range convs[start:end] {
		views = append(views, toConversationView(c))
	}

	if h.cache != nil {
		h.cache.Set(ctx, sessionID, page, limit, convcache.Page{
			Conversations: toCacheViews(views), Total: len(convs),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": views, "page": page, "limit": limit, "total": len(convs),
	})
}

func pagination(r *http.Request) (page, limit int) {
	page, limit = 1, 20
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	return page, limit
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
