package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/romanbabin/convogate/internal/api/apierrors"
	"github.com/romanbabin/convogate/internal/api/middleware"
	"github.com/romanbabin/convogate/internal/config"
	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/internal/escalation"
	"github.com/romanbabin/convogate/internal/health"
	"github.com/romanbabin/convogate/internal/patterns"
	"github.com/romanbabin/convogate/internal/rag"
	"github.com/romanbabin/convogate/internal/rules"
	"github.com/romanbabin/convogate/internal/stats"
	"github.com/romanbabin/convogate/internal/storage"
	"github.com/romanbabin/convogate/pkg/rulevalidator"
	"github.com/romanbabin/convogate/pkg/templatevalidator"
)

// healthChecker is satisfied by the moderation and completion HTTP
// providers' Healthy() accessor; narrowed here so AdminHandler doesn't
// depend on either package's concrete type.
type healthChecker interface {
	Healthy() bool
}

// AdminHandler serves every /api/admin/* route: health, sanitized config
// export, safety-rule/settings/knowledge-base CRUD, and rule test-drive
// endpoints. Every mutation invalidates the Config Store (or RAG corpus)
// so the next turn sees it without a restart.
type AdminHandler struct {
	repo       storage.Repository
	store      *rules.Store
	corpus     *rag.CorpusLoader
	retriever  *rag.Retriever
	matcher    *patterns.Matcher
	detector   *escalation.Detector
	cfgSvc     config.ConfigService
	moderation healthChecker
	completion healthChecker
	statsColl  *stats.Collector
	healthMon  *health.Monitor
	logger     *slog.Logger
}

func NewAdminHandler(
	repo storage.Repository,
	store *rules.Store,
	corpus *rag.CorpusLoader,
	retriever *rag.Retriever,
	matcher *patterns.Matcher,
	detector *escalation.Detector,
	cfgSvc config.ConfigService,
	moderation, completion healthChecker,
	logger *slog.Logger,
) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		repo: repo, store: store, corpus: corpus, retriever: retriever,
		matcher: matcher, detector: detector, cfgSvc: cfgSvc,
		moderation: moderation, completion: completion, logger: logger,
	}
}

// WithStatsAndHealth attaches the background stats collector and health
// monitor, so Stats can serve their cached snapshots. Both may be nil,
// in which case Stats omits the "stats" or "health" key for them.
func (h *AdminHandler) WithStatsAndHealth(statsColl *stats.Collector, healthMon *health.Monitor) *AdminHandler {
	h.statsColl = statsColl
	h.healthMon = healthMon
	return h
}

func (h *AdminHandler) audit(r *http.Request, action, resource, id string) {
	h.logger.Info("admin audit",
		"request_id", middleware.GetRequestID(r.Context()),
		"action", action, "resource", resource, "resource_id", id)
}

// Health godoc
// @Summary Liveness and readiness check
// @Description Reports storage, moderation provider, and completion provider health
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /admin/health [get]
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	healthy := true

	if err := h.repo.Health(ctx); err != nil {
		checks["storage"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		checks["storage"] = "healthy"
	}

	if h.moderation != nil && !h.moderation.Healthy() {
		checks["moderation"] = "circuit open"
		healthy = false
	} else {
		checks["moderation"] = "healthy"
	}

	if h.completion != nil && !h.completion.Healthy() {
		checks["completion"] = "circuit open"
		healthy = false
	} else {
		checks["completion"] = "healthy"
	}

	status := http.StatusOK
	statusStr := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		statusStr = "unhealthy"
	}
	writeJSON(w, status, map[string]interface{}{"status": statusStr, "checks": checks})
}

// Config godoc
// @Summary Export sanitized configuration
// @Description Returns the running configuration with secrets redacted
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /admin/config [get]
func (h *AdminHandler) Config(w http.ResponseWriter, r *http.Request) {
	resp, err := h.cfgSvc.GetConfig(r.Context(), config.GetConfigOptions{Format: "json", Sanitize: true})
	if err != nil {
		apierrors.WriteError(w, middleware.GetRequestID(r.Context()), apierrors.InternalError("failed to export configuration"))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stats godoc
// @Summary Admin stats and dependency health snapshot
// @Description Returns the cached conversation/moderation activity snapshot alongside the cached health of the moderation provider, completion provider, and storage backend. Both are refreshed by background workers, not on request.
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /admin/stats [get]
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{}
	if h.statsColl != nil {
		resp["stats"] = h.statsColl.Snapshot()
	}
	if h.healthMon != nil {
		resp["health"] = h.healthMon.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Safety rules ---

// ListRules godoc
// @Summary List safety rules
// @Description Returns every rule in the current snapshot
// @Tags Rules
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /admin/rules [get]
func (h *AdminHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.GetSnapshot(r.Context())
	if err != nil {
		apierrors.WriteError(w, middleware.GetRequestID(r.Context()), apierrors.FromDomainError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": snap.Rules})
}

// GetRule godoc
// @Summary Get a safety rule
// @Tags Rules
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "Rule ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} apierrors.ErrorResponse
// @Router /admin/rules/{id} [get]
func (h *AdminHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := routeVar(r, "id")
	snap, err := h.store.GetSnapshot(r.Context())
	if err != nil {
		apierrors.WriteError(w, middleware.GetRequestID(r.Context()), apierrors.FromDomainError(err))
		return
	}
	for _, rule := range snap.Rules {
		if rule.ID == id {
			writeJSON(w, http.StatusOK, map[string]interface{}{"rule": rule})
			return
		}
	}
	apierrors.WriteError(w, middleware.GetRequestID(r.Context()), apierrors.NotFoundError("rule"))
}

// UpsertRule godoc
// @Summary Create or update a safety rule
// @Description Validates and persists a rule, then invalidates the Config Store so the next turn picks it up
// @Tags Rules
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param id path string false "Rule ID (omit to create)"
// @Param rule body domain.SafetyRule true "Rule"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apierrors.ErrorResponse
// @Router /admin/rules/{id} [put]
func (h *AdminHandler) UpsertRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var rule domain.SafetyRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		apierrors.WriteError(w, requestID, apierrors.ValidationError("invalid request body"))
		return
	}
	if id := routeVar(r, "id"); id != "" {
		rule.ID = id
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	if errs := rulevalidator.ValidateRule(rule); len(errs) > 0 {
		apierrors.WriteError(w, requestID, apierrors.ValidationError(errs[0].Error()).WithDetails(errs))
		return
	}

	if err := h.repo.UpsertRule(ctx, rule); err != nil {
		apierrors.WriteError(w, requestID, apierrors.InternalError("failed to save rule"))
		return
	}
	h.store.Invalidate()
	h.audit(r, "upsert", "rule", rule.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"rule": rule})
}

// DeleteRule godoc
// @Summary Delete a safety rule
// @Tags Rules
// @Security ApiKeyAuth
// @Param id path string true "Rule ID"
// @Success 204
// @Router /admin/rules/{id} [delete]
func (h *AdminHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	id := routeVar(r, "id")

	if err := h.repo.DeleteRule(ctx, id); err != nil {
		apierrors.WriteError(w, requestID, apierrors.InternalError("failed to delete rule"))
		return
	}
	h.store.Invalidate()
	h.audit(r, "delete", "rule", id)
	w.WriteHeader(http.StatusNoContent)
}

type ruleTestRequest struct {
	Text string          `json:"text"`
	Rule *domain.SafetyRule `json:"rule,omitempty"`
}

// TestRule godoc
// @Summary Test-drive a draft rule
// @Description Evaluates one not-yet-persisted rule against sample text
// @Tags Rules
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param request body ruleTestRequest true "Draft rule and sample text"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apierrors.ErrorResponse
// @Router /admin/rules/test [post]
func (h *AdminHandler) TestRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req ruleTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Rule == nil {
		apierrors.WriteError(w, requestID, apierrors.ValidationError("invalid request body"))
		return
	}
	req.Rule.Enabled = true
	snap := &domain.Snapshot{Rules: []domain.SafetyRule{*req.Rule}, LoadedAt: time.Now()}
	matches := h.matcher.Match(ctx, req.Text, snap)
	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

// TestAllRules godoc
// @Summary Test sample text against the live rule set
// @Tags Rules
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param request body object true "Sample text"
// @Success 200 {object} map[string]interface{}
// @Router /admin/rules/test-all [post]
func (h *AdminHandler) TestAllRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, requestID, apierrors.ValidationError("invalid request body"))
		return
	}
	snap, err := h.store.GetSnapshot(ctx)
	if err != nil {
		apierrors.WriteError(w, requestID, apierrors.FromDomainError(err))
		return
	}
	matches := h.matcher.Match(ctx, req.Text, snap)
	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

// --- Moderation / escalation / system settings ---

// ListModerationSettings godoc
// @Summary List or get moderation settings
// @Tags Settings
// @Security ApiKeyAuth
// @Produce json
// @Param category path string false "Moderation category"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} apierrors.ErrorResponse
// @Router /admin/settings/moderation/{category} [get]
func (h *AdminHandler) ListModerationSettings(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.GetSnapshot(r.Context())
	if err != nil {
		apierrors.WriteError(w, middleware.GetRequestID(r.Context()), apierrors.FromDomainError(err))
		return
	}
	if category := routeVar(r, "category"); category != "" {
		setting, ok := snap.Moderation[category]
		if !ok {
			apierrors.WriteError(w, middleware.GetRequestID(r.Context()), apierrors.NotFoundError("moderation setting"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"setting": setting})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settings": snap.Moderation})
}

// PutModerationSetting godoc
// @Summary Create or update a moderation setting
// @Tags Settings
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param category path string false "Moderation category"
// @Param setting body domain.ModerationSetting true "Setting"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apierrors.ErrorResponse
// @Router /admin/settings/moderation/{category} [put]
func (h *AdminHandler) PutModerationSetting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var setting domain.ModerationSetting
	if err := json.NewDecoder(r.Body).Decode(&setting); err != nil {
		apierrors.WriteError(w, requestID, apierrors.ValidationError("invalid request body"))
		return
	}
	if category := routeVar(r, "category"); category != "" {
		setting.Category = category
	}
	if errs := rulevalidator.ValidateModerationSetting(setting); len(errs) > 0 {
		apierrors.WriteError(w, requestID, apierrors.ValidationError(errs[0].Error()).WithDetails(errs))
		return
	}
	if err := h.repo.UpsertModerationSetting(ctx, setting); err != nil {
		apierrors.WriteError(w, requestID, apierrors.InternalError("failed to save setting"))
		return
	}
	h.store.Invalidate()
	h.audit(r, "upsert", "moderation_setting", setting.Category)
	writeJSON(w, http.StatusOK, map[string]interface{}{"setting": setting})
}

// ListEscalationSettings godoc
// @Summary List or get escalation settings
// @Tags Settings
// @Security ApiKeyAuth
// @Produce json
// @Param category path string false "Escalation category"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} apierrors.ErrorResponse
// @Router /admin/settings/escalation/{category} [get]
func (h *AdminHandler) ListEscalationSettings(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.GetSnapshot(r.Context())
	if err != nil {
		apierrors.WriteError(w, middleware.GetRequestID(r.Context()), apierrors.FromDomainError(err))
		return
	}
	if category := routeVar(r, "category"); category != "" {
		for _, s := range snap.Escalation {
			if s.Category == category {
				writeJSON(w, http.StatusOK, map[string]interface{}{"setting": s})
				return
			}
		}
		apierrors.WriteError(w, middleware.GetRequestID(r.Context()), apierrors.NotFoundError("escalation setting"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settings": snap.Escalation})
}

// PutEscalationSetting godoc
// @Summary Create or update an escalation setting
// @Description Validates the response template before persisting
// @Tags Settings
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param category path string false "Escalation category"
// @Param setting body domain.EscalationSetting true "Setting"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apierrors.ErrorResponse
// @Router /admin/settings/escalation/{category} [put]
func (h *AdminHandler) PutEscalationSetting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var setting domain.EscalationSetting
	if err := json.NewDecoder(r.Body).Decode(&setting); err != nil {
		apierrors.WriteError(w, requestID, apierrors.ValidationError("invalid request body"))
		return
	}
	if category := routeVar(r, "category"); category != "" {
		setting.Category = category
	}
	if errs := rulevalidator.ValidateEscalationSetting(setting); len(errs) > 0 {
		apierrors.WriteError(w, requestID, apierrors.ValidationError(errs[0].Error()).WithDetails(errs))
		return
	}
	if err := templatevalidator.Validate(setting.ResponseTemplate); err != nil {
		apierrors.WriteError(w, requestID, apierrors.ValidationError(err.Error()))
		return
	}
	if err := h.repo.UpsertEscalationSetting(ctx, setting); err != nil {
		apierrors.WriteError(w, requestID, apierrors.InternalError("failed to save setting"))
		return
	}
	h.store.Invalidate()
	h.audit(r, "upsert", "escalation_setting", setting.Category)
	writeJSON(w, http.StatusOK, map[string]interface{}{"setting": setting})
}

type escalationTestRequest struct {
	Text string `json:"text"`
}

// TestEscalationSettings godoc
// @Summary Test sample text against the live escalation settings
// @Tags Settings
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param request body escalationTestRequest true "Sample text"
// @Success 200 {object} map[string]interface{}
// @Router /admin/settings/escalation/test [post]
func (h *AdminHandler) TestEscalationSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req escalationTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, requestID, apierrors.ValidationError("invalid request body"))
		return
	}
	snap, err := h.store.GetSnapshot(ctx)
	if err != nil {
		apierrors.WriteError(w, requestID, apierrors.FromDomainError(err))
		return
	}
	result := h.detector.Detect(req.Text, snap)
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

// ListSystemSettings godoc
// @Summary List or get system settings
// @Tags Settings
// @Security ApiKeyAuth
// @Produce json
// @Param key path string false "Setting key"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} apierrors.ErrorResponse
// @Router /admin/settings/system/{key} [get]
func (h *AdminHandler) ListSystemSettings(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.GetSnapshot(r.Context())
	if err != nil {
		apierrors.WriteError(w, middleware.GetRequestID(r.Context()), apierrors.FromDomainError(err))
		return
	}
	if key := routeVar(r, "key"); key != "" {
		setting, ok := snap.System[key]
		if !ok {
			apierrors.WriteError(w, middleware.GetRequestID(r.Context()), apierrors.NotFoundError("system setting"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"setting": setting})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settings": snap.System})
}

// PutSystemSetting godoc
// @Summary Create or update a system setting
// @Tags Settings
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param key path string false "Setting key"
// @Param setting body domain.SystemSetting true "Setting"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apierrors.ErrorResponse
// @Router /admin/settings/system/{key} [put]
func (h *AdminHandler) PutSystemSetting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var setting domain.SystemSetting
	if err := json.NewDecoder(r.Body).Decode(&setting); err != nil {
		apierrors.WriteError(w, requestID, apierrors.ValidationError("invalid request body"))
		return
	}
	if key := routeVar(r, "key"); key != "" {
		setting.Key = key
	}
	if !json.Valid(setting.Value) {
		apierrors.WriteError(w, requestID, apierrors.ValidationError("value must be valid JSON"))
		return
	}
	if err := h.repo.UpsertSystemSetting(ctx, setting); err != nil {
		apierrors.WriteError(w, requestID, apierrors.InternalError("failed to save setting"))
		return
	}
	h.store.Invalidate()
	h.audit(r, "upsert", "system_setting", setting.Key)
	writeJSON(w, http.StatusOK, map[string]interface{}{"setting": setting})
}

// --- Escalations / moderation audit trail ---

// ListEscalations godoc
// @Summary List escalated conversations
// @Description Returns every conversation across every session that has been escalated, most recently updated first
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Param limit query int false "Maximum results (default: 100)"
// @Success 200 {object} map[string]interface{}
// @Router /admin/escalations [get]
func (h *AdminHandler) ListEscalations(w http.ResponseWriter, r *http.Request) {
	limit := intQueryParam(r, "limit", 100)
	convs, err := h.repo.ListEscalatedConversations(r.Context(), limit)
	if err != nil {
		apierrors.WriteError(w, middleware.GetRequestID(r.Context()), apierrors.InternalError("failed to list escalated conversations"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"escalations": convs})
}

// ListModerationLogs godoc
// @Summary List moderation audit log entries
// @Description Returns moderation decisions across every session, most recent first
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Param limit query int false "Maximum results (default: 100)"
// @Success 200 {object} map[string]interface{}
// @Router /admin/moderation-logs [get]
func (h *AdminHandler) ListModerationLogs(w http.ResponseWriter, r *http.Request) {
	limit := intQueryParam(r, "limit", 100)
	logs, err := h.repo.ListModerationLogs(r.Context(), limit)
	if err != nil {
		apierrors.WriteError(w, middleware.GetRequestID(r.Context()), apierrors.InternalError("failed to list moderation logs"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"moderationLogs": logs})
}

func intQueryParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// --- Knowledge base ---

// ListKnowledgeDocs godoc
// @Summary List knowledge base documents
// @Tags Knowledge Base
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /admin/knowledge-base [get]
func (h *AdminHandler) ListKnowledgeDocs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": h.corpus.Current().Docs})
}

// GetKnowledgeDoc godoc
// @Summary Get a knowledge base document
// @Tags Knowledge Base
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} apierrors.ErrorResponse
// @Router /admin/knowledge-base/{id} [get]
func (h *AdminHandler) GetKnowledgeDoc(w http.ResponseWriter, r *http.Request) {
	id := routeVar(r, "id")
	for _, doc := range h.corpus.Current().Docs {
		if doc.ID == id {
			writeJSON(w, http.StatusOK, map[string]interface{}{"document": doc})
			return
		}
	}
	apierrors.WriteError(w, middleware.GetRequestID(r.Context()), apierrors.NotFoundError("knowledge document"))
}

// UpsertKnowledgeDoc godoc
// @Summary Create or update a knowledge base document
// @Description Persists the document then reloads the RAG corpus
// @Tags Knowledge Base
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param id path string false "Document ID (omit to create)"
// @Param document body domain.KnowledgeDoc true "Document"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apierrors.ErrorResponse
// @Router /admin/knowledge-base/{id} [put]
func (h *AdminHandler) UpsertKnowledgeDoc(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var doc domain.KnowledgeDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		apierrors.WriteError(w, requestID, apierrors.ValidationError("invalid request body"))
		return
	}
	if id := routeVar(r, "id"); id != "" {
		doc.ID = id
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.UpdatedAt = time.Now()

	if err := h.repo.UpsertKnowledgeDoc(ctx, doc); err != nil {
		apierrors.WriteError(w, requestID, apierrors.InternalError("failed to save document"))
		return
	}
	if err := h.corpus.Invalidate(ctx); err != nil {
		h.logger.Warn("corpus reload after upsert failed", "error", err)
	}
	h.audit(r, "upsert", "knowledge_doc", doc.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"document": doc})
}

// DeleteKnowledgeDoc godoc
// @Summary Delete a knowledge base document
// @Description Deletes the document then reloads the RAG corpus
// @Tags Knowledge Base
// @Security ApiKeyAuth
// @Param id path string true "Document ID"
// @Success 204
// @Router /admin/knowledge-base/{id} [delete]
func (h *AdminHandler) DeleteKnowledgeDoc(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	id := routeVar(r, "id")

	if err := h.repo.DeleteKnowledgeDoc(ctx, id); err != nil {
		apierrors.WriteError(w, requestID, apierrors.InternalError("failed to delete document"))
		return
	}
	if err := h.corpus.Invalidate(ctx); err != nil {
		h.logger.Warn("corpus reload after delete failed", "error", err)
	}
	h.audit(r, "delete", "knowledge_doc", id)
	w.WriteHeader(http.StatusNoContent)
}

// SearchKnowledgeBase godoc
// @Summary Dry-run a retrieval query against the live corpus
// @Description Exercises the RAG Retriever directly, for admins tuning keyword/phrase coverage
// @Tags Knowledge Base
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param request body object true "Query text"
// @Success 200 {object} map[string]interface{}
// @Router /admin/knowledge-base/search [post]
func (h *AdminHandler) SearchKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, requestID, apierrors.ValidationError("invalid request body"))
		return
	}
	result := h.retriever.Retrieve(ctx, req.Query, h.corpus.Current().Docs)
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

// BulkImportKnowledgeBase godoc
// @Summary Bulk import knowledge base documents
// @Description Replaces the corpus atomically; the reload never serves a half-replaced corpus
// @Tags Knowledge Base
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param request body object true "Documents to import"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apierrors.ErrorResponse
// @Router /admin/knowledge-base/bulk-import [post]
func (h *AdminHandler) BulkImportKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req struct {
		Documents []domain.KnowledgeDoc `json:"documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, requestID, apierrors.ValidationError("invalid request body"))
		return
	}
	now := time.Now()
	for i := range req.Documents {
		if req.Documents[i].ID == "" {
			req.Documents[i].ID = uuid.New().String()
		}
		req.Documents[i].UpdatedAt = now
	}
	if err := h.repo.BulkImportKnowledgeDocs(ctx, req.Documents); err != nil {
		apierrors.WriteError(w, requestID, apierrors.InternalError("bulk import failed"))
		return
	}
	if err := h.corpus.Invalidate(ctx); err != nil {
		h.logger.Warn("corpus reload after bulk import failed", "error", err)
	}
	h.audit(r, "bulk_import", "knowledge_doc", "")
	writeJSON(w, http.StatusOK, map[string]interface{}{"imported": len(req.Documents)})
}

// BulkDeleteKnowledgeBase godoc
// @Summary Bulk delete knowledge base documents
// @Tags Knowledge Base
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param request body object true "Document IDs to delete"
// @Success 200 {object} map[string]interface{}
// @Router /admin/knowledge-base/bulk-delete [post]
func (h *AdminHandler) BulkDeleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, requestID, apierrors.ValidationError("invalid request body"))
		return
	}
	for _, id := range req.IDs {
		if err := h.repo.DeleteKnowledgeDoc(ctx, id); err != nil {
			h.logger.Warn("bulk delete: failed to delete document", "doc_id", id, "error", err)
		}
	}
	if err := h.corpus.Invalidate(ctx); err != nil {
		h.logger.Warn("corpus reload after bulk delete failed", "error", err)
	}
	h.audit(r, "bulk_delete", "knowledge_doc", "")
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": len(req.IDs)})
}
