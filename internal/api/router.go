package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/romanbabin/convogate/internal/api/handlers"
	"github.com/romanbabin/convogate/internal/api/middleware"
	pkgmiddleware "github.com/romanbabin/convogate/pkg/middleware"
)

// @title Convogate Gateway API
// @version 1.0
// @description HTTP surface for a conversational assistant gateway: conversations, messages, and the admin safety-rule/settings/knowledge-base console.
// @BasePath /api
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-Admin-Key

// RouterConfig holds every dependency and toggle NewRouter needs to wire
// the HTTP surface described for the conversational gateway.
type RouterConfig struct {
	EnableRateLimit   bool
	EnableCompression bool
	EnableCORS        bool
	EnableMetrics     bool

	AdminKey string

	// MaxRequestBodyBytes caps every inbound request body, admin and chat
	// alike. Zero falls back to DefaultRouterConfig's 1MiB.
	MaxRequestBodyBytes int64

	RateLimitPerMinute int
	RateLimitBurst     int

	CORSConfig middleware.CORSConfig

	Logger *slog.Logger

	Conversations *handlers.ConversationsHandler
	Messages      *handlers.MessagesHandler
	Admin         *handlers.AdminHandler

	// DashboardWS handles the admin live dashboard's WebSocket upgrade.
	// Optional: left nil, /api/admin/ws/dashboard is not registered.
	DashboardWS http.HandlerFunc
}

// DefaultRouterConfig returns sane defaults; callers still must set
// Conversations, Messages, Admin, and AdminKey.
func DefaultRouterConfig(logger *slog.Logger) RouterConfig {
	return RouterConfig{
		EnableRateLimit:    true,
		EnableCompression:  true,
		EnableCORS:         true,
		EnableMetrics:      true,
		RateLimitPerMinute:  60,
		RateLimitBurst:      20,
		MaxRequestBodyBytes: 1 << 20, // 1MiB
		CORSConfig:          middleware.DefaultCORSConfig(),
		Logger:              logger,
	}
}

// NewRouter builds the gateway's mux.Router.
//
// The middleware stack is applied in order:
//  1. RequestID (always)
//  2. Logging (always)
//  3. Security headers (always)
//  4. Request size limit (always)
//  5. Metrics (if enabled)
//  6. CORS (if enabled)
//  7. Compression (if enabled)
//  8. Route-specific: Session, AdminAuth, RateLimit, Validation
func NewRouter(config RouterConfig) *mux.Router {
	router := mux.NewRouter()

	maxBodyBytes := config.MaxRequestBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}

	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.LoggingMiddleware(config.Logger))
	router.Use(pkgmiddleware.SecurityHeaders(pkgmiddleware.DefaultSecurityHeadersConfig()))
	router.Use(middleware.NewRequestSizeLimiter(maxBodyBytes, config.Logger).Middleware)

	if config.EnableMetrics {
		router.Use(middleware.MetricsMiddleware)
	}
	if config.EnableCORS {
		router.Use(middleware.CORSMiddleware(config.CORSConfig))
	}
	if config.EnableCompression {
		router.Use(middleware.CompressionMiddleware)
	}

	setupConversationRoutes(router, config)
	setupAdminRoutes(router, config)
	setupDocumentationRoutes(router)

	return router
}

// setupDocumentationRoutes mounts the generated Swagger UI at /docs. Left
// outside the admin auth subrouter since the spec it serves only documents
// shapes already public in this file.
func setupDocumentationRoutes(router *mux.Router) {
	router.PathPrefix("/docs").Handler(httpSwagger.WrapHandler)
}

// setupConversationRoutes wires /api/conversations and /api/messages,
// both scoped to the caller's X-Session-Id.
func setupConversationRoutes(router *mux.Router, config RouterConfig) {
	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.SessionMiddleware)
	api.Use(middleware.ValidationMiddleware)

	conversations := api.PathPrefix("/conversations").Subrouter()
	conversations.HandleFunc("", config.Conversations.Create).Methods(http.MethodPost)
	conversations.HandleFunc("", config.Conversations.List).Methods(http.MethodGet)
	conversations.HandleFunc("/{id}", config.Conversations.Get).Methods(http.MethodGet)

	messages := api.PathPrefix("/messages").Subrouter()
	messages.HandleFunc("", config.Messages.Create).Methods(http.MethodPost)
	messages.HandleFunc("/stream/{conversationId}", config.Messages.Stream).Methods(http.MethodGet)
}

// setupAdminRoutes wires /api/admin/*, gated on X-Admin-Key and subject to
// its own IP-keyed rate limit independent of the per-session chat limiter.
func setupAdminRoutes(router *mux.Router, config RouterConfig) {
	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.Use(middleware.AdminAuthMiddleware(config.AdminKey))
	if config.EnableRateLimit {
		limiter := middleware.NewIPRateLimiter(config.RateLimitPerMinute, config.RateLimitBurst)
		admin.Use(middleware.RateLimitMiddleware(limiter))
	}

	admin.HandleFunc("/health", config.Admin.Health).Methods(http.MethodGet)
	admin.HandleFunc("/config", config.Admin.Config).Methods(http.MethodGet)
	admin.HandleFunc("/escalations", config.Admin.ListEscalations).Methods(http.MethodGet)
	admin.HandleFunc("/moderation-logs", config.Admin.ListModerationLogs).Methods(http.MethodGet)
	admin.HandleFunc("/stats", config.Admin.Stats).Methods(http.MethodGet)
	if config.DashboardWS != nil {
		admin.HandleFunc("/ws/dashboard", config.DashboardWS).Methods(http.MethodGet)
	}

	rulesMutating := admin.PathPrefix("/rules").Subrouter()
	rulesMutating.Use(middleware.ValidationMiddleware)
	admin.HandleFunc("/rules", config.Admin.ListRules).Methods(http.MethodGet)
	admin.HandleFunc("/rules/{id}", config.Admin.GetRule).Methods(http.MethodGet)
	rulesMutating.HandleFunc("", config.Admin.UpsertRule).Methods(http.MethodPost)
	rulesMutating.HandleFunc("/{id}", config.Admin.UpsertRule).Methods(http.MethodPut)
	rulesMutating.HandleFunc("/{id}", config.Admin.DeleteRule).Methods(http.MethodDelete)
	rulesMutating.HandleFunc("/test", config.Admin.TestRule).Methods(http.MethodPost)
	rulesMutating.HandleFunc("/test-all", config.Admin.TestAllRules).Methods(http.MethodPost)

	settingsMutating := admin.PathPrefix("/settings").Subrouter()
	settingsMutating.Use(middleware.ValidationMiddleware)

	admin.HandleFunc("/settings/moderation", config.Admin.ListModerationSettings).Methods(http.MethodGet)
	admin.HandleFunc("/settings/moderation/{category}", config.Admin.ListModerationSettings).Methods(http.MethodGet)
	settingsMutating.HandleFunc("/moderation", config.Admin.PutModerationSetting).Methods(http.MethodPut)
	settingsMutating.HandleFunc("/moderation/{category}", config.Admin.PutModerationSetting).Methods(http.MethodPut)

	admin.HandleFunc("/settings/escalation", config.Admin.ListEscalationSettings).Methods(http.MethodGet)
	admin.HandleFunc("/settings/escalation/{category}", config.Admin.ListEscalationSettings).Methods(http.MethodGet)
	settingsMutating.HandleFunc("/escalation", config.Admin.PutEscalationSetting).Methods(http.MethodPut)
	settingsMutating.HandleFunc("/escalation/{category}", config.Admin.PutEscalationSetting).Methods(http.MethodPut)
	settingsMutating.HandleFunc("/escalation/test", config.Admin.TestEscalationSettings).Methods(http.MethodPost)

	admin.HandleFunc("/settings/system", config.Admin.ListSystemSettings).Methods(http.MethodGet)
	admin.HandleFunc("/settings/system/{key}", config.Admin.ListSystemSettings).Methods(http.MethodGet)
	settingsMutating.HandleFunc("/system", config.Admin.PutSystemSetting).Methods(http.MethodPut)
	settingsMutating.HandleFunc("/system/{key}", config.Admin.PutSystemSetting).Methods(http.MethodPut)

	kb := admin.PathPrefix("/knowledge-base").Subrouter()
	kb.Use(middleware.ValidationMiddleware)
	admin.HandleFunc("/knowledge-base", config.Admin.ListKnowledgeDocs).Methods(http.MethodGet)
	admin.HandleFunc("/knowledge-base/{id}", config.Admin.GetKnowledgeDoc).Methods(http.MethodGet)
	kb.HandleFunc("", config.Admin.UpsertKnowledgeDoc).Methods(http.MethodPost)
	kb.HandleFunc("/{id}", config.Admin.UpsertKnowledgeDoc).Methods(http.MethodPut)
	kb.HandleFunc("/{id}", config.Admin.DeleteKnowledgeDoc).Methods(http.MethodDelete)
	kb.HandleFunc("/search", config.Admin.SearchKnowledgeBase).Methods(http.MethodPost)
	kb.HandleFunc("/bulk-import", config.Admin.BulkImportKnowledgeBase).Methods(http.MethodPost)
	kb.HandleFunc("/bulk-delete", config.Admin.BulkDeleteKnowledgeBase).Methods(http.MethodPost)
}
