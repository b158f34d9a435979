package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/romanbabin/convogate/internal/completion"
	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/internal/prompt"
	"github.com/romanbabin/convogate/internal/rag"
	"github.com/romanbabin/convogate/internal/ratelimit"
	"github.com/romanbabin/convogate/internal/ruleengine"
	"github.com/romanbabin/convogate/internal/sanitize"
	"github.com/romanbabin/convogate/internal/storage"
	"github.com/romanbabin/convogate/pkg/metrics"
)

const (
	defaultConversationWindow = 20
	defaultPreCheckTimeout    = time.Second
	defaultPostCheckTimeout   = time.Second
	defaultRAGTimeout         = 100 * time.Millisecond

	defaultBlockMessage = "I'm not able to help with that request."

	streamingModeKey        = "streaming_mode"
	streamingModeBuffered   = "buffered"
	streamingModeInterleave = "interleaved"
)

// SnapshotProvider supplies the configuration snapshot a turn evaluates
// against. Satisfied by *rules.Store.
type SnapshotProvider interface {
	GetSnapshot(ctx context.Context) (*domain.Snapshot, error)
}

// Publisher receives a fire-and-forget notification whenever a turn
// produces a non-Allow decision, for the admin live dashboard. Satisfied by
// *dashboard.Hub. Optional: a nil Publisher is never called.
type Publisher interface {
	Publish(eventType string, data map[string]interface{})
}

// CacheInvalidator drops any cached conversation-list pages for a session
// once a turn changes that session's conversations. Satisfied by
// *convcache.Cache. Optional: a nil CacheInvalidator is never called.
type CacheInvalidator interface {
	InvalidateSession(ctx context.Context, sessionID string)
}

// Config holds the orchestrator's per-stage timeouts and window size, sized
// from internal/config.PipelineConfig by the caller that wires New.
type Config struct {
	ConversationWindow int
	PreCheckTimeout    time.Duration
	PostCheckTimeout   time.Duration
	RAGTimeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConversationWindow <= 0 {
		c.ConversationWindow = defaultConversationWindow
	}
	if c.PreCheckTimeout <= 0 {
		c.PreCheckTimeout = defaultPreCheckTimeout
	}
	if c.PostCheckTimeout <= 0 {
		c.PostCheckTimeout = defaultPostCheckTimeout
	}
	if c.RAGTimeout <= 0 {
		c.RAGTimeout = defaultRAGTimeout
	}
	return c
}

// Orchestrator drives one chat turn through the Safety Pipeline: sanitize,
// pre-LLM rule check, RAG retrieval, streaming completion, post-LLM rule
// check, persistence. Turns on the same conversation serialize; turns on
// different conversations run concurrently.
type Orchestrator struct {
	cfg Config

	sanitizer *sanitize.Sanitizer
	limiter   ratelimit.RateLimiter
	snapshots SnapshotProvider
	engine    *ruleengine.Engine
	corpus    *rag.CorpusLoader
	retriever *rag.Retriever
	builder   *prompt.Builder
	provider  completion.Provider
	repo      storage.Repository

	locks      *conversationLocks
	logger     *slog.Logger
	metrics    *metrics.PipelineMetrics
	publisher  Publisher
	cacheInval CacheInvalidator
}

// SetPublisher wires the admin live dashboard's event sink. Safe to call
// once after New; a nil publisher (the default) disables dashboard
// broadcast entirely.
func (o *Orchestrator) SetPublisher(p Publisher) {
	o.publisher = p
}

// SetCacheInvalidator wires the conversation-list cache's invalidation hook.
// Safe to call once after New; a nil invalidator (the default) disables
// cache invalidation, which is correct when no conversation-list cache is
// wired at all.
func (o *Orchestrator) SetCacheInvalidator(c CacheInvalidator) {
	o.cacheInval = c
}

// invalidateSessionCache notifies the conversation-list cache that
// sessionID's list changed. No-op if no CacheInvalidator is wired.
func (o *Orchestrator) invalidateSessionCache(ctx context.Context, sessionID string) {
	if o.cacheInval == nil {
		return
	}
	o.cacheInval.InvalidateSession(ctx, sessionID)
}

// publishDecision notifies the dashboard of a non-Allow decision. No-op if
// no Publisher is wired.
func (o *Orchestrator) publishDecision(stage, sessionID, conversationID string, decision domain.Decision) {
	if o.publisher == nil || decision.Kind == domain.DecisionAllow {
		return
	}
	eventType := "moderation_decision"
	if decision.Kind == domain.DecisionEscalate {
		eventType = "escalation"
	}
	categories := make([]string, 0, len(decision.Reasons))
	for _, r := range decision.Reasons {
		categories = append(categories, r.Category)
	}
	o.publisher.Publish(eventType, map[string]interface{}{
		"stage":           stage,
		"kind":            string(decision.Kind),
		"session_id":      sessionID,
		"conversation_id": conversationID,
		"categories":      categories,
	})
}

// New builds an Orchestrator from its collaborators. logger and m may be nil.
func New(
	cfg Config,
	sanitizer *sanitize.Sanitizer,
	limiter ratelimit.RateLimiter,
	snapshots SnapshotProvider,
	engine *ruleengine.Engine,
	corpus *rag.CorpusLoader,
	retriever *rag.Retriever,
	builder *prompt.Builder,
	provider completion.Provider,
	repo storage.Repository,
	logger *slog.Logger,
	m *metrics.PipelineMetrics,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		sanitizer: sanitizer,
		limiter:   limiter,
		snapshots: snapshots,
		engine:    engine,
		corpus:    corpus,
		retriever: retriever,
		builder:   builder,
		provider:  provider,
		repo:      repo,
		locks:     newConversationLocks(),
		logger:    logger,
		metrics:   m,
	}
}

// ProcessTurn runs one chat turn and returns a channel of Events. The
// channel always ends with exactly one EventDone. A non-nil error return
// means the turn never started (rate limited or rejected at sanitize) and
// no channel is returned.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sessionID, conversationID, userText string) (<-chan Event, error) {
	if o.limiter != nil && !o.limiter.Allow(sessionID) {
		return nil, domain.ErrRateLimited
	}

	cleaned, err := o.sanitizer.Sanitize(ctx, userText)
	if err != nil {
		return nil, err
	}

	lock := o.locks.lockFor(conversationID)
	lock.Lock()

	events := make(chan Event, 8)
	t := newTurn()
	_ = t.move(StateSanitized)

	go o.run(ctx, t, lock, sessionID, conversationID, cleaned, events)
	return events, nil
}

func (o *Orchestrator) run(ctx context.Context, t *turn, lock *sync.Mutex, sessionID, conversationID, userText string, events chan<- Event) {
	defer close(events)
	defer lock.Unlock()
	defer o.recordOutcome(t)

	if _, err := o.repo.GetOrCreateSession(ctx, sessionID); err != nil {
		o.emitFailure(t, events, err)
		return
	}

	conv, err := o.repo.GetConversation(ctx, conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		now := time.Now()
		conv = domain.Conversation{ID: conversationID, SessionID: sessionID, CreatedAt: now, UpdatedAt: now}
		if err := o.repo.CreateConversation(ctx, conv); err != nil {
			o.emitFailure(t, events, err)
			return
		}
		o.invalidateSessionCache(ctx, sessionID)
	} else if err != nil {
		o.emitFailure(t, events, err)
		return
	}

	snap, err := o.snapshots.GetSnapshot(ctx)
	if err != nil {
		o.emitFailure(t, events, err)
		return
	}

	mode := streamingMode(snap)

	preCtx, cancel := context.WithTimeout(ctx, o.cfg.PreCheckTimeout)
	preDecision := o.engine.Evaluate(preCtx, userText, snap, ruleengine.PassPre)
	cancel()
	o.publishDecision("pre", sessionID, conversationID, preDecision)

	if err := t.move(StatePreChecked); err != nil {
		o.emitFailure(t, events, err)
		return
	}

	userMsg := domain.Message{
		ID:                uuid.NewString(),
		ConversationID:    conversationID,
		Role:              domain.RoleUser,
		Content:           userText,
		CreatedAt:         time.Now(),
		Flagged:           preDecision.Kind != domain.DecisionAllow,
		ModerationSkipped: preDecision.ModerationSkipped,
	}
	// Fetched before persisting userMsg below, so it holds only prior turns;
	// the current user message is appended separately when building the
	// prompt and must not also appear in this window.
	history, err := o.repo.ListMessages(ctx, conv.ID)
	if err != nil {
		o.emitFailure(t, events, err)
		return
	}

	if err := o.persistTurnSide(ctx, sessionID, &userMsg, preDecision, nil); err != nil {
		o.emitFailure(t, events, err)
		return
	}

	if preDecision.IsTerminal() {
		o.finishTerminal(ctx, t, events, sessionID, conversationID, preDecision, true, "")
		return
	}

	o.generate(ctx, t, events, conv, userText, snap, mode, history)
}

// persistTurnSide writes msg, any moderation log the decision carries, and
// (when esc is non-nil) the conversation's escalated flag, all in one
// transaction via AppendMessageWithModerationLog, so a failure partway
// through never leaves an orphaned moderation log or an escalated
// conversation with no persisted assistant message. It invalidates
// sessionID's cached conversation-list pages afterward, since a new message
// changes that session's list ordering.
func (o *Orchestrator) persistTurnSide(ctx context.Context, sessionID string, msg *domain.Message, decision domain.Decision, esc *storage.EscalationUpdate) error {
	var logPtr *domain.ModerationLog
	if log, ok := moderationLogFromDecision(decision, msg.ID); ok {
		msg.ModerationLogID = log.ID
		logPtr = &log
	}
	if err := o.repo.AppendMessageWithModerationLog(ctx, *msg, logPtr, esc); err != nil {
		return err
	}
	o.invalidateSessionCache(ctx, sessionID)
	return nil
}

// finishTerminal persists the canned assistant reply for a Block/Escalate
// decision and emits it as a single content event followed by EventDone.
// isPre distinguishes a pre-LLM terminal decision (t currently PreChecked)
// from a post-LLM one whose caller has already advanced t appropriately.
func (o *Orchestrator) finishTerminal(ctx context.Context, t *turn, events chan<- Event, sessionID, conversationID string, decision domain.Decision, isPre bool, alreadyStreamedText string) {
	var state State
	var content string
	var esc *storage.EscalationUpdate

	switch decision.Kind {
	case domain.DecisionBlock:
		state = pick(isPre, StateBlocked, StateBlockedPost)
		content = defaultBlockMessage
	case domain.DecisionEscalate:
		state = pick(isPre, StateEscalated, StateEscalatedPost)
		content = decision.ResponseTemplate
		if content == "" {
			content = defaultBlockMessage
		}
		esc = &storage.EscalationUpdate{ConversationID: conversationID, Category: decision.EscalationCategory}
	default:
		o.emitFailure(t, events, domain.ErrInternal)
		return
	}

	if err := t.move(state); err != nil {
		o.emitFailure(t, events, err)
		return
	}

	// Even in interleaved mode, where the raw completion was already streamed
	// to the client chunk by chunk, a post-check Block/Escalate replaces both
	// the persisted record and the terminal done event's message with the
	// refusal/escalation template: the client already saw the raw text live,
	// but what is recorded and reported as final must be the safe content.
	assistantMsg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        content,
		CreatedAt:      time.Now(),
		Flagged:        true,
	}
	if err := o.persistTurnSide(ctx, sessionID, &assistantMsg, decision, esc); err != nil {
		o.emitFailure(t, events, err)
		return
	}

	if isPre || alreadyStreamedText == "" {
		events <- Event{Kind: EventContent, Content: content}
	}
	events <- Event{Kind: EventDone, State: state, Decision: &decision, Message: &assistantMsg}
}

func pick(cond bool, a, b State) State {
	if cond {
		return a
	}
	return b
}

func (o *Orchestrator) generate(ctx context.Context, t *turn, events chan<- Event, conv domain.Conversation, userText string, snap *domain.Snapshot, mode string, history []domain.Message) {
	if err := t.move(StateGenerating); err != nil {
		o.emitFailure(t, events, err)
		return
	}

	ragCtx, cancel := context.WithTimeout(ctx, o.cfg.RAGTimeout)
	result := o.retriever.Retrieve(ragCtx, userText, o.corpus.Current().Docs)
	cancel()

	window := prompt.Window(history, o.cfg.ConversationWindow)

	messages, err := o.builder.BuildTurn(result.ContextBlock, window, userText)
	if err != nil {
		o.emitFailure(t, events, err)
		return
	}

	if err := t.move(StateStreaming); err != nil {
		o.emitFailure(t, events, err)
		return
	}
	if o.metrics != nil {
		o.metrics.ActiveStreams.Inc()
		defer o.metrics.ActiveStreams.Dec()
	}

	chunks, errCh := o.provider.StreamCompletion(ctx, messages)

	var buf []byte
	var tokenCount int64
	started := time.Now()

streamLoop:
	for {
		select {
		case <-ctx.Done():
			o.handleCancel(ctx, t, events, conv.SessionID, conv.ID, string(buf))
			return
		case chunk, ok := <-chunks:
			if !ok {
				break streamLoop
			}
			if chunk.Kind == completion.ChunkContent {
				buf = append(buf, chunk.Content...)
				if mode == streamingModeInterleave {
					events <- Event{Kind: EventContent, Content: chunk.Content}
				}
			} else if chunk.Kind == completion.ChunkDone {
				tokenCount = chunk.TokenCount
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				o.emitFailure(t, events, err)
				return
			}
		}
	}

	assistantText := string(buf)
	responseMs := time.Since(started).Milliseconds()

	if err := t.move(StatePostChecked); err != nil {
		o.emitFailure(t, events, err)
		return
	}

	postCtx, cancel := context.WithTimeout(ctx, o.cfg.PostCheckTimeout)
	postDecision := o.engine.Evaluate(postCtx, assistantText, snap, ruleengine.PassPost)
	cancel()
	o.publishDecision("post", conv.SessionID, conv.ID, postDecision)

	if postDecision.IsTerminal() {
		streamedText := ""
		if mode == streamingModeInterleave {
			streamedText = assistantText
		}
		o.finishTerminal(ctx, t, events, conv.SessionID, conv.ID, postDecision, false, streamedText)
		return
	}

	if err := t.move(StateDelivered); err != nil {
		o.emitFailure(t, events, err)
		return
	}

	assistantMsg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        assistantText,
		CreatedAt:      time.Now(),
		ResponseTimeMs: &responseMs,
		TokenCount:     &tokenCount,
		Flagged:        postDecision.Kind != domain.DecisionAllow,
	}
	if err := o.persistTurnSide(ctx, conv.SessionID, &assistantMsg, postDecision, nil); err != nil {
		o.emitFailure(t, events, err)
		return
	}

	if mode == streamingModeBuffered {
		events <- Event{Kind: EventContent, Content: assistantText}
	}
	events <- Event{Kind: EventDone, State: StateDelivered, Decision: &postDecision, Message: &assistantMsg}
}

// handleCancel persists the partial completion and moves the turn to
// StateCanceled. Per the streaming lifecycle, a client disconnect aborts
// the upstream stream and keeps whatever text was buffered so far.
func (o *Orchestrator) handleCancel(ctx context.Context, t *turn, events chan<- Event, sessionID, conversationID, partial string) {
	t.cancel()
	if o.metrics != nil {
		o.metrics.StreamsCanceled.Inc()
	}

	// The client is already gone; persistence uses a background context so
	// a canceled request context doesn't also abort the write.
	persistCtx := context.WithoutCancel(ctx)
	assistantMsg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        partial,
		CreatedAt:      time.Now(),
		Canceled:       true,
	}
	if err := o.repo.AppendMessage(persistCtx, assistantMsg); err != nil {
		o.logger.Warn("failed to persist canceled turn", "conversation_id", conversationID, "error", err)
	} else {
		o.invalidateSessionCache(persistCtx, sessionID)
	}
	events <- Event{Kind: EventDone, State: StateCanceled, Message: &assistantMsg, Err: domain.ErrCanceled}
}

func (o *Orchestrator) emitFailure(t *turn, events chan<- Event, err error) {
	t.fail()
	o.logger.Error("turn failed", "error", err)
	events <- Event{Kind: EventError, Err: err}
	events <- Event{Kind: EventDone, State: StateFailed, Err: err}
}

func (o *Orchestrator) recordOutcome(t *turn) {
	if o.metrics == nil {
		return
	}
	o.metrics.TurnsTotal.WithLabelValues(string(t.state)).Inc()
}

// moderationLogFromDecision collects the moderation-sourced reasons on
// decision into a ModerationLog, returning ok=false if none contributed so
// callers skip writing an empty audit row.
func moderationLogFromDecision(decision domain.Decision, messageID string) (domain.ModerationLog, bool) {
	categories := make(map[string]bool)
	scores := make(map[string]float64)
	for _, r := range decision.Reasons {
		if r.Source != "moderation" {
			continue
		}
		categories[r.Category] = true
		scores[r.Category] = r.Score
	}
	if len(categories) == 0 {
		return domain.ModerationLog{}, false
	}
	return domain.ModerationLog{
		ID:         uuid.NewString(),
		MessageID:  messageID,
		Categories: categories,
		Scores:     scores,
		Flagged:    true,
		CreatedAt:  time.Now(),
	}, true
}

// streamingMode reads the "streaming_mode" SystemSetting, defaulting to
// interleaved when unset or malformed.
func streamingMode(snap *domain.Snapshot) string {
	if snap == nil {
		return streamingModeInterleave
	}
	setting, ok := snap.System[streamingModeKey]
	if !ok {
		return streamingModeInterleave
	}
	value := string(setting.Value)
	if len(value) >= 2 && value[0] == '"' {
		value = value[1 : len(value)-1]
	}
	if value == streamingModeBuffered {
		return streamingModeBuffered
	}
	return streamingModeInterleave
}
