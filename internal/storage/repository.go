// Package storage selects and wires the persistence backend (embedded
// SQLite for the lite profile, Postgres for the standard profile), and
// defines the repository interfaces the rest of the gateway depends on.
//
// Method names on ConfigRepository and KnowledgeRepository are chosen to
// match internal/rules.Repository and internal/rag.CorpusRepository
// exactly, so any Repository implementation here satisfies both without
// an adapter shim.
package storage

import (
	"context"

	"github.com/romanbabin/convogate/internal/domain"
)

// ConversationStore owns the mutable conversational state: sessions,
// conversations, messages, and the moderation audit trail. Per spec, the
// Orchestrator is the only caller that mutates conversations and messages.
type ConversationStore interface {
	// GetOrCreateSession returns the existing session for id, or creates one
	// with FirstSeen=LastSeen=now if none exists. Either way LastSeen is
	// bumped to now before returning.
	GetOrCreateSession(ctx context.Context, id string) (domain.Session, error)

	CreateConversation(ctx context.Context, conv domain.Conversation) error
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	ListConversationsBySession(ctx context.Context, sessionID string) ([]domain.Conversation, error)

	// MarkEscalated sets escalated=true and the escalation category exactly
	// once; a second call for an already-escalated conversation is a no-op,
	// per the "transitions once false->true, never reset" invariant.
	MarkEscalated(ctx context.Context, conversationID, category string) error

	AppendMessage(ctx context.Context, msg domain.Message) error
	GetMessage(ctx context.Context, id string) (domain.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)

	// AppendMessageWithModerationLog writes msg and, when log is non-nil, its
	// companion ModerationLog (msg.ModerationLogID must already reference
	// log.ID), and, when esc is non-nil, marks esc.ConversationID escalated
	// — all in a single transaction. Use this instead of AppendMessage plus
	// CreateModerationLog/MarkEscalated whenever the writes must commit or
	// fail together, so a mid-sequence failure never leaves an orphaned
	// moderation log or an escalated conversation with no persisted message.
	AppendMessageWithModerationLog(ctx context.Context, msg domain.Message, log *domain.ModerationLog, esc *EscalationUpdate) error

	CreateModerationLog(ctx context.Context, log domain.ModerationLog) error
	// ListModerationLogs returns moderation log entries across every
	// session, most recent first, for the admin audit view. limit<=0 means
	// no limit.
	ListModerationLogs(ctx context.Context, limit int) ([]domain.ModerationLog, error)
	// ListEscalatedConversations returns every conversation with
	// Escalated=true across every session, most recently updated first.
	ListEscalatedConversations(ctx context.Context, limit int) ([]domain.Conversation, error)
}

// EscalationUpdate marks a conversation escalated as part of the same
// transaction as the message/moderation-log write it accompanies, so a
// post-check escalation commits its assistant message, audit log, and
// conversation.escalated flag atomically.
type EscalationUpdate struct {
	ConversationID string
	Category       string
}

// ConfigRepository loads and mutates the hot-reloadable safety configuration
// that internal/rules.Store caches. The Load* methods form rules.Repository.
type ConfigRepository interface {
	LoadRules(ctx context.Context) ([]domain.SafetyRule, error)
	LoadModerationSettings(ctx context.Context) ([]domain.ModerationSetting, error)
	LoadEscalationSettings(ctx context.Context) ([]domain.EscalationSetting, error)
	LoadSystemSettings(ctx context.Context) ([]domain.SystemSetting, error)

	UpsertRule(ctx context.Context, rule domain.SafetyRule) error
	DeleteRule(ctx context.Context, id string) error
	UpsertModerationSetting(ctx context.Context, setting domain.ModerationSetting) error
	UpsertEscalationSetting(ctx context.Context, setting domain.EscalationSetting) error
	UpsertSystemSetting(ctx context.Context, setting domain.SystemSetting) error
}

// KnowledgeRepository loads and mutates the RAG corpus. LoadKnowledgeDocs
// forms rag.CorpusRepository.
type KnowledgeRepository interface {
	LoadKnowledgeDocs(ctx context.Context) ([]domain.KnowledgeDoc, error)
	UpsertKnowledgeDoc(ctx context.Context, doc domain.KnowledgeDoc) error
	DeleteKnowledgeDoc(ctx context.Context, id string) error
	// BulkImportKnowledgeDocs replaces the corpus atomically: every existing
	// doc is removed and replaced with docs in the same transaction/batch,
	// so a failed import never leaves a half-replaced corpus.
	BulkImportKnowledgeDocs(ctx context.Context, docs []domain.KnowledgeDoc) error
}

// Repository is the full persistence surface one backend must implement.
type Repository interface {
	ConversationStore
	ConfigRepository
	KnowledgeRepository

	// Health reports whether the backend can currently serve requests.
	Health(ctx context.Context) error
	Close() error
}

