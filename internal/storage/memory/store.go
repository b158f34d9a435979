// Package memory implements storage.Repository with in-process maps. It
// backs the fallback/degraded mode used when the configured backend fails
// to initialize, and is the default in repository-level tests.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/internal/storage"
)

// Store implements storage.Repository over in-memory maps guarded by a
// single RWMutex. Data is not persisted across restarts.
type Store struct {
	mu     sync.RWMutex
	logger *slog.Logger

	sessions      map[string]domain.Session
	conversations map[string]domain.Conversation
	messages      map[string]domain.Message
	modLogs       map[string]domain.ModerationLog

	rules       map[string]domain.SafetyRule
	moderation  map[string]domain.ModerationSetting
	escalations map[string]domain.EscalationSetting
	system      map[string]domain.SystemSetting
	knowledge   map[string]domain.KnowledgeDoc
}

// New builds an empty Store. logger may be nil.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:        logger,
		sessions:      make(map[string]domain.Session),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string]domain.Message),
		modLogs:       make(map[string]domain.ModerationLog),
		rules:         make(map[string]domain.SafetyRule),
		moderation:    make(map[string]domain.ModerationSetting),
		escalations:   make(map[string]domain.EscalationSetting),
		system:        make(map[string]domain.SystemSetting),
		knowledge:     make(map[string]domain.KnowledgeDoc),
	}
}

func (s *Store) GetOrCreateSession(ctx context.Context, id string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	sess, ok := s.sessions[id]
	if !ok {
		sess = domain.Session{ID: id, FirstSeen: now}
	}
	sess.LastSeen = now
	s.sessions[id] = sess
	return sess, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, storage.ErrNotFound
	}
	return conv, nil
}

func (s *Store) ListConversationsBySession(ctx context.Context, sessionID string) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.SessionID == sessionID {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) MarkEscalated(ctx context.Context, conversationID, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return storage.ErrNotFound
	}
	if conv.Escalated {
		return nil
	}
	conv.Escalated = true
	conv.EscalationCategory = category
	conv.UpdatedAt = time.Now()
	s.conversations[conversationID] = conv
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[msg.ID] = msg
	if conv, ok := s.conversations[msg.ConversationID]; ok {
		conv.UpdatedAt = time.Now()
		s.conversations[msg.ConversationID] = conv
	}
	return nil
}

func (s *Store) AppendMessageWithModerationLog(ctx context.Context, msg domain.Message, log *domain.ModerationLog, esc *storage.EscalationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[msg.ID] = msg
	if conv, ok := s.conversations[msg.ConversationID]; ok {
		conv.UpdatedAt = time.Now()
		s.conversations[msg.ConversationID] = conv
	}

	if log != nil {
		entry := *log
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		s.modLogs[entry.ID] = entry
	}

	if esc != nil {
		if conv, ok := s.conversations[esc.ConversationID]; ok && !conv.Escalated {
			conv.Escalated = true
			conv.EscalationCategory = esc.Category
			conv.UpdatedAt = time.Now()
			s.conversations[esc.ConversationID] = conv
		}
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return domain.Message{}, storage.ErrNotFound
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Message, 0)
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateModerationLog(ctx context.Context, log domain.ModerationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	s.modLogs[log.ID] = log
	return nil
}

func (s *Store) ListModerationLogs(ctx context.Context, limit int) ([]domain.ModerationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ModerationLog, 0, len(s.modLogs))
	for _, log := range s.modLogs {
		out = append(out, log)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListEscalatedConversations(ctx context.Context, limit int) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.Escalated {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LoadRules(ctx context.Context) ([]domain.SafetyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SafetyRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) LoadModerationSettings(ctx context.Context) ([]domain.ModerationSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ModerationSetting, 0, len(s.moderation))
	for _, m := range s.moderation {
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) LoadEscalationSettings(ctx context.Context) ([]domain.EscalationSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EscalationSetting, 0, len(s.escalations))
	for _, e := range s.escalations {
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) LoadSystemSettings(ctx context.Context) ([]domain.SystemSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SystemSetting, 0, len(s.system))
	for _, sys := range s.system {
		out = append(out, sys)
	}
	return out, nil
}

func (s *Store) UpsertRule(ctx context.Context, rule domain.SafetyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
	return nil
}

func (s *Store) UpsertModerationSetting(ctx context.Context, setting domain.ModerationSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moderation[setting.Category] = setting
	return nil
}

func (s *Store) UpsertEscalationSetting(ctx context.Context, setting domain.EscalationSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations[setting.Category] = setting
	return nil
}

func (s *Store) UpsertSystemSetting(ctx context.Context, setting domain.SystemSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system[setting.Key] = setting
	return nil
}

func (s *Store) LoadKnowledgeDocs(ctx context.Context) ([]domain.KnowledgeDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.KnowledgeDoc, 0, len(s.knowledge))
	for _, d := range s.knowledge {
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) UpsertKnowledgeDoc(ctx context.Context, doc domain.KnowledgeDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knowledge[doc.ID] = doc
	return nil
}

func (s *Store) DeleteKnowledgeDoc(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.knowledge, id)
	return nil
}

func (s *Store) BulkImportKnowledgeDocs(ctx context.Context, docs []domain.KnowledgeDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knowledge = make(map[string]domain.KnowledgeDoc, len(docs))
	for _, d := range docs {
		s.knowledge[d.ID] = d
	}
	return nil
}

func (s *Store) Health(ctx context.Context) error { return nil }

func (s *Store) Close() error {
	s.logger.Info("memory storage closed, all data discarded")
	return nil
}

var _ storage.Repository = (*Store)(nil)
