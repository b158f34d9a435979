package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/internal/storage"
)

func TestGetOrCreateSession_CreatesThenTouches(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	first, err := s.GetOrCreateSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, first.FirstSeen, first.LastSeen)

	time.Sleep(time.Millisecond)
	second, err := s.GetOrCreateSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, first.FirstSeen, second.FirstSeen, "first seen must not change on touch")
	assert.True(t, second.LastSeen.After(first.LastSeen))
}

func TestConversationLifecycle(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	conv := domain.Conversation{ID: "c1", SessionID: "sess-1", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.CreateConversation(ctx, conv))

	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.False(t, got.Escalated)

	_, err = s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMarkEscalated_TransitionsOnceAndNeverResets(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, domain.Conversation{ID: "c1", SessionID: "sess-1"}))

	require.NoError(t, s.MarkEscalated(ctx, "c1", "self_harm"))
	got, _ := s.GetConversation(ctx, "c1")
	assert.True(t, got.Escalated)
	assert.Equal(t, "self_harm", got.EscalationCategory)

	require.NoError(t, s.MarkEscalated(ctx, "c1", "other_category"))
	got, _ = s.GetConversation(ctx, "c1")
	assert.Equal(t, "self_harm", got.EscalationCategory, "escalation category must not change once set")
}

func TestListEscalatedConversations_OnlyReturnsEscalatedAcrossSessions(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, domain.Conversation{ID: "c1", SessionID: "sess-1"}))
	require.NoError(t, s.CreateConversation(ctx, domain.Conversation{ID: "c2", SessionID: "sess-2"}))
	require.NoError(t, s.MarkEscalated(ctx, "c2", "crisis"))

	out, err := s.ListEscalatedConversations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "c2", out[0].ID)
}

func TestListModerationLogs_MostRecentFirstAndRespectsLimit(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	base := time.Now()
	require.NoError(t, s.CreateModerationLog(ctx, domain.ModerationLog{ID: "l1", MessageID: "m1", CreatedAt: base}))
	require.NoError(t, s.CreateModerationLog(ctx, domain.ModerationLog{ID: "l2", MessageID: "m2", CreatedAt: base.Add(time.Second)}))

	out, err := s.ListModerationLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "l2", out[0].ID, "most recent log must come first")
}

func TestListMessages_OrdersByCreatedAtThenID(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.AppendMessage(ctx, domain.Message{ID: "m2", ConversationID: "c1", CreatedAt: base}))
	require.NoError(t, s.AppendMessage(ctx, domain.Message{ID: "m1", ConversationID: "c1", CreatedAt: base}))
	require.NoError(t, s.AppendMessage(ctx, domain.Message{ID: "m3", ConversationID: "c1", CreatedAt: base.Add(time.Second)}))

	msgs, err := s.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestBulkImportKnowledgeDocs_ReplacesCorpusAtomically(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	require.NoError(t, s.UpsertKnowledgeDoc(ctx, domain.KnowledgeDoc{ID: "old", Title: "Old doc", Content: "x"}))

	require.NoError(t, s.BulkImportKnowledgeDocs(ctx, []domain.KnowledgeDoc{
		{ID: "new1", Title: "New doc 1", Content: "y"},
		{ID: "new2", Title: "New doc 2", Content: "z"},
	}))

	docs, err := s.LoadKnowledgeDocs(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{"new1", "new2"}, ids)
}

func TestAppendMessageWithModerationLog_WritesMessageLogAndEscalationTogether(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, domain.Conversation{ID: "c1", SessionID: "sess-1"}))

	msg := domain.Message{ID: "m1", ConversationID: "c1", Role: domain.RoleAssistant, Content: "reaching out", CreatedAt: time.Now(), ModerationLogID: "l1"}
	log := domain.ModerationLog{ID: "l1", MessageID: "m1", Flagged: true, CreatedAt: time.Now()}
	esc := &storage.EscalationUpdate{ConversationID: "c1", Category: "crisis"}

	require.NoError(t, s.AppendMessageWithModerationLog(ctx, msg, &log, esc))

	got, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "reaching out", got.Content)

	logs, err := s.ListModerationLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "m1", logs[0].MessageID)

	conv, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, conv.Escalated)
	assert.Equal(t, "crisis", conv.EscalationCategory)
}

func TestAppendMessageWithModerationLog_NilLogAndEscalationAreOptional(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, domain.Conversation{ID: "c1", SessionID: "sess-1"}))

	msg := domain.Message{ID: "m1", ConversationID: "c1", Role: domain.RoleAssistant, Content: "hello", CreatedAt: time.Now()}
	require.NoError(t, s.AppendMessageWithModerationLog(ctx, msg, nil, nil))

	got, err := s.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)

	logs, err := s.ListModerationLogs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)

	conv, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, conv.Escalated)
}

func TestAppendMessageWithModerationLog_EscalationNeverResetsOnceSet(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, domain.Conversation{ID: "c1", SessionID: "sess-1"}))
	require.NoError(t, s.MarkEscalated(ctx, "c1", "self_harm"))

	msg := domain.Message{ID: "m1", ConversationID: "c1", Role: domain.RoleAssistant, Content: "hi", CreatedAt: time.Now()}
	esc := &storage.EscalationUpdate{ConversationID: "c1", Category: "other_category"}
	require.NoError(t, s.AppendMessageWithModerationLog(ctx, msg, nil, esc))

	conv, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "self_harm", conv.EscalationCategory, "escalation category must not change once set")
}

func TestConfigRepositoryRoundTrip(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	rule := domain.SafetyRule{ID: "r1", Type: domain.RuleTypeBlockedKeyword, Value: "bad", Action: domain.ActionBlock}
	require.NoError(t, s.UpsertRule(ctx, rule))
	rules, err := s.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "r1", rules[0].ID)

	require.NoError(t, s.DeleteRule(ctx, "r1"))
	rules, _ = s.LoadRules(ctx)
	assert.Empty(t, rules)
}

func TestHealthAndClose(t *testing.T) {
	s := New(nil)
	assert.NoError(t, s.Health(context.Background()))
	assert.NoError(t, s.Close())
}

var _ storage.Repository = (*Store)(nil)
