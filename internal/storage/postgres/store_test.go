//go:build integration
// +build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/romanbabin/convogate/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("convogate_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrateDB, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, goose.Up(migrateDB, "../../../migrations"))
	require.NoError(t, migrateDB.Close())

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return New(pool, nil)
}

func TestStore_ConversationAndMessageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetOrCreateSession(ctx, "sess-1")
	require.NoError(t, err)

	conv := domain.Conversation{ID: "c1", SessionID: "sess-1", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.CreateConversation(ctx, conv))

	require.NoError(t, s.AppendMessage(ctx, domain.Message{
		ID: "m1", ConversationID: "c1", Role: domain.RoleUser, Content: "hi", CreatedAt: time.Now(),
	}))

	msgs, err := s.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestStore_MarkEscalatedIsSticky(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.GetOrCreateSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, s.CreateConversation(ctx, domain.Conversation{ID: "c1", SessionID: "sess-1", CreatedAt: time.Now(), UpdatedAt: time.Now()}))

	require.NoError(t, s.MarkEscalated(ctx, "c1", "self_harm"))
	require.NoError(t, s.MarkEscalated(ctx, "c1", "other"))

	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "self_harm", got.EscalationCategory)
}

func TestStore_KnowledgeDocBulkImportReplacesCorpus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertKnowledgeDoc(ctx, domain.KnowledgeDoc{ID: "old", Title: "Old", Content: "x", Keywords: []string{"x"}, UpdatedAt: time.Now()}))
	require.NoError(t, s.BulkImportKnowledgeDocs(ctx, []domain.KnowledgeDoc{
		{ID: "new1", Title: "New", Content: "y", Keywords: []string{"a", "b"}, UpdatedAt: time.Now()},
	}))

	docs, err := s.LoadKnowledgeDocs(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "new1", docs[0].ID)
}

func TestStore_ListEscalatedConversationsAndModerationLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"sess-1", "sess-2"} {
		_, err := s.GetOrCreateSession(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, s.CreateConversation(ctx, domain.Conversation{ID: "c1", SessionID: "sess-1", CreatedAt: time.Now(), UpdatedAt: time.Now()}))
	require.NoError(t, s.CreateConversation(ctx, domain.Conversation{ID: "c2", SessionID: "sess-2", CreatedAt: time.Now(), UpdatedAt: time.Now()}))
	require.NoError(t, s.MarkEscalated(ctx, "c2", "crisis"))

	escalated, err := s.ListEscalatedConversations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, escalated, 1)
	assert.Equal(t, "c2", escalated[0].ID)

	require.NoError(t, s.CreateModerationLog(ctx, domain.ModerationLog{
		ID: "l1", MessageID: "m1", Categories: map[string]bool{"hate": true}, Scores: map[string]float64{"hate": 0.9}, CreatedAt: time.Now(),
	}))
	logs, err := s.ListModerationLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Categories["hate"])
}

func TestStore_Health(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Health(context.Background()))
}
