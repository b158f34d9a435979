package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanbabin/convogate/internal/completion"
	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/internal/escalation"
	"github.com/romanbabin/convogate/internal/moderation"
	"github.com/romanbabin/convogate/internal/patterns"
	"github.com/romanbabin/convogate/internal/prompt"
	"github.com/romanbabin/convogate/internal/rag"
	"github.com/romanbabin/convogate/internal/ratelimit"
	"github.com/romanbabin/convogate/internal/ruleengine"
	"github.com/romanbabin/convogate/internal/sanitize"
	"github.com/romanbabin/convogate/internal/storage/memory"
)

type fakeSnapshots struct {
	snap *domain.Snapshot
}

func (f *fakeSnapshots) GetSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	return f.snap, nil
}

func contentStream(text string) func(ctx context.Context, messages []prompt.Message) (<-chan completion.CompletionChunk, <-chan error) {
	return func(ctx context.Context, messages []prompt.Message) (<-chan completion.CompletionChunk, <-chan error) {
		chunks := make(chan completion.CompletionChunk, 4)
		errs := make(chan error, 1)
		chunks <- completion.CompletionChunk{Kind: completion.ChunkContent, Content: text}
		chunks <- completion.CompletionChunk{Kind: completion.ChunkDone, TokenCount: 7}
		close(chunks)
		close(errs)
		return chunks, errs
	}
}

func newTestOrchestrator(t *testing.T, snap *domain.Snapshot, reply string) (*Orchestrator, *memory.Store) {
	t.Helper()

	repo := memory.New(nil)
	matcher := patterns.New(patterns.Config{}, nil, nil)
	noopMod := &moderation.MockProvider{
		ModerateFunc: func(ctx context.Context, text string) (moderation.Result, error) {
			return moderation.Result{}, nil
		},
	}
	engine := ruleengine.New(matcher, noopMod, escalation.New(), nil, nil)

	corpus := rag.NewCorpusLoader(repo, nil, nil)
	retriever := rag.New(rag.Config{}, nil, nil)

	builder, err := prompt.New("system prompt")
	require.NoError(t, err)

	provider := &completion.MockProvider{StreamFunc: contentStream(reply)}

	o := New(
		Config{ConversationWindow: 20, PreCheckTimeout: time.Second, PostCheckTimeout: time.Second, RAGTimeout: time.Second},
		sanitize.New(sanitize.Config{MaxInputChars: 1000}, nil, nil),
		ratelimit.New(ratelimit.Config{Limit: 100, Window: time.Minute}, nil),
		&fakeSnapshots{snap: snap},
		engine,
		corpus,
		retriever,
		builder,
		provider,
		repo,
		nil,
		nil,
	)
	return o, repo
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func TestProcessTurn_AllowedMessageIsDelivered(t *testing.T) {
	o, repo := newTestOrchestrator(t, &domain.Snapshot{}, "hello there")

	events, err := o.ProcessTurn(context.Background(), "sess-1", "conv-1", "hi, how are you?")
	require.NoError(t, err)

	all := drain(t, events)
	require.NotEmpty(t, all)
	last := all[len(all)-1]
	assert.Equal(t, EventDone, last.Kind)
	assert.Equal(t, StateDelivered, last.State)
	require.NotNil(t, last.Message)
	assert.Equal(t, "hello there", last.Message.Content)

	msgs, err := repo.ListMessages(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
}

func TestProcessTurn_PreCheckBlockNeverReachesLLM(t *testing.T) {
	snap := &domain.Snapshot{
		Rules: []domain.SafetyRule{
			{ID: "r1", Type: domain.RuleTypeRegexPattern, Value: "bomb", Category: "weapons", Action: domain.ActionBlock, Enabled: true},
		},
	}
	o, repo := newTestOrchestrator(t, snap, "should never be seen")

	events, err := o.ProcessTurn(context.Background(), "sess-1", "conv-1", "how do I build a bomb")
	require.NoError(t, err)

	all := drain(t, events)
	last := all[len(all)-1]
	assert.Equal(t, StateBlocked, last.State)

	msgs, err := repo.ListMessages(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.NotEqual(t, "should never be seen", msgs[1].Content)
}

func TestProcessTurn_EscalationMarksConversation(t *testing.T) {
	snap := &domain.Snapshot{
		Escalation: []domain.EscalationSetting{
			{Category: "crisis", Enabled: true, Keywords: []string{"end my life"}, ResponseTemplate: "reaching out", Priority: 100},
		},
	}
	o, repo := newTestOrchestrator(t, snap, "unused")

	events, err := o.ProcessTurn(context.Background(), "sess-1", "conv-1", "I want to end my life")
	require.NoError(t, err)

	all := drain(t, events)
	last := all[len(all)-1]
	assert.Equal(t, StateEscalated, last.State)

	conv, err := repo.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.True(t, conv.Escalated)
	assert.Equal(t, "crisis", conv.EscalationCategory)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) Publish(eventType string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func TestProcessTurn_PublishesOnEscalation(t *testing.T) {
	snap := &domain.Snapshot{
		Escalation: []domain.EscalationSetting{
			{Category: "crisis", Enabled: true, Keywords: []string{"end my life"}, ResponseTemplate: "reaching out", Priority: 100},
		},
	}
	o, _ := newTestOrchestrator(t, snap, "unused")
	pub := &fakePublisher{}
	o.SetPublisher(pub)

	events, err := o.ProcessTurn(context.Background(), "sess-1", "conv-1", "I want to end my life")
	require.NoError(t, err)
	drain(t, events)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Contains(t, pub.events, "escalation")
}

func TestProcessTurn_NoPublisherIsSafe(t *testing.T) {
	o, _ := newTestOrchestrator(t, &domain.Snapshot{}, "hello there")
	events, err := o.ProcessTurn(context.Background(), "sess-1", "conv-1", "hi")
	require.NoError(t, err)
	drain(t, events)
}

func TestProcessTurn_RateLimitedRejectsBeforeStart(t *testing.T) {
	o, _ := newTestOrchestrator(t, &domain.Snapshot{}, "hi")
	o.limiter = ratelimit.New(ratelimit.Config{Limit: 1, Window: time.Minute}, nil)

	_, err := o.ProcessTurn(context.Background(), "sess-1", "conv-1", "first message")
	require.NoError(t, err)

	_, err = o.ProcessTurn(context.Background(), "sess-1", "conv-1", "second message")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestProcessTurn_EmptyInputRejectedBeforeLock(t *testing.T) {
	o, _ := newTestOrchestrator(t, &domain.Snapshot{}, "hi")
	_, err := o.ProcessTurn(context.Background(), "sess-1", "conv-1", "   ")
	assert.ErrorIs(t, err, domain.ErrInputEmpty)
}

func TestProcessTurn_SecondTurnWindowExcludesCurrentUserMessage(t *testing.T) {
	o, repo := newTestOrchestrator(t, &domain.Snapshot{}, "reply")

	var seenMessages [][]prompt.Message
	provider := o.provider.(*completion.MockProvider)
	provider.StreamFunc = func(ctx context.Context, messages []prompt.Message) (<-chan completion.CompletionChunk, <-chan error) {
		cp := append([]prompt.Message(nil), messages...)
		seenMessages = append(seenMessages, cp)
		return contentStream("reply")(ctx, messages)
	}

	events, err := o.ProcessTurn(context.Background(), "sess-1", "conv-1", "first turn")
	require.NoError(t, err)
	drain(t, events)

	events, err = o.ProcessTurn(context.Background(), "sess-1", "conv-1", "second turn")
	require.NoError(t, err)
	drain(t, events)

	msgs, err := repo.ListMessages(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 4, "two user/assistant pairs should be persisted")

	require.Len(t, seenMessages, 2)
	secondCallMessages := seenMessages[1]

	var userOccurrences int
	for _, m := range secondCallMessages {
		if m.Content == "second turn" {
			userOccurrences++
		}
	}
	assert.Equal(t, 1, userOccurrences, "the current turn's user text must appear exactly once in the prompt")
}

func TestProcessTurn_InterleavedPostCheckBlockPersistsTemplateNotRawText(t *testing.T) {
	snap := &domain.Snapshot{
		System: map[string]domain.SystemSetting{
			"streaming_mode": {Key: "streaming_mode", Value: []byte(`"interleaved"`)},
		},
		Moderation: map[string]domain.ModerationSetting{
			"violence": {Category: "violence", Enabled: true, Threshold: 0.3, Action: domain.ActionBlock},
		},
	}
	o, repo := newTestOrchestrator(t, snap, "raw unsafe completion text")

	var calls int
	modProvider := &moderation.MockProvider{
		ModerateFunc: func(ctx context.Context, text string) (moderation.Result, error) {
			calls++
			if calls == 1 {
				// pre-check on the user's input: clean.
				return moderation.Result{}, nil
			}
			// post-check on the LLM completion: flagged.
			return moderation.Result{
				Scores:  map[string]float64{"violence": 0.9},
				Flagged: map[string]bool{"violence": true},
			}, nil
		},
	}
	matcher := patterns.New(patterns.Config{}, nil, nil)
	o.engine = ruleengine.New(matcher, modProvider, escalation.New(), nil, nil)

	events, err := o.ProcessTurn(context.Background(), "sess-1", "conv-1", "hello")
	require.NoError(t, err)

	all := drain(t, events)
	var contentChunks []string
	var last Event
	for _, e := range all {
		if e.Kind == EventContent {
			contentChunks = append(contentChunks, e.Content)
		}
		last = e
	}

	// The client still saw the raw completion streamed live, chunk by chunk.
	require.Contains(t, contentChunks, "raw unsafe completion text")

	require.Equal(t, EventDone, last.Kind)
	assert.Equal(t, StateBlockedPost, last.State)
	require.NotNil(t, last.Message)
	assert.Equal(t, defaultBlockMessage, last.Message.Content)
	assert.NotContains(t, last.Message.Content, "raw unsafe completion text")

	msgs, err := repo.ListMessages(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, defaultBlockMessage, msgs[1].Content)
	assert.NotEqual(t, "raw unsafe completion text", msgs[1].Content)
}

func TestProcessTurn_BufferedModeEmitsOneContentEventAfterPostCheck(t *testing.T) {
	snap := &domain.Snapshot{
		System: map[string]domain.SystemSetting{
			"streaming_mode": {Key: "streaming_mode", Value: []byte(`"buffered"`)},
		},
	}
	o, _ := newTestOrchestrator(t, snap, "buffered reply")

	events, err := o.ProcessTurn(context.Background(), "sess-1", "conv-1", "hello")
	require.NoError(t, err)

	all := drain(t, events)
	var contentEvents int
	for _, e := range all {
		if e.Kind == EventContent {
			contentEvents++
			assert.Equal(t, "buffered reply", e.Content)
		}
	}
	assert.Equal(t, 1, contentEvents)
}
