package rag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanbabin/convogate/internal/domain"
)

func TestRetrieve_ScoresTitleKeywordAndContentMatches(t *testing.T) {
	r := New(Config{TopK: 5, TokenBudgetChars: 10000}, nil, nil)
	corpus := []domain.KnowledgeDoc{
		{ID: "1", Title: "Refund Policy", Content: "Refunds are processed within five business days.", Keywords: []string{"refund"}, UpdatedAt: time.Now()},
		{ID: "2", Title: "Weather Forecast", Content: "It will rain tomorrow.", UpdatedAt: time.Now()},
	}

	result := r.Retrieve(context.Background(), "how do refunds work", corpus)
	require.Len(t, result.Docs, 1)
	assert.Equal(t, "1", result.Docs[0].ID)
}

func TestRetrieve_DiscardsZeroScoreDocs(t *testing.T) {
	r := New(Config{}, nil, nil)
	corpus := []domain.KnowledgeDoc{
		{ID: "1", Title: "Totally Unrelated", Content: "Nothing in common here at all."},
	}
	result := r.Retrieve(context.Background(), "refund policy", corpus)
	assert.Empty(t, result.Docs)
}

func TestRetrieve_SortsByScoreDescThenUpdatedAtDesc(t *testing.T) {
	r := New(Config{TopK: 5, TokenBudgetChars: 10000}, nil, nil)
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	corpus := []domain.KnowledgeDoc{
		{ID: "older", Title: "Refund", Content: "refund refund refund", UpdatedAt: older},
		{ID: "newer", Title: "Refund", Content: "refund refund refund", UpdatedAt: newer},
	}
	result := r.Retrieve(context.Background(), "refund", corpus)
	require.Len(t, result.Docs, 2)
	assert.Equal(t, "newer", result.Docs[0].ID, "equal score ties break on updatedAt desc")
}

func TestRetrieve_TruncatesToTopK(t *testing.T) {
	r := New(Config{TopK: 1, TokenBudgetChars: 10000}, nil, nil)
	corpus := []domain.KnowledgeDoc{
		{ID: "1", Title: "Refund", Content: "refund refund refund"},
		{ID: "2", Title: "Refund", Content: "refund refund"},
	}
	result := r.Retrieve(context.Background(), "refund", corpus)
	assert.Len(t, result.Docs, 1)
}

func TestRetrieve_StopsBeforeExceedingCharBudgetWithoutPartialDocs(t *testing.T) {
	r := New(Config{TopK: 5, TokenBudgetChars: 40}, nil, nil)
	corpus := []domain.KnowledgeDoc{
		{ID: "1", Title: "Refund", Content: "refund policy text that is reasonably long"},
		{ID: "2", Title: "Refund Two", Content: "refund policy text that is also long"},
	}
	result := r.Retrieve(context.Background(), "refund", corpus)
	assert.LessOrEqual(t, len(result.ContextBlock), 40+len("## Refund\n\n\n"))
	assert.True(t, len(result.Docs) <= 1, "a doc that would exceed the budget must not be partially emitted")
}

func TestRetrieve_PhraseBoostFromTrigramMatch(t *testing.T) {
	r := New(Config{TopK: 5, TokenBudgetChars: 10000}, nil, nil)
	corpus := []domain.KnowledgeDoc{
		{ID: "1", Title: "Doc One", Content: "please contact our legal team for details"},
		{ID: "2", Title: "Doc Two", Content: "xyz unrelated filler words here"},
	}
	result := r.Retrieve(context.Background(), "legal team", corpus)
	require.NotEmpty(t, result.Docs)
	assert.Equal(t, "1", result.Docs[0].ID)
}
