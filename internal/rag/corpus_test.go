package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanbabin/convogate/internal/domain"
)

type fakeCorpusRepo struct {
	docs []domain.KnowledgeDoc
	err  error
}

func (f *fakeCorpusRepo) LoadKnowledgeDocs(ctx context.Context) ([]domain.KnowledgeDoc, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func TestCorpusLoader_Refresh_RejectsInvalidDocs(t *testing.T) {
	repo := &fakeCorpusRepo{docs: []domain.KnowledgeDoc{
		{ID: "good", Title: "Refund Policy", Content: "Refunds in five days."},
		{ID: "no-title", Title: "", Content: "has content"},
		{ID: "no-content", Title: "has title", Content: ""},
	}}
	loader := NewCorpusLoader(repo, nil, nil)
	require.NoError(t, loader.Refresh(context.Background()))

	docs := loader.Current().Docs
	require.Len(t, docs, 1)
	assert.Equal(t, "good", docs[0].ID)
}

func TestCorpusLoader_Refresh_DedupesKeywords(t *testing.T) {
	repo := &fakeCorpusRepo{docs: []domain.KnowledgeDoc{
		{ID: "1", Title: "T", Content: "C", Keywords: []string{"Refund", "refund", "REFUND ", "billing"}},
	}}
	loader := NewCorpusLoader(repo, nil, nil)
	require.NoError(t, loader.Refresh(context.Background()))

	docs := loader.Current().Docs
	require.Len(t, docs, 1)
	assert.ElementsMatch(t, []string{"refund", "billing"}, docs[0].Keywords)
}

func TestCorpusLoader_Refresh_KeepsPreviousCorpusOnFailure(t *testing.T) {
	repo := &fakeCorpusRepo{docs: []domain.KnowledgeDoc{{ID: "1", Title: "T", Content: "C"}}}
	loader := NewCorpusLoader(repo, nil, nil)
	require.NoError(t, loader.Refresh(context.Background()))

	repo.err = errors.New("db unreachable")
	err := loader.Refresh(context.Background())
	require.Error(t, err)

	docs := loader.Current().Docs
	require.Len(t, docs, 1, "a failed refresh must not clear the previously published corpus")
}

func TestCorpusLoader_Current_StartsEmptyBeforeFirstRefresh(t *testing.T) {
	loader := NewCorpusLoader(&fakeCorpusRepo{}, nil, nil)
	assert.Empty(t, loader.Current().Docs)
}
