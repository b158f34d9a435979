package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/pkg/metrics"
)

// CorpusRepository loads the raw knowledge corpus from storage.
type CorpusRepository interface {
	LoadKnowledgeDocs(ctx context.Context) ([]domain.KnowledgeDoc, error)
}

// ValidationError describes one invalid KnowledgeDoc rejected during a
// corpus load.
type ValidationError struct {
	DocID string
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("knowledge doc %s: %s: %s", e.DocID, e.Field, e.Msg)
}

// validateDoc checks the invariants a KnowledgeDoc must hold before it is
// eligible for retrieval: non-empty title and content. Keywords are not
// checked here; Refresh deduplicates them separately.
func validateDoc(doc domain.KnowledgeDoc) []ValidationError {
	var errs []ValidationError
	if strings.TrimSpace(doc.Title) == "" {
		errs = append(errs, ValidationError{DocID: doc.ID, Field: "title", Msg: "must not be empty"})
	}
	if strings.TrimSpace(doc.Content) == "" {
		errs = append(errs, ValidationError{DocID: doc.ID, Field: "content", Msg: "must not be empty"})
	}
	return errs
}

func dedupKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		lower := strings.ToLower(strings.TrimSpace(kw))
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
	}
	return out
}

// Corpus is an immutable, validated snapshot of the knowledge base.
type Corpus struct {
	Docs []domain.KnowledgeDoc
}

// corpusHolder atomically swaps the active Corpus under an RWMutex, the
// same pattern the configuration snapshot uses: many concurrent readers,
// one writer at a time, never a partially-updated view.
type corpusHolder struct {
	mu      sync.RWMutex
	current *Corpus
}

func (h *corpusHolder) Load() *Corpus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

func (h *corpusHolder) Store(c *Corpus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = c
}

// CorpusLoader validates and publishes KnowledgeDoc rows from storage as an
// immutable Corpus, invalidated on admin bulk-import.
type CorpusLoader struct {
	repo    CorpusRepository
	holder  corpusHolder
	logger  *slog.Logger
	metrics *metrics.RAGMetrics
}

// NewCorpusLoader builds a CorpusLoader with an empty corpus; call Refresh
// to populate it before first use.
func NewCorpusLoader(repo CorpusRepository, logger *slog.Logger, m *metrics.RAGMetrics) *CorpusLoader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &CorpusLoader{repo: repo, logger: logger, metrics: m}
	l.holder.Store(&Corpus{})
	return l
}

// Current returns the most recently published Corpus.
func (l *CorpusLoader) Current() *Corpus {
	return l.holder.Load()
}

// Refresh loads every KnowledgeDoc from storage, drops invalid rows (logging
// each rejection once), deduplicates keyword sets, and publishes the result
// as the new current Corpus.
func (l *CorpusLoader) Refresh(ctx context.Context) error {
	rows, err := l.repo.LoadKnowledgeDocs(ctx)
	if err != nil {
		return fmt.Errorf("load knowledge docs: %w", err)
	}

	valid := make([]domain.KnowledgeDoc, 0, len(rows))
	for _, doc := range rows {
		if errs := validateDoc(doc); len(errs) > 0 {
			for _, e := range errs {
				l.logger.Warn("rejected invalid knowledge doc", "doc_id", e.DocID, "field", e.Field, "reason", e.Msg)
			}
			continue
		}
		doc.Keywords = dedupKeywords(doc.Keywords)
		valid = append(valid, doc)
	}

	sort.SliceStable(valid, func(i, j int) bool { return valid[i].ID < valid[j].ID })

	l.holder.Store(&Corpus{Docs: valid})
	if l.metrics != nil {
		l.metrics.CorpusSize.Set(float64(len(valid)))
	}
	return nil
}

// Invalidate reloads the corpus from storage right away by calling Refresh
// and returns its error; it does not clear the currently published Corpus,
// which keeps serving if that reload fails.
func (l *CorpusLoader) Invalidate(ctx context.Context) error {
	return l.Refresh(ctx)
}
