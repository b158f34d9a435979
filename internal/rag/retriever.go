// Package rag implements the RAG Retriever: keyword-overlap scoring with a
// phrase boost over an in-memory knowledge corpus, truncated to a
// character budget so the assembled prompt stays bounded.
package rag

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/pkg/metrics"
)

const (
	weightTitle   = 3
	weightKeyword = 2
	weightContent = 1
	weightPhrase  = 2

	maxContentHits = 3
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]{3,}`)

// Doc is one corpus entry as surfaced to a caller, without its full content.
type Doc struct {
	ID       string
	Title    string
	Category string
}

// Result is the outcome of one retrieval query.
type Result struct {
	Docs         []Doc
	ContextBlock string
}

// Config configures a Retriever.
type Config struct {
	TopK             int
	TokenBudgetChars int
}

// Retriever scores a static corpus against a query using keyword overlap.
// The corpus is supplied per-call so callers can hold it behind their own
// cache/reload policy (see corpus.go).
type Retriever struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.RAGMetrics
}

// New builds a Retriever, defaulting TopK to 5 and TokenBudgetChars to 6000
// (~1500 tokens) when unset.
func New(cfg Config, logger *slog.Logger, m *metrics.RAGMetrics) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.TokenBudgetChars <= 0 {
		cfg.TokenBudgetChars = 6000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{cfg: cfg, logger: logger, metrics: m}
}

// Retrieve scores every doc in corpus against query and returns the top-k
// non-zero scoring documents, concatenated into contextBlock until the
// character budget is exhausted. Partial documents are never emitted.
func (r *Retriever) Retrieve(ctx context.Context, query string, corpus []domain.KnowledgeDoc) Result {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.QueryDuration.Observe(time.Since(start).Seconds())
			r.metrics.QueriesTotal.Inc()
		}
	}()

	queryTokens := tokenize(query)
	queryTrigrams := trigrams(strings.ToLower(query))

	type scored struct {
		doc   domain.KnowledgeDoc
		score float64
	}

	scoredDocs := make([]scored, 0, len(corpus))
	for _, doc := range corpus {
		s := score(queryTokens, queryTrigrams, doc)
		if s <= 0 {
			continue
		}
		scoredDocs = append(scoredDocs, scored{doc: doc, score: s})
	}

	sort.SliceStable(scoredDocs, func(i, j int) bool {
		if scoredDocs[i].score != scoredDocs[j].score {
			return scoredDocs[i].score > scoredDocs[j].score
		}
		return scoredDocs[i].doc.UpdatedAt.After(scoredDocs[j].doc.UpdatedAt)
	})

	if len(scoredDocs) > r.cfg.TopK {
		scoredDocs = scoredDocs[:r.cfg.TopK]
	}

	var result Result
	var sb strings.Builder
	for _, sd := range scoredDocs {
		block := formatDoc(sd.doc)
		if sb.Len()+len(block) > r.cfg.TokenBudgetChars {
			break
		}
		sb.WriteString(block)
		result.Docs = append(result.Docs, Doc{ID: sd.doc.ID, Title: sd.doc.Title, Category: sd.doc.Category})
	}
	result.ContextBlock = sb.String()

	if r.metrics != nil {
		r.metrics.DocsReturned.Observe(float64(len(result.Docs)))
	}
	return result
}

func formatDoc(doc domain.KnowledgeDoc) string {
	return "## " + doc.Title + "\n" + doc.Content + "\n\n"
}

func score(queryTokens map[string]int, queryTrigrams map[string]bool, doc domain.KnowledgeDoc) float64 {
	titleTokens := tokenSet(doc.Title)
	keywordSet := make(map[string]bool, len(doc.Keywords))
	for _, kw := range doc.Keywords {
		keywordSet[strings.ToLower(kw)] = true
	}
	contentLower := strings.ToLower(doc.Content)

	var total float64
	for token := range queryTokens {
		if titleTokens[token] {
			total += weightTitle
		}
		if keywordSet[token] {
			total += weightKeyword
		}
		hits := strings.Count(contentLower, token)
		if hits > maxContentHits {
			hits = maxContentHits
		}
		total += weightContent * float64(hits)
	}

	for trigram := range queryTrigrams {
		if strings.Contains(contentLower, trigram) {
			total += weightPhrase
			break
		}
	}

	return total
}

func tokenize(text string) map[string]int {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := make(map[string]int, len(tokens))
	for _, t := range tokens {
		out[t]++
	}
	return out
}

func tokenSet(text string) map[string]bool {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		out[t] = true
	}
	return out
}

// trigrams extracts every 3-rune substring of lower, keyed on itself, for
// the phrase-boost check.
func trigrams(lower string) map[string]bool {
	runes := []rune(lower)
	out := make(map[string]bool)
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])] = true
	}
	return out
}
