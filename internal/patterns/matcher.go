// Package patterns implements the Pattern Matcher: a compiled,
// case-insensitive regex set evaluated over the current configuration
// snapshot's enabled regex_pattern rules.
package patterns

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/pkg/metrics"
)

// Match is one rule that matched normalized text.
type Match struct {
	Rule        domain.SafetyRule
	MatchedText string
	Offset      int
}

// Matcher evaluates enabled regex_pattern rules against text, caching
// compiled patterns and guarding against catastrophic backtracking.
type Matcher struct {
	cacheMaxSize int
	matchBudget  time.Duration
	logger       *slog.Logger
	metrics      *metrics.PatternMatcherMetrics

	mu            sync.RWMutex
	compiled      *lru.Cache[string, *regexp.Regexp] // keyed by rule ID + "\x00" + pattern
	disabledRules map[string]bool                    // rule IDs disabled for the process lifetime (ReDoS or compile failure)
}

// Config configures a Matcher.
type Config struct {
	CacheMaxSize int
	MatchBudget  time.Duration // per-rule time budget before a match is aborted (ReDoS guard)
}

// New builds a Matcher. logger and m may be nil.
func New(cfg Config, logger *slog.Logger, m *metrics.PatternMatcherMetrics) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheMaxSize <= 0 {
		cfg.CacheMaxSize = 1000
	}
	if cfg.MatchBudget <= 0 {
		cfg.MatchBudget = 50 * time.Millisecond
	}
	compiled, err := lru.New[string, *regexp.Regexp](cfg.CacheMaxSize)
	if err != nil {
		// Only returns an error for a non-positive size, already guarded above.
		logger.Warn("pattern cache falling back to size 1000", "error", err)
		compiled, _ = lru.New[string, *regexp.Regexp](1000)
	}
	return &Matcher{
		cacheMaxSize:  cfg.CacheMaxSize,
		matchBudget:   cfg.MatchBudget,
		logger:        logger,
		metrics:       m,
		compiled:      compiled,
		disabledRules: make(map[string]bool),
	}
}

// Match evaluates every enabled regex_pattern rule in snap against text,
// returning matches sorted by rule priority descending, rule ID ascending.
// A rule that fails to compile, or whose single-pattern match exceeds the
// configured time budget, is disabled for the remainder of the process
// lifetime and skipped on subsequent calls.
func (m *Matcher) Match(ctx context.Context, text string, snap *domain.Snapshot) []Match {
	start := time.Now()
	defer func() {
		if m.metrics != nil {
			m.metrics.MatchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	var matches []Match
	for _, rule := range snap.EnabledRules() {
		if rule.Type != domain.RuleTypeRegexPattern {
			continue
		}
		if m.isDisabled(rule.ID) {
			continue
		}

		re, ok := m.compileCached(rule)
		if !ok {
			continue
		}

		loc, matched := m.matchWithBudget(re, text, rule.ID)
		if m.metrics != nil {
			label := "false"
			if matched {
				label = "true"
			}
			m.metrics.MatchesTotal.WithLabelValues(label).Inc()
		}
		if !matched {
			continue
		}
		matches = append(matches, Match{
			Rule:        rule,
			MatchedText: text[loc[0]:loc[1]],
			Offset:      loc[0],
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Rule.Priority != matches[j].Rule.Priority {
			return matches[i].Rule.Priority > matches[j].Rule.Priority
		}
		return matches[i].Rule.ID < matches[j].Rule.ID
	})
	return matches
}

// compileCached returns the compiled, case-insensitive regexp for rule,
// compiling and caching it on first use. Returns ok=false if the pattern
// fails to compile, disabling the rule with a one-shot warning.
func (m *Matcher) compileCached(rule domain.SafetyRule) (*regexp.Regexp, bool) {
	key := rule.ID + "\x00" + rule.Value

	if re, ok := m.compiled.Get(key); ok {
		if m.metrics != nil {
			m.metrics.CacheOperations.WithLabelValues("hit").Inc()
		}
		return re, true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if re, ok := m.compiled.Get(key); ok {
		return re, true
	}

	pattern := rule.Value
	if len(pattern) < 4 || pattern[:4] != "(?i)" {
		pattern = "(?i)" + pattern
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		m.logger.Warn("pattern rule disabled: failed to compile", "rule_id", rule.ID, "error", err)
		m.disabledRules[rule.ID] = true
		return nil, false
	}

	m.compiled.Add(key, compiled)
	if m.metrics != nil {
		m.metrics.CacheOperations.WithLabelValues("miss").Inc()
	}
	return compiled, true
}

// matchWithBudget runs re against text on a separate goroutine and aborts
// (disabling the rule for the process lifetime) if it exceeds the configured
// time budget — the ReDoS guard. The abandoned goroutine is left to finish on
// its own; Go has no way to preempt a running regexp match.
func (m *Matcher) matchWithBudget(re *regexp.Regexp, text, ruleID string) ([]int, bool) {
	type result struct {
		loc []int
	}
	done := make(chan result, 1)
	go func() {
		done <- result{loc: re.FindStringIndex(text)}
	}()

	select {
	case r := <-done:
		return r.loc, r.loc != nil
	case <-time.After(m.matchBudget):
		m.logger.Warn("pattern rule disabled: exceeded match time budget", "rule_id", ruleID, "budget", m.matchBudget)
		m.mu.Lock()
		m.disabledRules[ruleID] = true
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RulesDisabled.Inc()
		}
		return nil, false
	}
}

func (m *Matcher) isDisabled(ruleID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disabledRules[ruleID]
}
