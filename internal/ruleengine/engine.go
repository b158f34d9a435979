// Package ruleengine composes the Pattern Matcher, Moderation Client, and
// Escalation Detector into one Decision per the fixed resolution policy:
// the first satisfied step among block, moderation-block, escalation,
// pattern-escalate, warn, flag, allow wins, while every contributing fact
// is kept on the Decision for audit.
package ruleengine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/internal/escalation"
	"github.com/romanbabin/convogate/internal/moderation"
	"github.com/romanbabin/convogate/internal/patterns"
	"github.com/romanbabin/convogate/pkg/metrics"
)

// Engine evaluates text against a configuration snapshot using its three
// collaborators. It performs no I/O of its own beyond the Moderation Client
// call, so the same (text, snapshot) pair yields the same Decision.
type Engine struct {
	matcher    *patterns.Matcher
	moderation moderation.Provider
	escalation *escalation.Detector
	logger     *slog.Logger
	metrics    *metrics.PipelineMetrics
}

// New builds an Engine from its three collaborators. logger and m may be nil.
func New(matcher *patterns.Matcher, mod moderation.Provider, esc *escalation.Detector, logger *slog.Logger, m *metrics.PipelineMetrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{matcher: matcher, moderation: mod, escalation: esc, logger: logger, metrics: m}
}

// Pass identifies which Safety Pipeline stage invoked Evaluate, for metrics
// labeling only; it has no effect on the resolution policy.
type Pass string

const (
	PassPre  Pass = "pre"
	PassPost Pass = "post"
)

// Evaluate runs text through all three collaborators and resolves the
// result into a single Decision.
func (e *Engine) Evaluate(ctx context.Context, text string, snap *domain.Snapshot, pass Pass) domain.Decision {
	patternMatches := e.matcher.Match(ctx, text, snap)

	modScores, modFlags, moderationSkipped := e.runModeration(ctx, text, snap)

	escResult := e.escalation.Detect(text, snap)

	decision := resolve(patternMatches, modScores, modFlags, escResult, snap)
	decision.ModerationSkipped = moderationSkipped

	if e.metrics != nil {
		e.metrics.DecisionsTotal.WithLabelValues(string(decision.Kind), string(pass)).Inc()
	}
	return decision
}

func (e *Engine) runModeration(ctx context.Context, text string, snap *domain.Snapshot) (map[string]float64, map[string]bool, bool) {
	if e.moderation == nil {
		return nil, nil, true
	}
	result, err := e.moderation.Moderate(ctx, text)
	if err != nil {
		e.logger.Warn("moderation unavailable, continuing without it", "error", err)
		return nil, nil, true
	}
	return result.Scores, moderation.ApplyThresholds(result, snap), false
}

// resolve applies the seven-step policy. Steps are checked in order and the
// first one with a candidate wins; every reason collected along the way is
// still attached to the returned Decision.
func resolve(patternMatches []patterns.Match, modScores map[string]float64, modFlags map[string]bool, escResult escalation.Result, snap *domain.Snapshot) domain.Decision {
	var allReasons []domain.Reason

	// Step 1: any pattern match with action block.
	for _, m := range patternMatches {
		reason := domain.Reason{Source: "pattern", Category: m.Rule.Category, RuleID: m.Rule.ID, Text: m.MatchedText}
		allReasons = append(allReasons, reason)
		if m.Rule.Action == domain.ActionBlock {
			return domain.Block(m.Rule.Category, allReasons...)
		}
	}

	// Step 2: any moderation category flagged locally with action block.
	moderationReasons, blockCategory, blocked := moderationReasonsAndBlock(modScores, modFlags, snap)
	allReasons = append(allReasons, moderationReasons...)
	if blocked {
		return domain.Block(blockCategory, allReasons...)
	}

	// Step 3: Escalation Detector match.
	if escResult.Matched {
		escReason := domain.Reason{Source: "escalation", Category: escResult.Category, Text: joinTriggers(escResult.Triggers)}
		allReasons = append(allReasons, escReason)
		return domain.Escalate(escResult.Category, escResult.Urgency, escResult.ResponseTemplate, escResult.Triggers, allReasons...)
	}

	// Step 4: any pattern match with action escalate.
	for _, m := range patternMatches {
		if m.Rule.Action == domain.ActionEscalate {
			return domain.Escalate(m.Rule.Category, domain.UrgencyNormal, defaultEscalationTemplate, nil, allReasons...)
		}
	}

	// Step 5: any match (pattern or moderation) with action warn.
	if hasAction(patternMatches, domain.ActionWarn) || hasModerationAction(modFlags, snap, domain.ActionWarn) {
		return domain.Warn(allReasons...)
	}

	// Step 6: any match with action flag.
	if hasAction(patternMatches, domain.ActionFlag) || hasModerationAction(modFlags, snap, domain.ActionFlag) {
		return domain.Flag(allReasons...)
	}

	// Step 7: otherwise allow.
	return domain.Allow()
}

const defaultEscalationTemplate = "I've flagged this conversation for a member of our team to follow up with you."

func moderationReasonsAndBlock(scores map[string]float64, flags map[string]bool, snap *domain.Snapshot) ([]domain.Reason, string, bool) {
	var reasons []domain.Reason
	blockCategory := ""
	blocked := false

	for _, category := range sortedFlaggedCategories(flags) {
		setting, ok := snap.Moderation[category]
		if !ok {
			continue
		}
		reasons = append(reasons, domain.Reason{Source: "moderation", Category: category, Score: scores[category]})
		if setting.Action == domain.ActionBlock && !blocked {
			blocked = true
			blockCategory = category
		}
	}
	return reasons, blockCategory, blocked
}

// sortedFlaggedCategories returns the flagged categories in a fixed,
// alphabetical order so Evaluate's reason list and blockCategory choice
// don't depend on Go's randomized map iteration order.
func sortedFlaggedCategories(flags map[string]bool) []string {
	categories := make([]string, 0, len(flags))
	for category, flagged := range flags {
		if flagged {
			categories = append(categories, category)
		}
	}
	sort.Strings(categories)
	return categories
}

func hasAction(matches []patterns.Match, action domain.Action) bool {
	for _, m := range matches {
		if m.Rule.Action == action {
			return true
		}
	}
	return false
}

func hasModerationAction(flags map[string]bool, snap *domain.Snapshot, action domain.Action) bool {
	for category, flagged := range flags {
		if !flagged {
			continue
		}
		if setting, ok := snap.Moderation[category]; ok && setting.Action == action {
			return true
		}
	}
	return false
}

func joinTriggers(triggers []string) string {
	if len(triggers) == 0 {
		return ""
	}
	out := triggers[0]
	for _, t := range triggers[1:] {
		out += ", " + t
	}
	return out
}

// StageTimer records the duration of one Rule Engine evaluation against the
// pipeline's stage-duration histogram. Callers defer the returned func.
func StageTimer(m *metrics.PipelineMetrics, stage string) func() {
	start := time.Now()
	return func() {
		if m != nil {
			m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		}
	}
}
