package rules

import (
	"strconv"
	"time"

	"github.com/romanbabin/convogate/internal/domain"
)

// defaultInjectionPatterns seeds the built-in "injection" SafetyRule. Drawn
// from known prompt-injection phrasing: instruction override, role
// hijacking, and system-prompt extraction attempts.
var defaultInjectionPatterns = []string{
	`(?i)ignore (all|your|the above|prior) (previous )?instructions`,
	`(?i)disregard (your|the above|previous) instructions`,
	`(?i)forget (all|your|everything above) (previous )?instructions`,
	`(?i)(reveal|show|print|output|display) (me )?your (system prompt|instructions|configuration)`,
	`(?i)you are now (in )?(developer|debug) mode`,
	`(?i)\bdan mode\b|\bjailbreak\b`,
	`(?i)^\s*(system|assistant)\s*:`,
}

// DefaultSnapshot returns the built-in configuration served when persistence
// is unreachable and fallback_to_defaults is enabled. It is intentionally
// conservative: the injection rule blocks, and the four baseline escalation
// categories (crisis, legal, complaint, sentiment) are always present.
func DefaultSnapshot() *domain.Snapshot {
	now := time.Now()

	rules := make([]domain.SafetyRule, 0, len(defaultInjectionPatterns))
	for i, pattern := range defaultInjectionPatterns {
		rules = append(rules, domain.SafetyRule{
			ID:          "default-injection-" + strconv.Itoa(i),
			Type:        domain.RuleTypeRegexPattern,
			Category:    "injection",
			Value:       pattern,
			Action:      domain.ActionBlock,
			Priority:    100,
			Enabled:     true,
			Description: "built-in prompt-injection guard",
		})
	}

	moderation := map[string]domain.ModerationSetting{
		"self-harm/intent":  {Category: "self-harm/intent", Enabled: true, Threshold: 0.3, Action: domain.ActionBlock},
		"violence/threat":   {Category: "violence/threat", Enabled: true, Threshold: 0.5, Action: domain.ActionBlock},
		"hate":              {Category: "hate", Enabled: true, Threshold: 0.6, Action: domain.ActionFlag},
		"sexual/minors":     {Category: "sexual/minors", Enabled: true, Threshold: 0.1, Action: domain.ActionBlock},
		"harassment":        {Category: "harassment", Enabled: true, Threshold: 0.6, Action: domain.ActionWarn},
	}

	escalation := []domain.EscalationSetting{
		{
			Category:         "crisis",
			Enabled:          true,
			Keywords:         []string{"end my life", "kill myself", "suicide", "want to die"},
			ResponseTemplate: "I'm really concerned about what you're going through. Please reach out to a crisis line right now — in the US, call or text 988 to reach the Suicide & Crisis Lifeline. You don't have to face this alone.",
			Priority:         100,
		},
		{
			Category:         "legal",
			Enabled:          true,
			Keywords:         []string{"lawsuit", "sue you", "my lawyer", "legal action"},
			ResponseTemplate: "I understand this is a serious matter. I'm not able to provide legal advice, and I've flagged this conversation for a member of our team to follow up with you directly.",
			Priority:         80,
		},
		{
			Category:         "complaint",
			Enabled:          true,
			Keywords:         []string{"unacceptable", "file a complaint", "terrible service", "demand a refund"},
			ResponseTemplate: "I'm sorry you've had this experience. I've escalated your message to our support team so a person can follow up with you directly.",
			Priority:         50,
		},
		{
			Category:         "sentiment",
			Enabled:          true,
			Keywords:         []string{"extremely frustrated", "absolutely furious", "done with this"},
			ResponseTemplate: "I can hear how frustrated you are, and I want to make sure this gets the attention it deserves. I've passed this along to our team.",
			Priority:         30,
		},
	}

	system := map[string]domain.SystemSetting{
		"streaming_mode": {Key: "streaming_mode", Value: []byte(`"interleaved"`), Description: "interleaved or buffered post-check delivery"},
	}

	return &domain.Snapshot{
		Version:    0,
		LoadedAt:   now,
		Rules:      rules,
		Moderation: moderation,
		Escalation: escalation,
		System:     system,
		Degraded:   true,
	}
}

