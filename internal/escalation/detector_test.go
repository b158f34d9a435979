package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/romanbabin/convogate/internal/domain"
)

func TestDetector_FirstMatchingCategoryByPriorityWins(t *testing.T) {
	d := New()
	snap := &domain.Snapshot{
		Escalation: []domain.EscalationSetting{
			{Category: "crisis", Enabled: true, Keywords: []string{"end my life"}, ResponseTemplate: "crisis template", Priority: 100},
			{Category: "complaint", Enabled: true, Keywords: []string{"unacceptable"}, ResponseTemplate: "complaint template", Priority: 50},
		},
	}

	result := d.Detect("This is unacceptable and I want to end my life", snap)
	assert.True(t, result.Matched)
	assert.Equal(t, "crisis", result.Category)
	assert.Equal(t, domain.UrgencyCritical, result.Urgency)
	assert.Equal(t, "crisis template", result.ResponseTemplate)
}

func TestDetector_NoMatch(t *testing.T) {
	d := New()
	snap := &domain.Snapshot{
		Escalation: []domain.EscalationSetting{
			{Category: "crisis", Enabled: true, Keywords: []string{"end my life"}, Priority: 100},
		},
	}
	result := d.Detect("What's the weather like today?", snap)
	assert.False(t, result.Matched)
}

func TestDetector_CaseInsensitiveSubstringMatch(t *testing.T) {
	d := New()
	snap := &domain.Snapshot{
		Escalation: []domain.EscalationSetting{
			{Category: "legal", Enabled: true, Keywords: []string{"my lawyer"}, Priority: 80},
		},
	}
	result := d.Detect("I already spoke to MY LAWYER about this", snap)
	assert.True(t, result.Matched)
	assert.Equal(t, "legal", result.Category)
}

func TestDetector_SkipsDisabledCategories(t *testing.T) {
	d := New()
	snap := &domain.Snapshot{
		Escalation: []domain.EscalationSetting{
			{Category: "crisis", Enabled: false, Keywords: []string{"end my life"}, Priority: 100},
		},
	}
	result := d.Detect("I want to end my life", snap)
	assert.False(t, result.Matched)
}

func TestDetector_CollectsAllMatchingTriggers(t *testing.T) {
	d := New()
	snap := &domain.Snapshot{
		Escalation: []domain.EscalationSetting{
			{Category: "complaint", Enabled: true, Keywords: []string{"unacceptable", "terrible service"}, Priority: 50},
		},
	}
	result := d.Detect("This is unacceptable, terrible service all around", snap)
	assert.True(t, result.Matched)
	assert.ElementsMatch(t, []string{"unacceptable", "terrible service"}, result.Triggers)
}

func TestUrgency(t *testing.T) {
	cases := map[string]domain.Urgency{
		"crisis":    domain.UrgencyCritical,
		"legal":     domain.UrgencyHigh,
		"complaint": domain.UrgencyMedium,
		"sentiment": domain.UrgencyMedium,
		"other":     domain.UrgencyNormal,
	}
	for category, want := range cases {
		assert.Equal(t, want, Urgency(category), category)
	}
}
