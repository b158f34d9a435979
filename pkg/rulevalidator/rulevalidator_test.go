package rulevalidator

import (
	"testing"

	"github.com/romanbabin/convogate/internal/domain"
)

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name    string
		rule    domain.SafetyRule
		wantErr bool
	}{
		{
			name: "valid keyword rule",
			rule: domain.SafetyRule{
				Category: "self_harm", Value: "hurt myself",
				Action: domain.ActionBlock, Priority: 100,
			},
			wantErr: false,
		},
		{
			name: "empty category",
			rule: domain.SafetyRule{
				Value: "x", Action: domain.ActionWarn, Priority: 10,
			},
			wantErr: true,
		},
		{
			name: "empty value",
			rule: domain.SafetyRule{
				Category: "x", Action: domain.ActionWarn, Priority: 10,
			},
			wantErr: true,
		},
		{
			name: "priority out of range",
			rule: domain.SafetyRule{
				Category: "x", Value: "y", Action: domain.ActionWarn, Priority: -1,
			},
			wantErr: true,
		},
		{
			name: "unknown action",
			rule: domain.SafetyRule{
				Category: "x", Value: "y", Action: domain.Action("delete"), Priority: 10,
			},
			wantErr: true,
		},
		{
			name: "invalid regex",
			rule: domain.SafetyRule{
				Type: domain.RuleTypeRegexPattern, Category: "x", Value: "(unclosed",
				Action: domain.ActionFlag, Priority: 10,
			},
			wantErr: true,
		},
		{
			name: "valid regex",
			rule: domain.SafetyRule{
				Type: domain.RuleTypeRegexPattern, Category: "x", Value: "^hello.*world$",
				Action: domain.ActionFlag, Priority: 10,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateRule(tt.rule)
			if (len(errs) > 0) != tt.wantErr {
				t.Errorf("ValidateRule() errs = %v, wantErr %v", errs, tt.wantErr)
			}
		})
	}
}

func TestValidateModerationSetting(t *testing.T) {
	tests := []struct {
		name    string
		setting domain.ModerationSetting
		wantErr bool
	}{
		{name: "valid", setting: domain.ModerationSetting{Category: "violence", Threshold: 0.5}, wantErr: false},
		{name: "empty category", setting: domain.ModerationSetting{Threshold: 0.5}, wantErr: true},
		{name: "threshold too high", setting: domain.ModerationSetting{Category: "violence", Threshold: 1.5}, wantErr: true},
		{name: "threshold negative", setting: domain.ModerationSetting{Category: "violence", Threshold: -0.1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateModerationSetting(tt.setting)
			if (len(errs) > 0) != tt.wantErr {
				t.Errorf("ValidateModerationSetting() errs = %v, wantErr %v", errs, tt.wantErr)
			}
		})
	}
}

func TestValidateEscalationSetting(t *testing.T) {
	tests := []struct {
		name    string
		setting domain.EscalationSetting
		wantErr bool
	}{
		{
			name:    "valid",
			setting: domain.EscalationSetting{Category: "crisis", Keywords: []string{"help"}, Priority: 100},
			wantErr: false,
		},
		{
			name:    "no keywords",
			setting: domain.EscalationSetting{Category: "crisis", Priority: 100},
			wantErr: true,
		},
		{
			name:    "priority out of range",
			setting: domain.EscalationSetting{Category: "crisis", Keywords: []string{"help"}, Priority: 5000},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateEscalationSetting(tt.setting)
			if (len(errs) > 0) != tt.wantErr {
				t.Errorf("ValidateEscalationSetting() errs = %v, wantErr %v", errs, tt.wantErr)
			}
		})
	}
}
