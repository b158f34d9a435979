// Package rulevalidator validates SafetyRule, ModerationSetting, and
// EscalationSetting rows before the admin surface persists them, so a bad
// regex or an empty keyword set never reaches the Config Store cache.
package rulevalidator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/romanbabin/convogate/internal/domain"
)

// ValidationError is one field-level validation failure.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidateRule checks a SafetyRule's invariants: non-empty category/value,
// a priority in a sane range, and a compilable pattern for regex rules.
func ValidateRule(rule domain.SafetyRule) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(rule.Category) == "" {
		errs = append(errs, ValidationError{"category", "must not be empty"})
	}
	if strings.TrimSpace(rule.Value) == "" {
		errs = append(errs, ValidationError{"value", "must not be empty"})
	}
	if rule.Priority < 0 || rule.Priority > 1000 {
		errs = append(errs, ValidationError{"priority", "must be between 0 and 1000"})
	}
	switch rule.Action {
	case domain.ActionBlock, domain.ActionEscalate, domain.ActionFlag, domain.ActionWarn:
	default:
		errs = append(errs, ValidationError{"action", "must be one of block, escalate, flag, warn"})
	}

	if rule.Type == domain.RuleTypeRegexPattern && strings.TrimSpace(rule.Value) != "" {
		if _, err := regexp.Compile(rule.Value); err != nil {
			errs = append(errs, ValidationError{"value", "does not compile as a regular expression: " + err.Error()})
		}
	}

	return errs
}

// ValidateModerationSetting checks a ModerationSetting's invariants: a
// threshold within [0, 1] and a non-empty category.
func ValidateModerationSetting(s domain.ModerationSetting) []ValidationError {
	var errs []ValidationError
	if strings.TrimSpace(s.Category) == "" {
		errs = append(errs, ValidationError{"category", "must not be empty"})
	}
	if s.Threshold < 0 || s.Threshold > 1 {
		errs = append(errs, ValidationError{"threshold", "must be between 0 and 1"})
	}
	return errs
}

// ValidateEscalationSetting checks an EscalationSetting's invariants: a
// non-empty category, at least one keyword, and a priority in range.
func ValidateEscalationSetting(s domain.EscalationSetting) []ValidationError {
	var errs []ValidationError
	if strings.TrimSpace(s.Category) == "" {
		errs = append(errs, ValidationError{"category", "must not be empty"})
	}
	if len(s.Keywords) == 0 {
		errs = append(errs, ValidationError{"keywords", "must contain at least one keyword"})
	}
	if s.Priority < 0 || s.Priority > 1000 {
		errs = append(errs, ValidationError{"priority", "must be between 0 and 1000"})
	}
	return errs
}
