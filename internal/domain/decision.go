package domain

// DecisionKind is the authoritative outcome of the Rule Engine for one piece
// of text.
type DecisionKind string

const (
	DecisionAllow    DecisionKind = "allow"
	DecisionWarn     DecisionKind = "warn"
	DecisionFlag     DecisionKind = "flag"
	DecisionEscalate DecisionKind = "escalate"
	DecisionBlock    DecisionKind = "block"
)

// Reason is a single contributing fact behind a Decision. The Rule Engine
// keeps every reason for audit even though only the dominant Kind controls
// downstream behavior.
type Reason struct {
	Source   string // "pattern", "moderation", "escalation"
	Category string
	RuleID   string
	Score    float64
	Text     string // matched text / triggered keyword
}

// Decision is the Rule Engine's verdict, modeled as a tagged union: exactly
// one of the Escalation/Block-specific fields is meaningful, selected by
// Kind. Decision is immutable and side-effect free to construct.
type Decision struct {
	Kind    DecisionKind
	Reasons []Reason

	// Populated when Kind == DecisionBlock.
	BlockCategory string

	// Populated when Kind == DecisionEscalate.
	EscalationCategory string
	Urgency            Urgency
	ResponseTemplate   string
	Triggers           []string

	// ModerationSkipped is set when the Moderation Client was unavailable
	// and the engine continued without that layer.
	ModerationSkipped bool
}

// Allow builds the permissive terminal decision.
func Allow() Decision {
	return Decision{Kind: DecisionAllow}
}

// Block builds a blocking decision attributing it to category, carrying
// reasons for audit.
func Block(category string, reasons ...Reason) Decision {
	return Decision{Kind: DecisionBlock, BlockCategory: category, Reasons: reasons}
}

// Escalate builds an escalation decision with its canned response template.
func Escalate(category string, urgency Urgency, template string, triggers []string, reasons ...Reason) Decision {
	return Decision{
		Kind:               DecisionEscalate,
		EscalationCategory: category,
		Urgency:            urgency,
		ResponseTemplate:   template,
		Triggers:           triggers,
		Reasons:            reasons,
	}
}

// Warn builds a non-blocking warn decision carrying its reasons.
func Warn(reasons ...Reason) Decision {
	return Decision{Kind: DecisionWarn, Reasons: reasons}
}

// Flag builds a non-blocking flag decision carrying its reasons.
func Flag(reasons ...Reason) Decision {
	return Decision{Kind: DecisionFlag, Reasons: reasons}
}

// IsTerminal reports whether the decision short-circuits generation
// (Block or Escalate never reach the LLM).
func (d Decision) IsTerminal() bool {
	return d.Kind == DecisionBlock || d.Kind == DecisionEscalate
}
