// Command rulecheck validates a YAML bundle of safety rules, moderation
// settings, and escalation settings before an operator pushes it through the
// admin API — so a bad regex, an out-of-range priority, or a response
// template referencing an unknown field is caught at the command line
// instead of surfacing as a 400 from a batch import.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/pkg/rulevalidator"
	"github.com/romanbabin/convogate/pkg/templatevalidator"
)

// bundle is the YAML shape an operator edits offline: a bulk export of the
// admin surface's three config collections.
type bundle struct {
	Rules      []domain.SafetyRule        `yaml:"rules"`
	Moderation []domain.ModerationSetting `yaml:"moderation"`
	Escalation []domain.EscalationSetting `yaml:"escalation"`
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rulecheck <file>",
	Short: "Validate a YAML bundle of safety rules, moderation settings, and escalation settings",
	Long: `Validate a YAML bundle of safety rules, moderation settings, and escalation
settings before an operator pushes it through the admin API — so a bad regex,
an out-of-range priority, or a response template referencing an unknown field
is caught at the command line instead of surfacing as a 400 from a batch
import.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var b bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	failures := 0
	for _, rule := range b.Rules {
		for _, e := range rulevalidator.ValidateRule(rule) {
			fmt.Printf("rule %q: %s\n", rule.ID, e)
			failures++
		}
	}
	for _, setting := range b.Moderation {
		for _, e := range rulevalidator.ValidateModerationSetting(setting) {
			fmt.Printf("moderation setting %q: %s\n", setting.Category, e)
			failures++
		}
	}
	for _, setting := range b.Escalation {
		for _, e := range rulevalidator.ValidateEscalationSetting(setting) {
			fmt.Printf("escalation setting %q: %s\n", setting.Category, e)
			failures++
		}
		if err := templatevalidator.Validate(setting.ResponseTemplate); err != nil {
			fmt.Printf("escalation setting %q: response_template: %v\n", setting.Category, err)
			failures++
		}
	}

	if failures > 0 {
		fmt.Printf("\n%d validation failure(s)\n", failures)
		os.Exit(1)
	}
	fmt.Printf("%s: %d rule(s), %d moderation setting(s), %d escalation setting(s) all valid\n",
		path, len(b.Rules), len(b.Moderation), len(b.Escalation))
	return nil
}
