package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/christopherklint97/billr/internal/billing"
)

var ErrInvalidRule = errors.New("invalid billing rule")

// ValidateMatter checks that every rule uses known kinds. Numeric values
// are not range-checked: a non-positive amount is a no-op at apply time.
func ValidateMatter(m billing.Matter) error {
	if m.Name == "" {
		return fmt.Errorf("%w: matter has no name", ErrInvalidRule)
	}
	seen := make(map[string]bool)
	for i, r := range m.Rules {
		if r.ID != "" {
			if seen[r.ID] {
				return fmt.Errorf("%w: matter %q: duplicate rule id %q", ErrInvalidRule, m.Name, r.ID)
			}
			seen[r.ID] = true
		}
		if len(r.Conditions) == 0 {
			return fmt.Errorf("%w: matter %q rule %d: no conditions", ErrInvalidRule, m.Name, i)
		}
		for _, c := range r.Conditions {
			if !c.Kind.Valid() {
				return fmt.Errorf("%w: matter %q rule %d: unknown condition %q", ErrInvalidRule, m.Name, i, c.Kind)
			}
		}
		if !r.Action.Kind.Valid() {
			return fmt.Errorf("%w: matter %q rule %d: unknown action %q", ErrInvalidRule, m.Name, i, r.Action.Kind)
		}
	}
	return nil
}

// Describe renders a rule as "if <conditions> then <action>".
func Describe(r billing.BillingRule) string {
	conds := make([]string, len(r.Conditions))
	for i, c := range r.Conditions {
		conds[i] = fmt.Sprintf("%s %q", c.Kind, c.Value)
	}
	action := string(r.Action.Kind)
	switch r.Action.Kind {
	case billing.RoundUpHours, billing.SetFixedHours:
		action += fmt.Sprintf(" %g", r.Action.Amount)
	}
	return "if " + strings.Join(conds, " and ") + " then " + action
}
