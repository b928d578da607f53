// Package rules evaluates a matter's ordered billing rules against the
// emails behind a candidate entry and applies the winning rule's action.
//
// Everything here is pure: no I/O, no shared state.
package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/christopherklint97/billr/internal/billing"
)

// Outcome is the result of running the rules for one candidate.
type Outcome struct {
	Rule          *billing.BillingRule
	Preview       billing.Preview
	Justification string
	Intent        billing.Decision
}

// Matched reports whether a rule fired.
func (o Outcome) Matched() bool { return o.Rule != nil }

// Evaluate returns the first rule of the matter whose conditions all hold
// for the given emails, or nil. A condition holds if any one email satisfies it.
func Evaluate(matter billing.Matter, emails []billing.Email) *billing.BillingRule {
	if len(matter.Rules) == 0 || len(emails) == 0 {
		return nil
	}
	for i := range matter.Rules {
		rule := matter.Rules[i]
		if matchesRule(rule, emails) {
			return &rule
		}
	}
	return nil
}

// matchesRule is false for a rule without conditions; ValidateMatter rejects
// such rules on import.
func matchesRule(rule billing.BillingRule, emails []billing.Email) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for _, cond := range rule.Conditions {
		if !anyEmailMatches(cond, emails) {
			return false
		}
	}
	return true
}

func anyEmailMatches(cond billing.Condition, emails []billing.Email) bool {
	for _, e := range emails {
		if matchesCondition(cond, e) {
			return true
		}
	}
	return false
}

func matchesCondition(cond billing.Condition, e billing.Email) bool {
	want := strings.ToLower(strings.TrimSpace(cond.Value))
	switch cond.Kind {
	case billing.SenderDomainIs:
		want = strings.TrimPrefix(want, "@")
		return want != "" && SenderDomain(e.Sender) == want
	case billing.SubjectContains:
		return strings.Contains(strings.ToLower(e.Subject), want)
	case billing.BodyContains:
		return strings.Contains(strings.ToLower(e.Body), want)
	}
	return false
}

// SenderDomain extracts the lowercased domain from a sender such as
// "Bob <bob@example.com>", dropping the trailing '>'.
func SenderDomain(sender string) string {
	at := strings.LastIndex(sender, "@")
	if at < 0 {
		return ""
	}
	domain := strings.TrimSpace(sender[at+1:])
	domain = strings.TrimSuffix(domain, ">")
	return strings.ToLower(strings.TrimSpace(domain))
}

// Apply runs the rule's action on a copy of the preview.
func Apply(rule billing.BillingRule, preview billing.Preview) Outcome {
	out := preview.Clone()
	r := rule
	o := Outcome{Rule: &r, Intent: billing.DecisionStandard}

	switch rule.Action.Kind {
	case billing.IgnoreSenderDomain:
		o.Intent = billing.DecisionIgnore
		o.Justification = fmt.Sprintf("Rule %s applied: sender domain is ignored for this matter", ruleName(rule))
	case billing.AutoApproveSync:
		o.Intent = billing.DecisionAutoSync
		o.Justification = fmt.Sprintf("Rule %s applied: entry auto-approved for sync", ruleName(rule))
	case billing.RoundUpHours:
		inc := rule.Action.Amount
		if out.Hours != nil && inc > 0 {
			before := *out.Hours
			rounded := RoundUp(before, inc)
			out.Hours = &rounded
			o.Justification = fmt.Sprintf("Rule %s applied: hours rounded up from %.2f to %.2f (increment %.2f)",
				ruleName(rule), before, rounded, inc)
		}
	case billing.SetFixedHours:
		if v := rule.Action.Amount; v > 0 {
			out.Hours = billing.Float(v)
			o.Justification = fmt.Sprintf("Rule %s applied: hours fixed at %.2f", ruleName(rule), v)
		}
	}

	if o.Justification != "" {
		if out.Justification == nil {
			out.Justification = &billing.Justification{}
		}
		out.Justification.RuleApplied = o.Justification
	}
	o.Preview = out
	return o
}

// Run selects the preview's matter, evaluates its rules and applies the
// first match. Without a match the preview passes through with STANDARD intent.
func Run(matters []billing.Matter, emails []billing.Email, preview billing.Preview) Outcome {
	matter, ok := billing.FindMatter(matters, preview.Matter)
	if !ok {
		return Outcome{Preview: preview.Clone(), Intent: billing.DecisionStandard}
	}
	rule := Evaluate(matter, emails)
	if rule == nil {
		return Outcome{Preview: preview.Clone(), Intent: billing.DecisionStandard}
	}
	return Apply(*rule, preview)
}

// RoundUp returns ceil(hours/increment)*increment. Exact multiples are
// returned unchanged; float noise below 1e-9 increments is ignored.
func RoundUp(hours, increment float64) float64 {
	if increment <= 0 {
		return hours
	}
	steps := math.Ceil(hours/increment - 1e-9)
	return math.Round(steps*increment*1e6) / 1e6
}

func ruleName(rule billing.BillingRule) string {
	if rule.ID == "" {
		return "(unnamed)"
	}
	return fmt.Sprintf("%q", rule.ID)
}
