// Package decision combines rule intent, AI confidence and the auto-pilot
// policy into a single routing decision.
package decision

import "github.com/christopherklint97/billr/internal/billing"

const (
	MinThreshold     = 0.7
	MaxThreshold     = 1.0
	DefaultThreshold = 0.9
)

// Policy is the caller-supplied auto-pilot configuration.
type Policy struct {
	AutopilotEnabled    bool
	ConfidenceThreshold float64
}

// Resolve applies, in order: rule IGNORE, rule AUTO_SYNC, confident
// auto-pilot (score >= threshold), otherwise STANDARD.
func Resolve(intent billing.Decision, preview billing.Preview, policy Policy) billing.Decision {
	switch intent {
	case billing.DecisionIgnore:
		return billing.DecisionIgnore
	case billing.DecisionAutoSync:
		return billing.DecisionAutoSync
	}
	if policy.AutopilotEnabled && preview.ConfidenceScore != nil &&
		*preview.ConfidenceScore >= policy.ConfidenceThreshold {
		return billing.DecisionAutoSync
	}
	return billing.DecisionStandard
}

// ClampThreshold forces a threshold into [MinThreshold, MaxThreshold].
func ClampThreshold(t float64) float64 {
	switch {
	case t < MinThreshold:
		return MinThreshold
	case t > MaxThreshold:
		return MaxThreshold
	}
	return t
}
