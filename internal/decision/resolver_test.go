package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/christopherklint97/billr/internal/billing"
)

func TestResolve(t *testing.T) {
	conf := func(v float64) billing.Preview { return billing.Preview{ConfidenceScore: billing.Float(v)} }

	tests := []struct {
		name    string
		intent  billing.Decision
		preview billing.Preview
		policy  Policy
		want    billing.Decision
	}{
		{"ignore beats confidence", billing.DecisionIgnore, conf(1), Policy{true, 0.7}, billing.DecisionIgnore},
		{"rule auto sync without autopilot", billing.DecisionAutoSync, billing.Preview{}, Policy{false, 0.95}, billing.DecisionAutoSync},
		{"rule auto sync with low confidence", billing.DecisionAutoSync, conf(0.1), Policy{true, 0.95}, billing.DecisionAutoSync},
		{"threshold is inclusive", billing.DecisionStandard, conf(0.95), Policy{true, 0.95}, billing.DecisionAutoSync},
		{"just below threshold", billing.DecisionStandard, conf(0.9499999), Policy{true, 0.95}, billing.DecisionStandard},
		{"autopilot disabled", billing.DecisionStandard, conf(0.99), Policy{false, 0.9}, billing.DecisionStandard},
		{"missing confidence", billing.DecisionStandard, billing.Preview{}, Policy{true, 0.7}, billing.DecisionStandard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.intent, tt.preview, tt.policy))
		})
	}
}

func TestClampThreshold(t *testing.T) {
	assert.Equal(t, 0.7, ClampThreshold(0.2))
	assert.Equal(t, 1.0, ClampThreshold(3))
	assert.Equal(t, 0.85, ClampThreshold(0.85))
}
