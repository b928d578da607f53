package ai

import "github.com/christopherklint97/billr/internal/billing"

// Wire payloads the model fills in. The JSON schemas sent to the model
// are reflected from these types.

type previewPayload struct {
	Description             string   `json:"description" jsonschema:"description=Professional billing narrative for the work performed"`
	Matter                  string   `json:"matter" jsonschema:"description=Exact matter name from the provided list"`
	Hours                   *float64 `json:"hours,omitempty" jsonschema:"description=Suggested billable hours,minimum=0"`
	ActionItems             []string `json:"action_items,omitempty"`
	Breakdown               string   `json:"breakdown,omitempty" jsonschema:"description=Task-by-task time breakdown"`
	Confidence              *float64 `json:"confidence,omitempty" jsonschema:"minimum=0,maximum=1"`
	ConfidenceJustification string   `json:"confidence_justification,omitempty"`
	Justification           string   `json:"justification,omitempty"`
}

type groupPayload struct {
	EmailIDs []string       `json:"email_ids" jsonschema:"minItems=1"`
	Preview  previewPayload `json:"preview"`
}

type groupingResponse struct {
	Groups []groupPayload `json:"groups"`
}

type classificationResponse struct {
	Status  string          `json:"status" jsonschema:"enum=BILLABLE,enum=NOT_BILLABLE,enum=DUPLICATE_SUSPECTED"`
	Reason  string          `json:"reason,omitempty"`
	Preview *previewPayload `json:"preview,omitempty"`
}

func (p previewPayload) toPreview() billing.Preview {
	out := billing.Preview{
		Description:             p.Description,
		Matter:                  p.Matter,
		Hours:                   p.Hours,
		ActionItems:             p.ActionItems,
		Breakdown:               p.Breakdown,
		ConfidenceJustification: p.ConfidenceJustification,
	}
	if p.Confidence != nil {
		c := *p.Confidence
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		out.ConfidenceScore = &c
	}
	if p.Justification != "" {
		out.Justification = &billing.Justification{Summary: p.Justification}
	}
	return out
}
