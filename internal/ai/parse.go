package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/christopherklint97/billr/internal/billing"
)

// parseGrouping decodes a grouping response and drops ids the model
// invented or repeated across groups.
func parseGrouping(raw string, emails []billing.Email) ([]Group, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyResponse
	}

	var resp groupingResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("parsing grouping response: %w (raw: %s)", err, truncateStr(raw, 1000))
	}

	known := make(map[string]bool, len(emails))
	for _, e := range emails {
		known[e.ID] = true
	}
	used := make(map[string]bool)

	var groups []Group
	for _, g := range resp.Groups {
		var ids []string
		for _, id := range g.EmailIDs {
			if !known[id] || used[id] {
				continue
			}
			used[id] = true
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			continue
		}
		groups = append(groups, Group{EmailIDs: ids, Preview: g.Preview.toPreview()})
	}
	return groups, nil
}

func parseClassification(raw string) (*Classification, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyResponse
	}

	var resp classificationResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("parsing classification: %w (raw: %s)", err, truncateStr(raw, 1000))
	}

	c := &Classification{
		Status: ClassificationStatus(strings.ToUpper(strings.TrimSpace(resp.Status))),
		Reason: resp.Reason,
	}
	switch c.Status {
	case Billable:
		if resp.Preview == nil {
			return nil, fmt.Errorf("parsing classification: BILLABLE without preview")
		}
		p := resp.Preview.toPreview()
		c.Preview = &p
	case NotBillable, DuplicateSuspected:
		if c.Reason == "" {
			c.Reason = "no reason given"
		}
	default:
		return nil, fmt.Errorf("parsing classification: unknown status %q", resp.Status)
	}
	return c, nil
}

func parsePreview(raw string) (*billing.Preview, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyResponse
	}
	var payload previewPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("parsing preview: %w (raw: %s)", err, truncateStr(raw, 1000))
	}
	p := payload.toPreview()
	return &p, nil
}
