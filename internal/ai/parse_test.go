package ai

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christopherklint97/billr/internal/billing"
)

var testEmails = []billing.Email{
	{ID: "m1", Sender: "gc@acme.com", Subject: "Merger agreement", Body: "Please review section 4."},
	{ID: "m2", Sender: "gc@acme.com", Subject: "RE: Merger agreement", Body: "Also the schedules."},
	{ID: "m3", Sender: "news@lawweekly.com", Subject: "This week in law", Body: "..."},
}

func TestParseGrouping_DropsUnknownAndRepeatedIDs(t *testing.T) {
	raw := `{"groups":[
		{"email_ids":["m1","m2","ghost"],"preview":{"description":"Reviewed merger agreement","matter":"Acme Corp","hours":0.93,"confidence":0.97}},
		{"email_ids":["m2"],"preview":{"description":"dup","matter":"Acme Corp"}},
		{"email_ids":["m3"],"preview":{"description":"Newsletter","matter":"","confidence":1.7}}
	]}`

	groups, err := parseGrouping(raw, testEmails)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, []string{"m1", "m2"}, groups[0].EmailIDs)
	require.NotNil(t, groups[0].Preview.Hours)
	assert.Equal(t, 0.93, *groups[0].Preview.Hours)
	assert.Equal(t, 0.97, *groups[0].Preview.ConfidenceScore)

	assert.Equal(t, []string{"m3"}, groups[1].EmailIDs)
	assert.Equal(t, 1.0, *groups[1].Preview.ConfidenceScore, "confidence is clamped to [0,1]")
}

func TestParseGrouping_Errors(t *testing.T) {
	_, err := parseGrouping("  ", testEmails)
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = parseGrouping("not json", testEmails)
	assert.Error(t, err)
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		status  ClassificationStatus
		reason  string
		preview bool
		wantErr bool
	}{
		{"billable", `{"status":"BILLABLE","preview":{"description":"Drafted NDA","matter":"Acme Corp","hours":1.5}}`, Billable, "", true, false},
		{"not billable", `{"status":"not_billable","reason":"newsletter"}`, NotBillable, "newsletter", false, false},
		{"duplicate default reason", `{"status":"DUPLICATE_SUSPECTED"}`, DuplicateSuspected, "no reason given", false, false},
		{"billable without preview", `{"status":"BILLABLE"}`, "", "", false, true},
		{"unknown status", `{"status":"MAYBE"}`, "", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := parseClassification(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, c.Status)
			assert.Equal(t, tt.reason, c.Reason)
			assert.Equal(t, tt.preview, c.Preview != nil)
		})
	}
}

func TestParsePreview_Justification(t *testing.T) {
	p, err := parsePreview(`{"description":"Call with client","matter":"Acme Corp","justification":"phone call noted"}`)
	require.NoError(t, err)
	require.NotNil(t, p.Justification)
	assert.Equal(t, "phone call noted", p.Justification.Summary)
	assert.Nil(t, p.ConfidenceScore)
}

func TestSchemas(t *testing.T) {
	for name, s := range map[string]string{
		"grouping":       schemaString(groupingSchema()),
		"classification": schemaString(classificationSchema()),
		"preview":        schemaString(previewSchema()),
	} {
		t.Run(name, func(t *testing.T) {
			var decoded map[string]any
			require.NoError(t, json.Unmarshal([]byte(s), &decoded))
			assert.Equal(t, "object", decoded["type"])
			assert.Contains(t, decoded, "properties")
		})
	}
	assert.Contains(t, schemaString(classificationSchema()), "DUPLICATE_SUSPECTED")
}

func TestPickResult(t *testing.T) {
	out, ok := unwrapEnvelope([]byte(`{"type":"result","structured_output":{"groups":[]},"result":"ignored"}`))
	require.True(t, ok)
	assert.Equal(t, `{"groups":[]}`, out)

	out, ok = unwrapEnvelope([]byte(`{"type":"result","result":"{\"status\":\"BILLABLE\"}"}`))
	require.True(t, ok)
	assert.Equal(t, `{"status":"BILLABLE"}`, out)

	_, ok = unwrapEnvelope([]byte(`{"status":"BILLABLE"}`))
	assert.False(t, ok)
}

func TestContextSection(t *testing.T) {
	s := contextSection(billing.Context{
		Matters:     []string{"Acme Corp"},
		Corrections: []billing.Correction{{Original: "0.5h review", Corrected: "0.3h review"}},
		External:    []billing.ExternalEntry{{Matter: "Acme Corp", Description: "Call", Hours: 0.2}},
	})
	assert.Contains(t, s, `["Acme Corp"]`)
	assert.Contains(t, s, `corrected to "0.3h review"`)
	assert.Contains(t, s, "Acme Corp: Call (0.20h)")
}

func TestClaudeCLI_FakeBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake binary")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "claude")
	envelope := `{"type":"result","structured_output":{"status":"NOT_BILLABLE","reason":"marketing"}}`
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho '"+envelope+"'\n"), 0o755))

	cli := NewClaudeCLI("haiku", nil)
	cli.Binary = script

	c, err := cli.ClassifyEmail(context.Background(), ClassifyRequest{Email: testEmails[2]})
	require.NoError(t, err)
	assert.Equal(t, NotBillable, c.Status)
	assert.Equal(t, "marketing", c.Reason)
}
