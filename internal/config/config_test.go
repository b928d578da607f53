package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christopherklint97/billr/internal/billing"
	"github.com/christopherklint97/billr/internal/rules"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Autopilot.IntervalSeconds)
	assert.Equal(t, 0.9, cfg.Autopilot.ConfidenceThreshold)
	assert.Equal(t, 750, cfg.Triage.DebounceMS)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	assert.False(t, cfg.Policy().AutopilotEnabled)
}

func TestLoadFrom_FileAndEnv(t *testing.T) {
	path := writeFile(t, "config.toml", `
[owner]
id = "alice"

[autopilot]
enabled = true
confidence_threshold = 0.95

[ai]
provider = "openai"
model = "gpt-4o"
`)
	t.Setenv("BILLR_OWNER_ID", "bob")
	t.Setenv("CLOCKIFY_API_KEY", "key-from-env")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.Owner.ID)
	assert.Equal(t, "key-from-env", cfg.Clockify.APIKey)
	assert.Equal(t, "sk-env", cfg.AI.APIKey)
	assert.Equal(t, "gpt-4o", cfg.AI.Model)
	assert.Equal(t, 30, cfg.Autopilot.IntervalSeconds, "unset keys keep defaults")

	p := cfg.Policy()
	assert.True(t, p.AutopilotEnabled)
	assert.Equal(t, 0.95, p.ConfidenceThreshold)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := map[string]string{
		"threshold too low":  "[autopilot]\nconfidence_threshold = 0.5\n",
		"threshold too high": "[autopilot]\nconfidence_threshold = 1.5\n",
		"zero interval":      "[autopilot]\ninterval_seconds = 0\n",
		"unknown provider":   "[ai]\nprovider = \"anthropic-api\"\n",
		"bad work day":       "[autopilot]\nwork_days = [0, 1]\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(writeFile(t, "config.toml", content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := LoadFrom(writeFile(t, "config.toml", "not = [toml"))
	assert.Error(t, err)
}

func TestSetValue_PreservesOtherSettings(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BILLR_CONFIG_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[owner]\nid = \"alice\"\n"), 0600))

	require.NoError(t, SetValue("autopilot", "enabled", true))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Owner.ID)
	assert.True(t, cfg.Autopilot.Enabled)
}

func TestLoadMatters(t *testing.T) {
	path := writeFile(t, "matters.toml", `
[[matter]]
name = "Acme Corp"
rate = 300

[[matter.rules]]
id = "ignore-rival"
conditions = [{ kind = "SENDER_DOMAIN_IS", value = "rivalfirm.com" }]
action = { kind = "IGNORE_SENDER_DOMAIN" }

[[matter.rules]]
id = "quarter"
conditions = [{ kind = "BODY_CONTAINS", value = "review" }, { kind = "SUBJECT_CONTAINS", value = "contract" }]
action = { kind = "ROUND_UP_HOURS", amount = 0.25 }

[[matter]]
name = "Globex"
rate = 250
`)
	matters, err := LoadMatters(path)
	require.NoError(t, err)
	require.Len(t, matters, 2)

	acme := matters[0]
	require.Len(t, acme.Rules, 2)
	assert.Equal(t, "ignore-rival", acme.Rules[0].ID)
	assert.Equal(t, billing.IgnoreSenderDomain, acme.Rules[0].Action.Kind)
	assert.Len(t, acme.Rules[1].Conditions, 2)
	assert.Equal(t, 0.25, acme.Rules[1].Action.Amount)
	assert.Empty(t, matters[1].Rules)
}

func TestLoadMatters_Rejects(t *testing.T) {
	_, err := LoadMatters(writeFile(t, "m.toml", `
[[matter]]
name = "Acme"
[[matter.rules]]
conditions = [{ kind = "FROM_MARS", value = "x" }]
action = { kind = "IGNORE_SENDER_DOMAIN" }
`))
	assert.ErrorIs(t, err, rules.ErrInvalidRule)

	_, err = LoadMatters(writeFile(t, "m.toml", "[[matter]]\nname = \"Acme\"\n[[matter]]\nname = \"acme\"\n"))
	assert.ErrorIs(t, err, rules.ErrInvalidRule)
}
