package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/christopherklint97/billr/internal/billing"
	"github.com/christopherklint97/billr/internal/decision"
	"github.com/christopherklint97/billr/internal/rules"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Owner         OwnerConfig     `toml:"owner"`
	Clockify      ClockifyConfig  `toml:"clockify"`
	Autopilot     AutopilotConfig `toml:"autopilot"`
	AI            AIConfig        `toml:"ai"`
	Sync          SyncConfig      `toml:"sync"`
	Notifications NotifyConfig    `toml:"notifications"`
	Calendar      CalendarConfig  `toml:"calendar"`
	MSGraph       GraphConfig     `toml:"msgraph"`
	Log           LogConfig       `toml:"log"`
	Triage        TriageConfig    `toml:"triage"`
}

type OwnerConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

type ClockifyConfig struct {
	APIKey      string `toml:"api_key"`
	WorkspaceID string `toml:"workspace_id"`
	BaseURL     string `toml:"base_url"`
}

type AutopilotConfig struct {
	Enabled             bool    `toml:"enabled"`
	IntervalSeconds     int     `toml:"interval_seconds"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	WorkStart           string  `toml:"work_start"`
	WorkEnd             string  `toml:"work_end"`
	WorkDays            []int   `toml:"work_days"`
	// LookbackHours bounds which cached emails each autopilot scan considers.
	LookbackHours int `toml:"lookback_hours"`
}

type AIConfig struct {
	Provider       string `toml:"provider"` // "claude-cli" or "openai"
	Model          string `toml:"model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type SyncConfig struct {
	Concurrency int `toml:"concurrency"`
}

type NotifyConfig struct {
	Enabled bool `toml:"enabled"`
}

type CalendarConfig struct {
	Enabled bool   `toml:"enabled"`
	Source  string `toml:"source"` // ICS URL or file path
}

type GraphConfig struct {
	ClientID string `toml:"client_id"`
	TenantID string `toml:"tenant_id"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug | info | warn | error
	Format string `toml:"format"` // text | json
}

type TriageConfig struct {
	DebounceMS int `toml:"debounce_ms"`
}

func DefaultConfig() Config {
	return Config{
		Owner: OwnerConfig{ID: "default"},
		Autopilot: AutopilotConfig{
			Enabled:             false,
			IntervalSeconds:     30,
			ConfidenceThreshold: decision.DefaultThreshold,
			WorkStart:           "08:00",
			WorkEnd:             "18:00",
			WorkDays:            []int{1, 2, 3, 4, 5},
			LookbackHours:       72,
		},
		AI: AIConfig{
			Provider:       "claude-cli",
			Model:          "sonnet",
			TimeoutSeconds: 120,
		},
		Sync:          SyncConfig{Concurrency: 4},
		Notifications: NotifyConfig{Enabled: true},
		Log:           LogConfig{Level: "info", Format: "text"},
		Triage:        TriageConfig{DebounceMS: 750},
	}
}

// Policy is the decision policy described by the autopilot section.
func (c *Config) Policy() decision.Policy {
	return decision.Policy{
		AutopilotEnabled:    c.Autopilot.Enabled,
		ConfidenceThreshold: decision.ClampThreshold(c.Autopilot.ConfidenceThreshold),
	}
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Owner.ID) == "" {
		errs = append(errs, errors.New("owner.id is empty"))
	}
	if t := c.Autopilot.ConfidenceThreshold; t < decision.MinThreshold || t > decision.MaxThreshold {
		errs = append(errs, fmt.Errorf("autopilot.confidence_threshold %.2f outside [%.1f, %.1f]",
			t, decision.MinThreshold, decision.MaxThreshold))
	}
	if c.Autopilot.IntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("autopilot.interval_seconds must be positive, got %d", c.Autopilot.IntervalSeconds))
	}
	switch c.AI.Provider {
	case "claude-cli", "openai":
	default:
		errs = append(errs, fmt.Errorf("ai.provider %q is not claude-cli or openai", c.AI.Provider))
	}
	if c.Sync.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("sync.concurrency must not be negative, got %d", c.Sync.Concurrency))
	}
	for _, d := range c.Autopilot.WorkDays {
		if d < 1 || d > 7 {
			errs = append(errs, fmt.Errorf("autopilot.work_days contains %d, want 1 (Mon) to 7 (Sun)", d))
			break
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func ConfigDir() (string, error) {
	if dir := os.Getenv("BILLR_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "billr"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads path over the defaults and applies env overrides. A
// missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if len(data) > 0 {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BILLR_OWNER_ID"); v != "" {
		cfg.Owner.ID = v
	}
	if v := os.Getenv("CLOCKIFY_API_KEY"); v != "" {
		cfg.Clockify.APIKey = v
	}
	if v := os.Getenv("CLOCKIFY_WORKSPACE_ID"); v != "" {
		cfg.Clockify.WorkspaceID = v
	}
	if v := os.Getenv("CLOCKIFY_BASE_URL"); v != "" {
		cfg.Clockify.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.AI.APIKey == "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("MSGRAPH_CLIENT_ID"); v != "" {
		cfg.MSGraph.ClientID = v
	}
	if v := os.Getenv("MSGRAPH_TENANT_ID"); v != "" {
		cfg.MSGraph.TenantID = v
	}
}

func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// SetValue persists section.key = value to the config file using a
// read-modify-write approach to preserve other settings.
func SetValue(section, key string, value any) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	cfg := make(map[string]any)

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}
	if len(data) > 0 {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	sec, ok := cfg[section].(map[string]any)
	if !ok {
		sec = make(map[string]any)
	}
	sec[key] = value
	cfg[section] = sec

	if err := EnsureConfigDir(); err != nil {
		return err
	}

	out, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, out, 0600)
}

type mattersFile struct {
	Matters []billing.Matter `toml:"matter"`
}

// LoadMatters reads a matters file:
//
//	[[matter]]
//	name = "Acme Corp"
//	rate = 300
//
//	[[matter.rules]]
//	id = "ignore-rival"
//	conditions = [{ kind = "SENDER_DOMAIN_IS", value = "rivalfirm.com" }]
//	action = { kind = "IGNORE_SENDER_DOMAIN" }
//
// Every matter is validated; rule order is kept as written.
func LoadMatters(path string) ([]billing.Matter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading matters file: %w", err)
	}
	var f mattersFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing matters file: %w", err)
	}
	seen := make(map[string]bool)
	for _, m := range f.Matters {
		if err := rules.ValidateMatter(m); err != nil {
			return nil, err
		}
		key := strings.ToLower(strings.TrimSpace(m.Name))
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate matter %q", rules.ErrInvalidRule, m.Name)
		}
		seen[key] = true
	}
	return f.Matters, nil
}
