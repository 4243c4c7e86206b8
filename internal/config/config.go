package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Boundary is a per-agent path policy. Pattern is matched against an agent
// name as a glob; the wildcard pattern "*" is the fallback boundary applied
// when nothing more specific matches.
type Boundary struct {
	Pattern                string   `yaml:"pattern"`
	AllowedPaths           []string `yaml:"allowed_paths"`
	ForbiddenPaths         []string `yaml:"forbidden_paths"`
	Enforcement            string   `yaml:"enforcement"` // "advisory" | "strict"
	MaxToolCallsPerSession int      `yaml:"max_tool_calls_per_session"`
}

// ReviewRule names a glob whose match against an affected path triggers a
// gate_triggered audit event (displayed to operators as sensitive_needs_review).
type ReviewRule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// WebhookTarget is one operator-facing delivery endpoint.
type WebhookTarget struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"` // empty = all event types
}

// PluginEntry declares a loadable out-of-tree extension.
type PluginEntry struct {
	Module string            `yaml:"module"`
	Config map[string]string `yaml:"config"`
}

// TelemetryConfig controls the OpenTelemetry provider set up by lifecycle
// processes. Hook subprocesses never read this: they log only.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "otlp-http" | "stdout" | "none"
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Config is the parsed content of k6s.yaml plus derived, non-serialized
// fields filled in during Load.
type Config struct {
	ProjectDir string `yaml:"-"`

	ProjectName string `yaml:"project_name"`
	LogLevel    string `yaml:"log_level"`

	// SessionBudget bounds tool calls per session in the absence of a more
	// specific per-boundary max_tool_calls_per_session.
	SessionBudget int `yaml:"session_budget"`

	// RetentionDays controls how far back pruning keeps audit events and
	// their dependent rows. 0 means no retention (keep forever).
	RetentionDays int `yaml:"retention_days"`

	// RetentionSchedule is a 5-field cron expression governing when the
	// retention scheduler runs. Empty defaults to retention.DefaultSchedule.
	RetentionSchedule string `yaml:"retention_schedule"`

	Boundaries  []Boundary      `yaml:"boundaries"`
	ReviewRules []ReviewRule    `yaml:"review_rules"`
	Webhooks    []WebhookTarget `yaml:"webhooks"`
	Plugins     []PluginEntry   `yaml:"plugins"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`

	// StrictMode enables boundary-violation reversion process-wide; a
	// boundary's own enforcement value still governs whether it applies.
	StrictMode bool `yaml:"strict_mode"`
}

// Path returns the location of k6s.yaml within a project directory.
func Path(projectDir string) string {
	return filepath.Join(projectDir, "k6s.yaml")
}

// StateDir returns the .khoregos directory within a project, holding the
// database, signing key, daemon state flag, and log file.
func StateDir(projectDir string) string {
	return filepath.Join(projectDir, ".khoregos")
}

func defaultConfig() Config {
	return Config{
		LogLevel:      "info",
		SessionBudget: 500,
		RetentionDays: 90,
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Exporter: "none",
		},
	}
}

// Load reads and validates k6s.yaml from projectDir. A missing file yields
// the default configuration rather than an error: a project with no
// k6s.yaml still gets a working, boundary-less sidecar.
func Load(projectDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.ProjectDir = projectDir

	data, err := os.ReadFile(Path(projectDir))
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read k6s.yaml: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse k6s.yaml: %w", err)
	}
	cfg.ProjectDir = projectDir

	if err := validateFragments(data); err != nil {
		return cfg, err
	}

	normalize(&cfg)
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SessionBudget <= 0 {
		cfg.SessionBudget = 500
	}
	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = "none"
	}
	for i := range cfg.Boundaries {
		e := strings.ToLower(strings.TrimSpace(cfg.Boundaries[i].Enforcement))
		if e != "strict" {
			e = "advisory"
		}
		cfg.Boundaries[i].Enforcement = e
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("K6S_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("K6S_SESSION_BUDGET"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.SessionBudget = v
		}
	}
	if raw := os.Getenv("K6S_RETENTION_DAYS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.RetentionDays = v
		}
	}
	if raw := os.Getenv("K6S_STRICT_MODE"); raw != "" {
		cfg.StrictMode = raw == "1" || strings.EqualFold(raw, "true")
	}
	if raw := os.Getenv("K6S_OTEL_ENDPOINT"); raw != "" {
		cfg.Telemetry.Endpoint = raw
	}
}

// ConfigSnapshot returns a redacted copy of the raw config suitable for
// Session.config_snapshot: webhook secrets are replaced but everything else
// that shapes governance behavior is preserved for later audit review.
func (c Config) ConfigSnapshot() ([]byte, error) {
	redacted := c
	redacted.Webhooks = make([]WebhookTarget, len(c.Webhooks))
	for i, w := range c.Webhooks {
		redacted.Webhooks[i] = w
		if w.Secret != "" {
			redacted.Webhooks[i].Secret = "[REDACTED]"
		}
	}
	return yaml.Marshal(redacted)
}
