// Package config handles loading and validating diskmon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} placeholders in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ErrConfigFileNotFound is returned by Load when the specified config file does not exist.
var ErrConfigFileNotFound = errors.New("config file not found")

// Config is the top-level diskmon configuration.
type Config struct {
	Listen         string               `yaml:"listen"`
	DataPath       string               `yaml:"data_path"`
	CompressState  bool                 `yaml:"compress_state"`
	LogLevel       string               `yaml:"log_level"`
	LogFormat      string               `yaml:"log_format"`
	WorkerPoolSize int                  `yaml:"worker_pool_size"`
	Inbox          InboxConfig          `yaml:"inbox"`
	Journal        JournalConfig        `yaml:"journal"`
	Upload         UploadConfig         `yaml:"upload"`
	Alerts         AlertsConfig         `yaml:"alerts"`
	Notifications  []NotificationConfig `yaml:"notifications"`
	Pull           []PullConfig         `yaml:"pull"`
}

// InboxConfig describes the drop directory and the poll loop.
type InboxConfig struct {
	Dir            string   `yaml:"dir"`
	Pattern        string   `yaml:"pattern"`
	PollInterval   Duration `yaml:"poll_interval"`
	ErrorCooldown  Duration `yaml:"error_cooldown"`
	Watch          bool     `yaml:"watch"`
	MaxReportBytes int64    `yaml:"max_report_bytes"`
}

// JournalConfig describes the SQLite ingest journal. An empty path disables it.
type JournalConfig struct {
	Path           string   `yaml:"path"`
	Retention      Duration `yaml:"retention"`
	AlertRetention Duration `yaml:"alert_retention"`
}

// UploadConfig controls POST /api/upload. An empty APIKey disables the endpoint.
type UploadConfig struct {
	APIKey   string `yaml:"api_key"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// NotificationConfig describes a notification target.
type NotificationConfig struct {
	Type    string            `yaml:"type"` // "ntfy" or "webhook"
	URL     string            `yaml:"url"`
	Topic   string            `yaml:"topic,omitempty"`   // ntfy only
	Token   string            `yaml:"token,omitempty"`   // ntfy only
	Method  string            `yaml:"method,omitempty"`  // webhook only
	Headers map[string]string `yaml:"headers,omitempty"` // webhook only
}

// PullConfig describes a host whose reports are fetched over SSH.
type PullConfig struct {
	Name       string   `yaml:"name"`
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	User       string   `yaml:"user"`
	KeyPath    string   `yaml:"key_path"`
	KnownHosts string   `yaml:"known_hosts,omitempty"`
	Command    string   `yaml:"command"`
	Interval   Duration `yaml:"interval"`
}

// AlertsConfig holds the alert rules. A nil rule keeps the default.
type AlertsConfig struct {
	StaleAfter     Duration   `yaml:"stale_after"`
	DiskFailed     *AlertRule `yaml:"disk_failed,omitempty"`
	DiskWarning    *AlertRule `yaml:"disk_warning,omitempty"`
	MachineStale   *AlertRule `yaml:"machine_stale,omitempty"`
	ReportRejected *AlertRule `yaml:"report_rejected,omitempty"`
}

type AlertRule struct {
	Disabled bool     `yaml:"disabled"`
	Severity string   `yaml:"severity"`
	Cooldown Duration `yaml:"cooldown"`
}

// Duration wraps time.Duration with YAML string parsing support.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Load reads configuration from a YAML file. If no path is given, defaults
// and environment variables alone make up the configuration. If a path is
// given and the file does not exist, ErrConfigFileNotFound is returned.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.DataPath == "" {
		return fmt.Errorf("data_path is required")
	}
	if c.Inbox.Dir == "" {
		return fmt.Errorf("inbox.dir is required")
	}
	if _, err := filepath.Match(c.Inbox.Pattern, ""); err != nil {
		return fmt.Errorf("inbox.pattern %q: %w", c.Inbox.Pattern, err)
	}
	if c.Inbox.PollInterval.Duration <= 0 {
		return fmt.Errorf("inbox.poll_interval must be > 0")
	}
	if c.Inbox.ErrorCooldown.Duration <= 0 {
		return fmt.Errorf("inbox.error_cooldown must be > 0")
	}
	if c.Inbox.MaxReportBytes < 1 {
		return fmt.Errorf("inbox.max_report_bytes must be >= 1")
	}
	if c.Journal.Retention.Duration < 0 || c.Journal.AlertRetention.Duration < 0 {
		return fmt.Errorf("journal retention must not be negative")
	}
	if c.Upload.MaxBytes < 1 {
		return fmt.Errorf("upload.max_bytes must be >= 1")
	}

	for i, n := range c.Notifications {
		switch n.Type {
		case "ntfy":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for ntfy", i)
			}
			if n.Topic == "" {
				return fmt.Errorf("notifications[%d]: topic is required for ntfy", i)
			}
		case "webhook":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for webhook", i)
			}
		default:
			return fmt.Errorf("notifications[%d]: unknown type %q (expected ntfy or webhook)", i, n.Type)
		}
	}

	names := make(map[string]bool, len(c.Pull))
	for i, p := range c.Pull {
		switch {
		case p.Name == "":
			return fmt.Errorf("pull[%d]: name is required", i)
		case p.Host == "":
			return fmt.Errorf("pull[%d]: host is required", i)
		case p.User == "":
			return fmt.Errorf("pull[%d]: user is required", i)
		case p.KeyPath == "":
			return fmt.Errorf("pull[%d]: key_path is required", i)
		case p.Command == "":
			return fmt.Errorf("pull[%d]: command is required", i)
		case p.Port < 0 || p.Port > 65535:
			return fmt.Errorf("pull[%d]: port %d out of range", i, p.Port)
		}
		if names[p.Name] {
			return fmt.Errorf("pull[%d]: duplicate name %q", i, p.Name)
		}
		names[p.Name] = true
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be one of: text, json")
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("worker_pool_size must be >= 1")
	}

	// Validate alert rules
	if c.Alerts.StaleAfter.Duration < 0 {
		return fmt.Errorf("alerts.stale_after must not be negative")
	}
	rules := []struct {
		name string
		rule *AlertRule
	}{
		{"disk_failed", c.Alerts.DiskFailed},
		{"disk_warning", c.Alerts.DiskWarning},
		{"machine_stale", c.Alerts.MachineStale},
		{"report_rejected", c.Alerts.ReportRejected},
	}
	validSeverities := map[string]bool{"": true, "info": true, "warning": true, "critical": true}
	for _, r := range rules {
		if r.rule == nil {
			continue
		}
		if !validSeverities[r.rule.Severity] {
			return fmt.Errorf("alerts.%s: severity must be one of: info, warning, critical", r.name)
		}
		if r.rule.Cooldown.Duration < 0 {
			return fmt.Errorf("alerts.%s: cooldown must not be negative", r.name)
		}
	}

	return nil
}

func defaults() *Config {
	return &Config{
		Listen:         ":8080",
		DataPath:       "/app/data/disks.json",
		LogLevel:       "info",
		LogFormat:      "text",
		WorkerPoolSize: 4,
		Inbox: InboxConfig{
			Dir:            "/app/inbox",
			Pattern:        "*.json",
			PollInterval:   Duration{2 * time.Second},
			ErrorCooldown:  Duration{30 * time.Second},
			Watch:          true,
			MaxReportBytes: 1 << 20,
		},
		Journal: JournalConfig{
			Path:           "/app/data/journal.db",
			Retention:      Duration{720 * time.Hour},
			AlertRetention: Duration{720 * time.Hour},
		},
		Upload: UploadConfig{
			MaxBytes: 1 << 20,
		},
		Alerts: AlertsConfig{
			StaleAfter: Duration{24 * time.Hour},
		},
	}
}

// expandEnvVars replaces ${VAR_NAME} placeholders in raw YAML with the
// corresponding environment variable values. Unset variables are replaced
// with an empty string, which will then fail validation with a clear error.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		key := string(match[2 : len(match)-1]) // strip ${ and }
		return []byte(os.Getenv(key))
	})
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DISKMON_LISTEN"); v != "" {
		cfg.Listen = v
	} else if port := os.Getenv("PORT"); port != "" {
		cfg.Listen = ":" + port
	}
	if v := os.Getenv("DISKMON_DATA_PATH"); v != "" {
		cfg.DataPath = v
	}
	if v := os.Getenv("DISKMON_INBOX_DIR"); v != "" {
		cfg.Inbox.Dir = v
	}
	if v := os.Getenv("DISKMON_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("DISKMON_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DISKMON_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("DISKMON_COMPRESS_STATE"); v != "" {
		cfg.CompressState = v == "true" || v == "1"
	}

	// API_KEY is the name older agents were deployed with.
	if v := os.Getenv("DISKMON_API_KEY"); v != "" {
		cfg.Upload.APIKey = v
	} else if v := os.Getenv("API_KEY"); v != "" {
		cfg.Upload.APIKey = v
	}

	// Single ntfy target from env vars (only if no YAML notifications configured).
	if len(cfg.Notifications) == 0 {
		if ntfyURL := os.Getenv("DISKMON_NTFY_URL"); ntfyURL != "" {
			topic := os.Getenv("DISKMON_NTFY_TOPIC")
			if topic == "" {
				topic = "diskmon-alerts"
			}
			cfg.Notifications = append(cfg.Notifications, NotificationConfig{
				Type:  "ntfy",
				URL:   ntfyURL,
				Topic: topic,
				Token: os.Getenv("DISKMON_NTFY_TOKEN"),
			})
		}
	}

	if v := os.Getenv("DISKMON_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("DISKMON_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			cfg.Alerts.StaleAfter = Duration{d}
		}
	}
}
