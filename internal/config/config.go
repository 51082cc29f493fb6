// Package config loads and validates agent configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all agent configuration, loaded once at startup and
// held read-only by every component afterwards.
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Status    StatusConfig    `mapstructure:"status"`
	Lifetime  LifetimeConfig  `mapstructure:"lifetime"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// NodeConfig identifies this node and bounds its lifetime.
type NodeConfig struct {
	ID          string        `mapstructure:"id"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// BootstrapConfig describes the target runtime environment.
type BootstrapConfig struct {
	Packages         []string `mapstructure:"packages"`
	RuntimeDir       string   `mapstructure:"runtime_dir"`
	ResultsDir       string   `mapstructure:"results_dir"`
	LogDir           string   `mapstructure:"log_dir"`
	VenvDir          string   `mapstructure:"venv_dir"`
	RepoURL          string   `mapstructure:"repo_url"`
	RepoRef          string   `mapstructure:"repo_ref"`
	RepoToken        string   `mapstructure:"repo_token"`
	SourceDir        string   `mapstructure:"source_dir"`
	RequirementsFile string   `mapstructure:"requirements_file"`
	MarkerPath       string   `mapstructure:"marker_path"`
}

// WorkerConfig describes the supervised workload process. Env values
// (Spaces credentials, scrape parameters) are injected as process-local
// environment at launch and never written to disk.
type WorkerConfig struct {
	Command      string            `mapstructure:"command"`
	Args         []string          `mapstructure:"args"`
	WorkDir      string            `mapstructure:"work_dir"`
	Env          map[string]string `mapstructure:"env"`
	RestartDelay time.Duration     `mapstructure:"restart_delay"`
	LogPath      string            `mapstructure:"log_path"`
}

// StatusConfig controls the health query server.
type StatusConfig struct {
	Port int `mapstructure:"port"`
}

// LifetimeConfig controls the periodic lifetime check.
type LifetimeConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// CleanupConfig governs teardown: transient paths to discard, the
// completion webhook, and the optional Spaces archive of results/logs.
type CleanupConfig struct {
	TransientPaths []string      `mapstructure:"transient_paths"`
	MarkerPath     string        `mapstructure:"marker_path"`
	Webhook        WebhookConfig `mapstructure:"webhook"`
	Spaces         SpacesConfig  `mapstructure:"spaces"`
}

// WebhookConfig is the orchestrator completion-signal endpoint.
type WebhookConfig struct {
	URL       string        `mapstructure:"url"`
	EventType string        `mapstructure:"event_type"`
	AuthToken string        `mapstructure:"auth_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SpacesConfig holds DigitalOcean Spaces (S3-compatible) settings for
// the best-effort result archive. Empty endpoint disables archiving.
type SpacesConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FANTINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.max_lifetime", "4h")
	v.SetDefault("bootstrap.packages", []string{"python3", "python3-venv", "python3-pip", "git"})
	v.SetDefault("bootstrap.runtime_dir", "/opt/fantine")
	v.SetDefault("bootstrap.results_dir", "/opt/fantine/results")
	v.SetDefault("bootstrap.log_dir", "/var/log/fantine")
	v.SetDefault("bootstrap.venv_dir", "/opt/fantine/venv")
	v.SetDefault("bootstrap.source_dir", "/opt/fantine/src")
	v.SetDefault("bootstrap.repo_ref", "main")
	v.SetDefault("bootstrap.requirements_file", "requirements.txt")
	v.SetDefault("bootstrap.marker_path", "/opt/fantine/.bootstrap-complete")
	v.SetDefault("worker.restart_delay", "10s")
	v.SetDefault("worker.log_path", "/var/log/fantine/scraper.log")
	v.SetDefault("status.port", 8080)
	v.SetDefault("lifetime.check_interval", "10m")
	v.SetDefault("cleanup.transient_paths", []string{"/opt/fantine/results"})
	v.SetDefault("cleanup.marker_path", "/opt/fantine/.completion-sent")
	v.SetDefault("cleanup.webhook.event_type", "node-complete")
	v.SetDefault("cleanup.webhook.timeout", "15s")
	v.SetDefault("cleanup.spaces.region", "nyc3")
	v.SetDefault("cleanup.spaces.prefix", "scraped-data")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Node.MaxLifetime <= 0 {
		return fmt.Errorf("node.max_lifetime must be > 0")
	}
	if c.Status.Port <= 0 {
		return fmt.Errorf("status.port must be > 0")
	}
	if c.Lifetime.CheckInterval <= 0 {
		return fmt.Errorf("lifetime.check_interval must be > 0")
	}
	if c.Worker.Command == "" {
		return fmt.Errorf("worker.command must be set")
	}
	if c.Worker.RestartDelay <= 0 {
		return fmt.Errorf("worker.restart_delay must be > 0")
	}
	if c.Bootstrap.MarkerPath == "" {
		return fmt.Errorf("bootstrap.marker_path must be set")
	}
	if c.Cleanup.MarkerPath == "" {
		return fmt.Errorf("cleanup.marker_path must be set")
	}
	if c.Cleanup.Spaces.Endpoint != "" && c.Cleanup.Spaces.Bucket == "" {
		return fmt.Errorf("cleanup.spaces.bucket must be set when an endpoint is configured")
	}
	return nil
}

// ArchiveEnabled reports whether the Spaces archive step should run.
func (c CleanupConfig) ArchiveEnabled() bool {
	return c.Spaces.Endpoint != "" && c.Spaces.Bucket != ""
}
