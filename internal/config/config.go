// Package config provides YAML-based configuration loading for the session monitor.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the top-level monitor configuration, loaded from wsm.yaml.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Connector ConnectorConfig `yaml:"connector"`
	Notify    NotifyConfig    `yaml:"notify"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Relay     RelayConfig     `yaml:"relay"`
	Lease     LeaseConfig     `yaml:"lease"`
	Health    HealthConfig    `yaml:"health"`
	Log       LogConfig       `yaml:"log"`
}

// StoreConfig holds connection settings for the session record store.
// Either DSN or the discrete host fields are used for mysql; sqlite uses Path.
type StoreConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Path     string `yaml:"path"`
}

// MonitorConfig controls poll, reap and shutdown cadence.
type MonitorConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	Pacing         time.Duration `yaml:"pacing"`
	ReapInterval   time.Duration `yaml:"reap_interval"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	StatusInterval time.Duration `yaml:"status_interval"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	CredentialsDir string        `yaml:"credentials_dir"`
	PurgeOnLogout  *bool         `yaml:"purge_on_logout"`
}

// ConnectorConfig describes how connections are opened.
type ConnectorConfig struct {
	GatewayURL      string        `yaml:"gateway_url"`
	ProtocolVersion string        `yaml:"protocol_version"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	KeepAlive       time.Duration `yaml:"keepalive"`
	SyncFullHistory bool          `yaml:"sync_full_history"`
	MarkOnline      *bool         `yaml:"mark_online"`
	Browser         []string      `yaml:"browser"`
}

// NotifyConfig controls the welcome sequence sent after a successful pairing.
type NotifyConfig struct {
	Enabled      *bool         `yaml:"enabled"`
	Images       []string      `yaml:"images"`
	Caption      string        `yaml:"caption"`
	FirstDelay   time.Duration `yaml:"first_delay"`
	BetweenDelay time.Duration `yaml:"between_delay"`
}

// ArchiveConfig configures the GitHub credential archive. An empty token or
// repo URL disables archival.
type ArchiveConfig struct {
	GithubToken string        `yaml:"github_token"`
	RepoURL     string        `yaml:"repo_url"`
	Branch      string        `yaml:"branch"`
	FileDelay   time.Duration `yaml:"file_delay"`
}

// RelayConfig configures the optional ops channel that mirrors lifecycle events.
type RelayConfig struct {
	Platform string        `yaml:"platform"` // "", "slack" or "discord"
	Channel  string        `yaml:"channel"`
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack credentials for the relay.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord credentials for the relay.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// LeaseConfig enables cross-process session claims through Redis.
type LeaseConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
	Prefix        string        `yaml:"prefix"`
}

// HealthConfig configures the health/status HTTP surface.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, json or console
}

// DefaultCaption is the welcome caption used when none is configured.
const DefaultCaption = "🔥 *Firekid Bot - Connected*\n\n" +
	"Your WhatsApp is now paired successfully!\n\n" +
	"*Features:*\n" +
	"• Automated replies\n" +
	"• Smart notifications\n" +
	"• Advanced tools\n\n" +
	"_Built by Firekid_"

// DefaultImages are the welcome images used when none are configured.
var DefaultImages = []string{
	"https://ik.imagekit.io/firekid/photo_2025-09-08_14-11-15.jpg",
	"https://ik.imagekit.io/firekid/photo_2025-09-08_13-31-44.jpg",
	"https://ik.imagekit.io/firekid/photo_2025-09-08_13-34-15.jpg",
}

var (
	githubRepoPattern = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)`)
	versionPattern    = regexp.MustCompile(`^\d+(\.\d+){2}$`)
)

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	return parse(data, nil)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return data, nil
}

func parse(data []byte, env *viper.Viper) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(env)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PurgeOnLogout reports whether logged-out sessions lose their credentials immediately.
func (c *Config) PurgeOnLogout() bool {
	return c.Monitor.PurgeOnLogout == nil || *c.Monitor.PurgeOnLogout
}

// NotifyEnabled reports whether the welcome sequence is sent.
func (c *Config) NotifyEnabled() bool {
	return c.Notify.Enabled == nil || *c.Notify.Enabled
}

// MarkOnline reports whether connections announce presence on connect.
func (c *Config) MarkOnline() bool {
	return c.Connector.MarkOnline == nil || *c.Connector.MarkOnline
}

// ArchiveEnabled reports whether a GitHub archive is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.Archive.GithubToken != "" && c.Archive.RepoURL != ""
}

// GithubRepo returns the owner and repository parsed from Archive.RepoURL.
func (c *Config) GithubRepo() (owner, repo string, err error) {
	m := githubRepoPattern.FindStringSubmatch(c.Archive.RepoURL)
	if m == nil {
		return "", "", fmt.Errorf("config: invalid github repo url %q", c.Archive.RepoURL)
	}
	return m[1], strings.TrimSuffix(m[2], ".git"), nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	switch c.Store.Driver {
	case "mysql":
		if c.Store.Host == "" {
			c.Store.Host = "127.0.0.1"
		}
		if c.Store.Port == 0 {
			c.Store.Port = 3306
		}
		if c.Store.User == "" {
			c.Store.User = "root"
		}
	case "sqlite":
		if c.Store.Path == "" {
			c.Store.Path = "wsm.db"
		}
	}

	m := &c.Monitor
	if m.PollInterval == 0 {
		m.PollInterval = 10 * time.Second
	}
	if m.Pacing == 0 {
		m.Pacing = time.Second
	}
	if m.ReapInterval == 0 {
		m.ReapInterval = 3 * time.Minute
	}
	if m.StaleAfter == 0 {
		m.StaleAfter = 5 * time.Minute
	}
	if m.StatusInterval == 0 {
		m.StatusInterval = time.Minute
	}
	if m.DrainTimeout == 0 {
		m.DrainTimeout = 10 * time.Second
	}
	if m.CredentialsDir == "" {
		m.CredentialsDir = "/tmp/sessions"
	}

	if c.Connector.ConnectTimeout == 0 {
		c.Connector.ConnectTimeout = 180 * time.Second
	}
	if c.Connector.KeepAlive == 0 {
		c.Connector.KeepAlive = 30 * time.Second
	}
	if len(c.Connector.Browser) == 0 {
		c.Connector.Browser = []string{"Mac OS", "Chrome", "14.4.1"}
	}

	if len(c.Notify.Images) == 0 {
		c.Notify.Images = append([]string(nil), DefaultImages...)
	}
	if c.Notify.Caption == "" {
		c.Notify.Caption = DefaultCaption
	}
	if c.Notify.FirstDelay == 0 {
		c.Notify.FirstDelay = 3 * time.Second
	}
	if c.Notify.BetweenDelay == 0 {
		c.Notify.BetweenDelay = 2 * time.Second
	}

	if c.Archive.Branch == "" {
		c.Archive.Branch = "main"
	}
	if c.Archive.FileDelay == 0 {
		c.Archive.FileDelay = 300 * time.Millisecond
	}

	if c.Lease.TTL == 0 {
		c.Lease.TTL = 2 * time.Minute
	}
	if c.Lease.Prefix == "" {
		c.Lease.Prefix = "wsm:lease:"
	}

	if c.Health.Port == 0 {
		c.Health.Port = 3000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Store.Driver {
	case "mysql":
		if c.Store.DSN == "" && c.Store.Database == "" {
			errs = append(errs, "store.database or store.dsn is required for mysql")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (mysql, sqlite)", c.Store.Driver))
	}

	if c.Monitor.Pacing < 0 {
		errs = append(errs, "monitor.pacing must not be negative")
	}
	if c.Monitor.StaleAfter < 0 {
		errs = append(errs, "monitor.stale_after must not be negative")
	}
	if c.Connector.ProtocolVersion != "" && !versionPattern.MatchString(c.Connector.ProtocolVersion) {
		errs = append(errs, fmt.Sprintf("connector.protocol_version %q must look like 2.3000.1015901307", c.Connector.ProtocolVersion))
	}

	if (c.Archive.GithubToken == "") != (c.Archive.RepoURL == "") {
		errs = append(errs, "archive.github_token and archive.repo_url must be set together")
	}
	if c.Archive.RepoURL != "" && !githubRepoPattern.MatchString(c.Archive.RepoURL) {
		errs = append(errs, fmt.Sprintf("archive.repo_url %q is not a github.com repository URL", c.Archive.RepoURL))
	}

	switch c.Relay.Platform {
	case "":
	case "slack":
		if c.Relay.Slack.BotToken == "" {
			errs = append(errs, "relay.slack.bot_token is required")
		}
		if c.Relay.Channel == "" {
			errs = append(errs, "relay.channel is required")
		}
	case "discord":
		if c.Relay.Discord.BotToken == "" {
			errs = append(errs, "relay.discord.bot_token is required")
		}
		if c.Relay.Channel == "" {
			errs = append(errs, "relay.channel is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("relay.platform %q is not supported (slack, discord)", c.Relay.Platform))
	}

	// Leases are refreshed on the status tick; a TTL shorter than the tick
	// lets live sessions lose their claim.
	if c.Lease.RedisAddr != "" {
		if c.Monitor.StatusInterval <= 0 {
			errs = append(errs, "monitor.status_interval must be positive when lease.redis_addr is set")
		} else if c.Lease.TTL <= c.Monitor.StatusInterval {
			errs = append(errs, fmt.Sprintf("lease.ttl %s must be longer than monitor.status_interval %s", c.Lease.TTL, c.Monitor.StatusInterval))
		}
	}

	if c.Health.Port < 0 || c.Health.Port > 65535 {
		errs = append(errs, fmt.Sprintf("health.port %d is out of range", c.Health.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
