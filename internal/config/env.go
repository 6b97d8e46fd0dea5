package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. WSM_STORE_DSN.
const EnvPrefix = "WSM"

// legacyEnv maps keys to the bare variable names older deployments export.
var legacyEnv = map[string]string{
	"archive.github_token": "GITHUB_TOKEN",
	"archive.repo_url":     "GITHUB_REPO_URL",
	"health.port":          "PORT",
}

// envBinding applies one environment value onto a Config field.
type envBinding struct {
	key   string
	apply func(c *Config, v *viper.Viper)
}

var envBindings = []envBinding{
	{"store.driver", func(c *Config, v *viper.Viper) { c.Store.Driver = v.GetString("store.driver") }},
	{"store.dsn", func(c *Config, v *viper.Viper) { c.Store.DSN = v.GetString("store.dsn") }},
	{"store.host", func(c *Config, v *viper.Viper) { c.Store.Host = v.GetString("store.host") }},
	{"store.port", func(c *Config, v *viper.Viper) { c.Store.Port = v.GetInt("store.port") }},
	{"store.user", func(c *Config, v *viper.Viper) { c.Store.User = v.GetString("store.user") }},
	{"store.password", func(c *Config, v *viper.Viper) { c.Store.Password = v.GetString("store.password") }},
	{"store.database", func(c *Config, v *viper.Viper) { c.Store.Database = v.GetString("store.database") }},
	{"store.path", func(c *Config, v *viper.Viper) { c.Store.Path = v.GetString("store.path") }},
	{"monitor.poll_interval", func(c *Config, v *viper.Viper) { c.Monitor.PollInterval = v.GetDuration("monitor.poll_interval") }},
	{"monitor.stale_after", func(c *Config, v *viper.Viper) { c.Monitor.StaleAfter = v.GetDuration("monitor.stale_after") }},
	{"monitor.credentials_dir", func(c *Config, v *viper.Viper) { c.Monitor.CredentialsDir = v.GetString("monitor.credentials_dir") }},
	{"connector.gateway_url", func(c *Config, v *viper.Viper) { c.Connector.GatewayURL = v.GetString("connector.gateway_url") }},
	{"connector.protocol_version", func(c *Config, v *viper.Viper) {
		c.Connector.ProtocolVersion = v.GetString("connector.protocol_version")
	}},
	{"archive.github_token", func(c *Config, v *viper.Viper) { c.Archive.GithubToken = v.GetString("archive.github_token") }},
	{"archive.repo_url", func(c *Config, v *viper.Viper) { c.Archive.RepoURL = v.GetString("archive.repo_url") }},
	{"relay.platform", func(c *Config, v *viper.Viper) { c.Relay.Platform = v.GetString("relay.platform") }},
	{"relay.channel", func(c *Config, v *viper.Viper) { c.Relay.Channel = v.GetString("relay.channel") }},
	{"relay.slack.bot_token", func(c *Config, v *viper.Viper) { c.Relay.Slack.BotToken = v.GetString("relay.slack.bot_token") }},
	{"relay.discord.bot_token", func(c *Config, v *viper.Viper) { c.Relay.Discord.BotToken = v.GetString("relay.discord.bot_token") }},
	{"lease.redis_addr", func(c *Config, v *viper.Viper) { c.Lease.RedisAddr = v.GetString("lease.redis_addr") }},
	{"lease.redis_password", func(c *Config, v *viper.Viper) { c.Lease.RedisPassword = v.GetString("lease.redis_password") }},
	{"health.port", func(c *Config, v *viper.Viper) { c.Health.Port = v.GetInt("health.port") }},
	{"log.level", func(c *Config, v *viper.Viper) { c.Log.Level = v.GetString("log.level") }},
	{"log.format", func(c *Config, v *viper.Viper) { c.Log.Format = v.GetString("log.format") }},
}

// NewEnv returns a viper instance reading WSM_* variables plus the legacy
// bare names listed in legacyEnv.
func NewEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		// Explicit names bypass the prefix, so the prefixed form is listed first.
		_ = v.BindEnv(key, envName(key), legacy)
	}
	return v
}

// envName returns the prefixed environment variable for a config key.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// applyEnv overlays every environment value that is set onto c.
func (c *Config) applyEnv(v *viper.Viper) {
	if v == nil {
		return
	}
	for _, b := range envBindings {
		if v.IsSet(b.key) {
			b.apply(c, v)
		}
	}
}

// LoadWithEnv reads path (optional: empty means environment only), overlays
// environment variables from env, then applies defaults and validation.
func LoadWithEnv(path string, env *viper.Viper) (*Config, error) {
	var data []byte
	if path != "" {
		raw, err := readFile(path)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return parse(data, env)
}

// EnvKeys lists the environment variables the monitor understands.
func EnvKeys() []string {
	keys := make([]string, 0, len(envBindings))
	for _, b := range envBindings {
		name := envName(b.key)
		if legacy, ok := legacyEnv[b.key]; ok {
			name = fmt.Sprintf("%s (or %s)", name, legacy)
		}
		keys = append(keys, name)
	}
	return keys
}
