package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/FireKid846/whatsapp-web/internal/archive"
	ghArchive "github.com/FireKid846/whatsapp-web/internal/archive/github"
	"github.com/FireKid846/whatsapp-web/internal/config"
	"github.com/FireKid846/whatsapp-web/internal/connector"
	"github.com/FireKid846/whatsapp-web/internal/connector/gateway"
	"github.com/FireKid846/whatsapp-web/internal/credstore"
	"github.com/FireKid846/whatsapp-web/internal/health"
	"github.com/FireKid846/whatsapp-web/internal/lease"
	"github.com/FireKid846/whatsapp-web/internal/log"
	"github.com/FireKid846/whatsapp-web/internal/monitor"
	"github.com/FireKid846/whatsapp-web/internal/notify"
	"github.com/FireKid846/whatsapp-web/internal/relay"
	"github.com/FireKid846/whatsapp-web/internal/relay/discord"
	"github.com/FireKid846/whatsapp-web/internal/relay/slack"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the session monitor",
		Long:  "Polls the record store for waiting sessions, connects them through the gateway and serves /health and /metrics until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", configFlagHelp)
	return cmd
}

func runMonitor(cmd *cobra.Command, configPath string) error {
	cfg, err := config.LoadWithEnv(configPath, config.NewEnv())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := log.Configure(log.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cmd.ErrOrStderr(),
		Service: "wsm",
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	deps, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	m, err := monitor.New(monitor.Opts{
		Store:          st,
		Connector:      deps.connector,
		Credentials:    deps.creds,
		Notifier:       deps.notifier,
		Archiver:       deps.archiver,
		Relay:          deps.relay,
		Lease:          deps.lease,
		Connect:        deps.connect,
		PollInterval:   cfg.Monitor.PollInterval,
		Pacing:         cfg.Monitor.Pacing,
		ReapInterval:   cfg.Monitor.ReapInterval,
		StaleAfter:     cfg.Monitor.StaleAfter,
		StatusInterval: cfg.Monitor.StatusInterval,
		DrainTimeout:   cfg.Monitor.DrainTimeout,
		PurgeOnLogout:  cfg.PurgeOnLogout(),
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("version", Version).
		Str("store", cfg.Store.Driver).
		Str("credentials_dir", deps.creds.Base()).
		Bool("archive", cfg.ArchiveEnabled()).
		Str("relay", cfg.Relay.Platform).
		Bool("lease", cfg.Lease.RedisAddr != "").
		Msg("starting")

	// The health surface outlives the monitor so it keeps answering while
	// sessions drain.
	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopHealth()
		return m.Run(gctx)
	})
	g.Go(func() error {
		return health.Start(healthCtx, health.StartOpts{
			Source: m,
			Port:   cfg.Health.Port,
			Logger: log.WithComponent("health"),
		})
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("stopped with error")
		return err
	}
	logger.Info().Msg("stopped")
	return nil
}

// runDeps holds the monitor's collaborators built from configuration.
type runDeps struct {
	connector connector.Connector
	connect   connector.Options
	creds     *credstore.Store
	notifier  monitor.Notifier
	archiver  archive.Archiver
	relay     relay.Adapter
	lease     lease.Leaser
	closers   []func() error
}

func (d *runDeps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func buildDeps(ctx context.Context, cfg *config.Config) (*runDeps, error) {
	d := &runDeps{}
	ok := false
	defer func() {
		if !ok {
			d.close()
		}
	}()

	creds, err := credstore.New(cfg.Monitor.CredentialsDir)
	if err != nil {
		return nil, err
	}
	d.creds = creds

	gw, err := gateway.New(cfg.Connector.GatewayURL, log.WithComponent("gateway"))
	if err != nil {
		return nil, err
	}
	d.connector = gw
	d.connect = connector.Options{
		ConnectTimeout:  cfg.Connector.ConnectTimeout,
		KeepAlive:       cfg.Connector.KeepAlive,
		SyncFullHistory: cfg.Connector.SyncFullHistory,
		MarkOnline:      cfg.MarkOnline(),
		Browser:         cfg.Connector.Browser,
	}
	if cfg.Connector.ProtocolVersion != "" {
		v, err := connector.ParseVersion(cfg.Connector.ProtocolVersion)
		if err != nil {
			return nil, err
		}
		d.connect.Version = v
	}

	if cfg.NotifyEnabled() {
		d.notifier = notify.New(notify.Config{
			Images:       cfg.Notify.Images,
			Caption:      cfg.Notify.Caption,
			FirstDelay:   cfg.Notify.FirstDelay,
			BetweenDelay: cfg.Notify.BetweenDelay,
		}, log.WithComponent("notify"))
	}

	d.archiver = archive.Noop{}
	if cfg.ArchiveEnabled() {
		owner, repo, err := cfg.GithubRepo()
		if err != nil {
			return nil, err
		}
		a, err := ghArchive.New(ctx, ghArchive.Opts{
			Token:     cfg.Archive.GithubToken,
			Owner:     owner,
			Repo:      repo,
			Branch:    cfg.Archive.Branch,
			FileDelay: cfg.Archive.FileDelay,
			Logger:    log.WithComponent("archive"),
		})
		if err != nil {
			return nil, err
		}
		d.archiver = a
	}

	d.relay = relay.Nop{}
	switch cfg.Relay.Platform {
	case "slack":
		a, err := slack.New(slack.AdapterOpts{BotToken: cfg.Relay.Slack.BotToken, ChannelID: cfg.Relay.Channel})
		if err != nil {
			return nil, err
		}
		d.relay = a
		d.closers = append(d.closers, a.Close)
	case "discord":
		a, err := discord.New(discord.AdapterOpts{BotToken: cfg.Relay.Discord.BotToken, ChannelID: cfg.Relay.Channel})
		if err != nil {
			return nil, err
		}
		d.relay = a
		d.closers = append(d.closers, a.Close)
	}

	d.lease = lease.Local{}
	if cfg.Lease.RedisAddr != "" {
		r, err := lease.NewRedis(ctx, lease.RedisConfig{
			Addr:     cfg.Lease.RedisAddr,
			Password: cfg.Lease.RedisPassword,
			DB:       cfg.Lease.RedisDB,
			TTL:      cfg.Lease.TTL,
			Prefix:   cfg.Lease.Prefix,
		}, log.WithComponent("lease"))
		if err != nil {
			return nil, err
		}
		d.lease = r
		d.closers = append(d.closers, r.Close)
	}

	ok = true
	return d, nil
}
