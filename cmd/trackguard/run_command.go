package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trackguard/internal/config"
	"trackguard/internal/daemon"
	"trackguard/internal/engine"
	"trackguard/internal/fingerprint"
	"trackguard/internal/hostpage/chrome"
	"trackguard/internal/logging"
	"trackguard/internal/remote"
	"trackguard/internal/staging"
)

func newRunCommand(configFlag *string) *cobra.Command {
	var startURL string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach to the host app and run the protection engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}

			logger, err := logging.NewFile(logging.Options{
				Level:  cfg.LogLevel,
				Format: cfg.LogFormat,
			}, cfg.Paths.LogDir, "trackguard.log")
			if err != nil {
				return fmt.Errorf("initialize logging: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			target := startURL
			if target == "" {
				target = cfg.Host.BaseURL
			}
			page, err := chrome.Attach(ctx, chrome.Options{
				RemoteDebuggingURL: cfg.Browser.RemoteDebuggingURL,
				Headless:           cfg.Browser.Headless,
				UserAgent:          cfg.Browser.UserAgent,
			}, target, logger)
			if err != nil {
				return fmt.Errorf("attach browser: %w", err)
			}
			defer page.Close()

			cache, err := buildCache(cfg, logger)
			if err != nil {
				return err
			}
			client, err := remote.New(cfg.Remote.BaseURL, cfg.Remote.APIKey, cache, logger,
				remote.WithTimeout(time.Duration(cfg.Remote.RequestTimeout)*time.Second))
			if err != nil {
				return fmt.Errorf("remote client: %w", err)
			}

			generator, err := fingerprint.NewClient(cfg.Fingerprint.ServiceURL,
				time.Duration(cfg.Fingerprint.RequestTimeout)*time.Second, logger)
			if err != nil {
				return fmt.Errorf("fingerprint client: %w", err)
			}

			drafts, err := staging.Open(cfg)
			if err != nil {
				return fmt.Errorf("open staging store: %w", err)
			}

			eng, err := engine.New(cfg, page, client, generator, drafts, nil, logger)
			if err != nil {
				_ = drafts.Close()
				return fmt.Errorf("build engine: %w", err)
			}

			d, err := daemon.New(cfg, eng, drafts, logger)
			if err != nil {
				_ = drafts.Close()
				return err
			}
			defer d.Close()

			return d.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&startURL, "url", "", "Page to open on attach (defaults to the host base URL)")
	return cmd
}

func buildCache(cfg *config.Config, logger *slog.Logger) (remote.Store, error) {
	ttl := time.Duration(cfg.Remote.CacheTTL) * time.Second
	if cfg.Cache.Backend == "redis" && cfg.Cache.RedisAddr != "" {
		store, err := remote.NewRedisStore(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, ttl, logger)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return store, nil
	}
	maxEntries := cfg.Cache.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 256
	}
	store, err := remote.NewMemoryStore(maxEntries, ttl)
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	return store, nil
}
