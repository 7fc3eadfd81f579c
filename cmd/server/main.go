package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/wattmon/internal/alerting"
	"github.com/good-yellow-bee/wattmon/internal/api"
	"github.com/good-yellow-bee/wattmon/internal/api/health"
	"github.com/good-yellow-bee/wattmon/internal/energy"
	"github.com/good-yellow-bee/wattmon/internal/ingest"
	"github.com/good-yellow-bee/wattmon/internal/logging"
	"github.com/good-yellow-bee/wattmon/internal/metrics"
	"github.com/good-yellow-bee/wattmon/internal/notifier"
	"github.com/good-yellow-bee/wattmon/internal/storage"
	"github.com/good-yellow-bee/wattmon/internal/watchdog"
	"github.com/good-yellow-bee/wattmon/pkg/config"
)

// tokenCleanupInterval is how often expired refresh tokens are purged.
const tokenCleanupInterval = time.Hour

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "wattmon-server",
	Short: "WattMon Server - household energy monitoring",
	Long: `WattMon Server ingests readings from metering devices, tracks
consumption and cost per house, and raises alerts on thresholds,
monthly limits and offline sensors.`,
	SilenceUsage: true,
	RunE:         runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wattmon-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := LoadDotEnv(".env"); err != nil {
		return err
	}

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if httpAddr != "" {
		cfg.Server.HTTPAddress = httpAddr
	}
	cfg.Verbose = verbose
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()
	log := logger.Logger

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	// Auto-create data directory
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create default admin user on first run
	password, err := store.EnsureAdminUser(ctx)
	if err != nil {
		return fmt.Errorf("ensure admin user: %w", err)
	}
	if password != "" {
		log.Warn().Str("username", "admin").Str("password", password).Msg("created initial admin user, change this password")
	}
	log.Info().Str("path", cfg.Database.Path).Msg("database initialized")

	loc, _ := time.LoadLocation(cfg.Alerting.Timezone)
	calc := energy.NewCalculator(store.Readings(), store.Sensors(), &energy.Options{
		GapSlack: duration(cfg.Alerting.GapSlack),
		Location: loc,
	})

	rules := alerting.DefaultRuleSet()
	if cfg.Alerting.RulesFile != "" {
		if rules, err = alerting.LoadRulesFromFile(cfg.Alerting.RulesFile); err != nil {
			return fmt.Errorf("load alert rules: %w", err)
		}
		log.Info().Str("file", cfg.Alerting.RulesFile).Int("custom_rules", len(rules.Rules)).Msg("alert rules loaded")
	}

	dispatcher, err := buildDispatcher(ctx, cfg.Notify, log)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	evaluator := alerting.NewEvaluator(store, alerting.Options{
		Rules:      rules,
		Dispatcher: dispatcher,
		Calculator: calc,
		Logger:     log,
	})
	svc := ingest.NewService(store, ingest.Options{
		Secret:    cfg.Ingest.SigningSecret,
		Evaluator: evaluator,
		Logger:    log,
	})
	wd := watchdog.New(store, evaluator, watchdog.Options{Logger: log})

	apiServer, err := api.New(&api.Config{
		Address:          cfg.Server.HTTPAddress,
		JWTSecret:        []byte(cfg.Auth.JWTSecret),
		HTTPTLSEnabled:   cfg.Server.TLS.Enabled,
		HTTPTLSCertFile:  cfg.Server.TLS.CertFile,
		HTTPTLSKeyFile:   cfg.Server.TLS.KeyFile,
		AccessTokenTTL:   duration(cfg.Auth.AccessTokenTTL),
		RefreshTokenTTL:  duration(cfg.Auth.RefreshTokenTTL),
		RateLimitPerIP:   cfg.Auth.RateLimitPerIP,
		RateLimitPerUser: cfg.Auth.RateLimitPerUser,
		LockoutThreshold: cfg.Auth.LockoutThreshold,
		LockoutDuration:  duration(cfg.Auth.LockoutDuration),
		MaxReadingsRange: duration(cfg.Ingest.MaxReadingsRange),
		Version:          config.Version,
		Verbose:          cfg.Verbose,
	}, api.Deps{
		Storage:    store,
		Calculator: calc,
		Ingester:   svc,
		Sweeper:    wd,
		Notifier:   evaluator,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("create API server: %w", err)
	}

	var sub *ingest.MQTTSubscriber
	if cfg.Ingest.MQTT.Enabled {
		if sub, err = ingest.NewMQTTSubscriber(cfg.Ingest.MQTT.MQTTConfig, svc, log); err != nil {
			return fmt.Errorf("create MQTT subscriber: %w", err)
		}
		apiServer.RegisterHealthChecker(health.NewFuncChecker("mqtt", "broker disconnected", sub.IsConnected))
	}

	var watcher *alerting.RulesWatcher
	if cfg.Alerting.RulesFile != "" && cfg.Alerting.WatchRules {
		if watcher, err = alerting.NewRulesWatcher(cfg.Alerting.RulesFile, evaluator, log); err != nil {
			return fmt.Errorf("create rules watcher: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiServer.Run(ctx)
	})

	if sub != nil {
		g.Go(func() error {
			return sub.Run(ctx)
		})
	}

	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(cfg.Metrics.Address, log)
		g.Go(ms.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ms.Shutdown(shutdownCtx)
		})
	}

	if cfg.Watchdog.Enabled {
		g.Go(func() error {
			return wd.Run(ctx, duration(cfg.Watchdog.Interval))
		})
	}

	g.Go(func() error {
		return purgeTokens(ctx, store.Tokens(), log)
	})

	log.Info().Str("version", config.Version).Str("address", cfg.Server.HTTPAddress).Msg("wattmon-server started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run server: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}

// buildDispatcher registers every enabled notification channel.
func buildDispatcher(ctx context.Context, cfg NotifyConfig, log zerolog.Logger) (*notifier.Dispatcher, error) {
	dispatcher := notifier.NewDispatcherWithRateLimit(notifier.RateLimitConfig{
		MaxPerWindow: cfg.RateLimit.MaxPerWindow,
		Window:       duration(cfg.RateLimit.Window),
		Enabled:      !cfg.RateLimit.Disabled,
	})

	if cfg.Email.Enabled {
		n, err := notifier.NewEmailNotifier(*cfg.Email.notifierConfig())
		if err != nil {
			return nil, fmt.Errorf("create email notifier: %w", err)
		}
		dispatcher.Register(n)
	}
	if cfg.Slack.Enabled {
		n, err := notifier.NewSlackNotifier(notifier.SlackConfig{WebhookURL: cfg.Slack.WebhookURL})
		if err != nil {
			return nil, fmt.Errorf("create slack notifier: %w", err)
		}
		dispatcher.Register(n)
	}
	if cfg.SNS.Enabled {
		n, err := notifier.NewSNSNotifier(ctx, notifier.SNSConfig{Region: cfg.SNS.Region, TopicARN: cfg.SNS.TopicARN})
		if err != nil {
			return nil, fmt.Errorf("create sns notifier: %w", err)
		}
		dispatcher.Register(n)
	}
	if cfg.Kafka.Enabled {
		n, err := notifier.NewKafkaNotifier(notifier.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return nil, fmt.Errorf("create kafka notifier: %w", err)
		}
		dispatcher.Register(n)
	}

	if names := dispatcher.Names(); len(names) > 0 {
		log.Info().Strs("channels", names).Msg("notification channels registered")
	} else {
		log.Warn().Msg("no notification channels configured, alerts are stored only")
	}
	return dispatcher, nil
}

// purgeTokens removes expired and revoked refresh tokens until ctx is done.
func purgeTokens(ctx context.Context, tokens storage.TokenRepository, log zerolog.Logger) error {
	ticker := time.NewTicker(tokenCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := tokens.DeleteExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("purge refresh tokens")
				continue
			}
			if n > 0 {
				log.Debug().Int64("count", n).Msg("purged refresh tokens")
			}
		}
	}
}
