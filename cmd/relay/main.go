// Command relay is the Sporty Bot notification relay.
//
// Usage:
//
//	relay serve           # Telegram bot + poll engine + status API
//	relay cycle           # one poll cycle, alerts logged instead of sent
//	relay cycle --follow Chelsea --subscribe
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/scoracle-relay/internal/api"
	"github.com/albapepper/scoracle-relay/internal/api/handler"
	"github.com/albapepper/scoracle-relay/internal/cache"
	"github.com/albapepper/scoracle-relay/internal/config"
	"github.com/albapepper/scoracle-relay/internal/dedup"
	"github.com/albapepper/scoracle-relay/internal/logging"
	"github.com/albapepper/scoracle-relay/internal/maintenance"
	"github.com/albapepper/scoracle-relay/internal/notifications"
	"github.com/albapepper/scoracle-relay/internal/provider"
	"github.com/albapepper/scoracle-relay/internal/provider/apifootball"
	"github.com/albapepper/scoracle-relay/internal/provider/youtube"
	"github.com/albapepper/scoracle-relay/internal/subscription"
	"github.com/albapepper/scoracle-relay/internal/telegram"
)

var version = "dev"

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "relay",
		Short:        "Live stream, lineup and match event alerts for Telegram",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(cycleCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// Shared wiring
// --------------------------------------------------------------------------

// app is the set of components every subcommand builds from config.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	closeLog io.Closer

	subs     *subscription.Store
	dedup    *dedup.Store
	streams  notifications.StreamSource
	football notifications.FootballSource
	breakers []*provider.Breaker
}

func newApp(requireTelegram bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(requireTelegram); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, closer := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	}, os.Stdout)
	slog.SetDefault(logger)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		closeLog: closer,
		subs:     subscription.New(),
		dedup:    dedup.New(),
	}

	if cfg.YouTubeEnabled() {
		b := provider.NewBreaker(provider.DefaultBreakerSettings("youtube"), logger)
		a.breakers = append(a.breakers, b)
		a.streams = youtube.NewClient("", cfg.YouTubeAPIKey, cfg.YouTubeChannelID, cfg.YouTubeRPM, b, logger)
	} else {
		logger.Warn("YOUTUBE_API_KEY not set; live stream alerts disabled")
	}

	if cfg.FootballEnabled() {
		b := provider.NewBreaker(provider.DefaultBreakerSettings("api-football"), logger)
		a.breakers = append(a.breakers, b)
		a.football = apifootball.NewClient(cfg.APIFootballBaseURL, cfg.APIFootballKey, cfg.APIFootballRPM, b, logger)
	} else {
		logger.Warn("API_FOOTBALL_KEY not set; lineup and match event alerts disabled")
	}

	return a, nil
}

func (a *app) engine(notifier notifications.Notifier) *notifications.Engine {
	return notifications.New(a.streams, a.football, notifier, a.subs, a.dedup, notifications.Config{
		Interval: a.cfg.PollInterval,
		Location: a.cfg.PollTimezone,
	}, a.logger.With("component", "engine"))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// --------------------------------------------------------------------------
// serve command
// --------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	var noAPI bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot, poll engine and status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.closeLog.Close()
			return runServe(a, !noAPI)
		},
	}
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "Do not start the status API")
	return cmd
}

func runServe(a *app, withAPI bool) error {
	cfg, logger := a.cfg, a.logger

	ctx, cancel := signalContext()
	defer cancel()

	logger.Warn("All subscriptions and dedup state are held in memory and are lost on restart")
	if cfg.IsProduction() && slices.Contains(cfg.CORSAllowOrigins, "*") {
		logger.Warn("CORS allows any origin in production; set CORS_ALLOW_ORIGINS")
	}

	watch := cache.New[*provider.StreamInfo](cfg.WatchCacheTTL)
	football, _ := a.football.(telegram.FootballLookup)
	cmds := telegram.NewCommands(telegram.CommandDeps{
		Subs:     a.subs,
		Streams:  a.streams,
		Football: football,
		Watch:    watch,
		Location: cfg.PollTimezone,
	})
	bot, err := telegram.New(telegram.Config{Token: cfg.TelegramToken}, cmds, logger.With("component", "telegram"))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	engine := a.engine(bot)

	maint, err := maintenance.New(a.dedup, watch, maintenance.Config{
		PruneSchedule: cfg.DedupPruneSchedule,
		Retention:     cfg.DedupRetention,
		EvictSchedule: maintenance.DefaultConfig().EvictSchedule,
	}, logger.With("component", "maintenance"))
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	bot.Start(ctx)

	wg.Add(2)
	go func() { defer wg.Done(); engine.Start(ctx) }()
	go func() { defer wg.Done(); maint.Start(ctx) }()

	if withAPI {
		router := api.NewRouter(handler.Deps{
			Engine:   engine,
			Subs:     a.subs,
			Dedup:    a.dedup,
			Watch:    watch,
			Breakers: a.breakers,
			Version:  version,
		}, cfg, logger)
		addr := net.JoinHostPort(cfg.APIHost, strconv.Itoa(cfg.APIPort))

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := api.Serve(ctx, addr, router, logger); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}

	logger.Info("Relay running", "version", version, "interval", cfg.PollInterval, "environment", cfg.Environment)

	<-ctx.Done()
	logger.Info("Shutting down...")
	bot.Stop()
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
	}
	logger.Info("Relay stopped", "cycles", engine.Cycles())
	return nil
}

// --------------------------------------------------------------------------
// cycle command
// --------------------------------------------------------------------------

func cycleCmd() *cobra.Command {
	var (
		follows   []string
		subscribe bool
		chatID    int64
	)
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one poll cycle and log the alerts it would send",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.closeLog.Close()

			if subscribe {
				a.subs.AddSubscriber(chatID)
			}
			for _, team := range follows {
				a.subs.AddFollow(chatID, team)
			}

			ctx, cancel := signalContext()
			defer cancel()

			engine := a.engine(notifications.NewLogNotifier(a.logger))
			res := engine.RunCycle(ctx)
			for _, e := range res.Errors {
				a.logger.Error("cycle error", "error", e)
			}
			if res.Cancelled {
				return fmt.Errorf("cycle cancelled")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&follows, "follow", nil, "Team names to follow for this run")
	cmd.Flags().BoolVar(&subscribe, "subscribe", false, "Subscribe to live stream alerts for this run")
	cmd.Flags().Int64Var(&chatID, "chat-id", 1, "Recipient id used for --follow and --subscribe")
	return cmd
}
