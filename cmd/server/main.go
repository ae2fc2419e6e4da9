package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shiftleft/compliance/internal/analytics"
	"github.com/shiftleft/compliance/internal/api"
	"github.com/shiftleft/compliance/internal/auth"
	"github.com/shiftleft/compliance/internal/config"
	"github.com/shiftleft/compliance/internal/findings"
	"github.com/shiftleft/compliance/internal/fixsuggest"
	"github.com/shiftleft/compliance/internal/notifications"
	"github.com/shiftleft/compliance/internal/queue"
	"github.com/shiftleft/compliance/internal/reports"
	"github.com/shiftleft/compliance/internal/scheduler"
	"github.com/shiftleft/compliance/internal/store"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	configPath := flag.String("config", defaultConfig, "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("compliance server %s (built %s)\n", version, buildTime)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	applied, err := st.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("applied migrations", "versions", applied)
	}

	matcher, ok := findings.MatcherForStrategy(cfg.Dedup.Strategy)
	if !ok {
		return fmt.Errorf("unknown dedup strategy %q", cfg.Dedup.Strategy)
	}
	findingSvc := findings.NewService(st,
		findings.WithMatcher(matcher),
		findings.WithLogger(logger.With("component", "findings")))

	aggregator := analytics.New(st)
	notifier := notifications.NewService(notificationsConfig(cfg.Notifications), logger.With("component", "notifications"))

	deps := api.Deps{
		Findings:  findingSvc,
		Analytics: aggregator,
		DB:        st,
		Reports:   reports.NewGenerator(aggregator, st),
		Auth: auth.NewService(auth.Config{
			JWTSecret: cfg.Integrations.JWTSecret,
			Issuer:    cfg.Integrations.Issuer,
		}),
	}

	if cfg.Queue.Enabled {
		q, err := queue.New(queue.Config{
			Addr:        cfg.Redis.Addr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			Prefix:      cfg.Queue.Prefix,
			MaxAttempts: cfg.Queue.MaxAttempts,
		})
		if err != nil {
			return fmt.Errorf("initializing dispatch queue: %w", err)
		}
		defer q.Close()
		deps.Dispatcher = q

		worker := queue.NewWorker(queue.WorkerConfig{
			Queue:        q,
			Handler:      notifier,
			Logger:       logger.With("component", "dispatch"),
			PollInterval: cfg.Queue.PollInterval,
			StaleAfter:   cfg.Queue.StaleAfter,
		})
		if err := worker.Start(ctx); err != nil {
			return fmt.Errorf("starting dispatch worker: %w", err)
		}
		defer worker.Stop()
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewScheduler(scheduler.NewPostgresStore(st.DB()), logger.With("component", "scheduler"))
		(&scheduler.Jobs{
			Controls:  st,
			Analytics: aggregator,
			Notifier:  notifier,
		}).Register(sched)

		jobs := []*scheduler.Job{
			{Name: "reconcile-controls", Description: "Recompute control pass/fail status from open findings", Schedule: cfg.Scheduler.ReconcileSchedule, JobType: scheduler.JobTypeReconcileControls},
		}
		if notifier.Enabled() {
			jobs = append(jobs, &scheduler.Job{Name: "daily-digest", Description: "Send the daily compliance digest", Schedule: cfg.Scheduler.DigestSchedule, JobType: scheduler.JobTypeDailyDigest})
		} else {
			logger.Info("no notification channel enabled, daily digest not scheduled")
		}
		for _, job := range jobs {
			if err := sched.AddJob(job); err != nil {
				return err
			}
		}
		sched.Start()
		defer func() {
			<-sched.Stop().Done()
		}()
		deps.Jobs = sched
	}

	if cfg.FixSuggest.Enabled {
		suggester, err := fixsuggest.NewGeminiSuggester(ctx, cfg.FixSuggest.APIKey, cfg.FixSuggest.Model)
		if err != nil {
			return fmt.Errorf("initializing fix suggester: %w", err)
		}
		defer suggester.Close()
		deps.Suggester = suggester
	}

	server := api.NewServer(cfg.Server, deps,
		api.WithLogger(logger.With("component", "api")),
		api.WithSuggestTimeout(cfg.FixSuggest.Timeout))

	logger.Info("compliance server starting",
		"version", version,
		"addr", cfg.Server.Addr(),
		"dedup_strategy", cfg.Dedup.Strategy,
		"queue_enabled", cfg.Queue.Enabled,
		"scheduler_enabled", cfg.Scheduler.Enabled,
		"started_at", time.Now().UTC())
	return server.Run(ctx)
}

func notificationsConfig(c config.NotificationsConfig) notifications.Config {
	return notifications.Config{
		MinRisk:      c.MinRisk,
		DashboardURL: c.DashboardURL,
		Slack: notifications.SlackConfig{
			WebhookURL: c.Slack.WebhookURL,
			Channel:    c.Slack.Channel,
			Username:   "Compliance Bot",
			IconEmoji:  ":shield:",
			Enabled:    c.Slack.Enabled,
		},
		Email: notifications.EmailConfig{
			SMTPHost: c.Email.SMTPHost,
			SMTPPort: c.Email.SMTPPort,
			Username: c.Email.Username,
			Password: c.Email.Password,
			From:     c.Email.From,
			To:       c.Email.To,
			Enabled:  c.Email.Enabled,
		},
	}
}
