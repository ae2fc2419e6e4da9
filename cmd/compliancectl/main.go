package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shiftleft/compliance/internal/config"
	"github.com/shiftleft/compliance/internal/findings"
	"github.com/shiftleft/compliance/internal/store"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// Cli holds the global flags and lazily opened dependencies.
type Cli struct {
	configPath string
	verbose    bool
	out        io.Writer

	cfg   *config.Config
	store *store.Store
}

func main() {
	cli := &Cli{out: os.Stdout}
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

func (cli *Cli) Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer cli.close()

	return cli.rootCommand().ExecuteContext(ctx)
}

func (cli *Cli) rootCommand() *cobra.Command {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}

	rootCmd := &cobra.Command{
		Use:          "compliancectl",
		Short:        "Operate the findings lifecycle and triage engine.",
		SilenceUsage: true,
		Version:      fmt.Sprintf("%s (built %s)", version, buildTime),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if cli.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().StringVar(&cli.configPath, "config", defaultConfig, "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&cli.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		cli.migrateCommand(),
		cli.ingestCommand(),
		cli.resolveCommand(),
		cli.assignCommand(),
		cli.triageCommand(),
		cli.assignedCommand(),
		cli.analyticsCommand(),
		cli.trendCommand(),
		cli.reconcileCommand(),
		cli.seedControlsCommand(),
		cli.reportCommand(),
		cli.tokenCommand(),
		cli.versionCommand(),
	)
	return rootCmd
}

func (cli *Cli) config() (*config.Config, error) {
	if cli.cfg != nil {
		return cli.cfg, nil
	}
	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return nil, err
	}
	cli.cfg = cfg
	return cfg, nil
}

func (cli *Cli) openStore() (*store.Store, error) {
	if cli.store != nil {
		return cli.store, nil
	}
	cfg, err := cli.config()
	if err != nil {
		return nil, err
	}
	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: 4,
		MaxIdleConns: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	cli.store = st
	return st, nil
}

func (cli *Cli) findingService() (*findings.Service, error) {
	st, err := cli.openStore()
	if err != nil {
		return nil, err
	}
	matcher, ok := findings.MatcherForStrategy(cli.cfg.Dedup.Strategy)
	if !ok {
		return nil, fmt.Errorf("unknown dedup strategy %q", cli.cfg.Dedup.Strategy)
	}
	return findings.NewService(st, findings.WithMatcher(matcher), findings.WithLogger(slog.Default())), nil
}

func (cli *Cli) close() {
	if cli.store != nil {
		_ = cli.store.Close()
	}
}

func (cli *Cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
