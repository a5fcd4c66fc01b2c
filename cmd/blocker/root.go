// Package main is the entry point for the bulk-blocker CLI. Grounded on the
// teacher's internal/infrastructure/migrations/cli.go for cobra command
// shape (one root command, flag-driven sub-actions) and on
// cmd/server/main.go + cmd/server/signal.go for structured-logger setup and
// signal-driven graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/book000/twitter-bulk-blocker/internal/config"
	"github.com/book000/twitter-bulk-blocker/internal/credstore"
	"github.com/book000/twitter-bulk-blocker/internal/engine"
	"github.com/book000/twitter-bulk-blocker/internal/history"
	"github.com/book000/twitter-bulk-blocker/internal/idcache"
	"github.com/book000/twitter-bulk-blocker/internal/obslog"
	"github.com/book000/twitter-bulk-blocker/internal/obsmetrics"
	"github.com/book000/twitter-bulk-blocker/internal/recovery"
	"github.com/book000/twitter-bulk-blocker/internal/remote"
)

var (
	flagConfigFile        string
	flagCookiesPath       string
	flagUsersFile         string
	flagDBPath            string
	flagCacheDir          string
	flagBatchSize         int
	flagDelay             time.Duration
	flagMaxUsers          int
	flagDebug             bool
	flagDisableEnhance    bool
	flagEnableForwardedFor bool

	flagStats        bool
	flagRetry        bool
	flagAll          bool
	flagAutoRetry    bool
	flagResetRetry   bool
	flagClearErrors  bool
	flagResetFailed  bool
	flagTestUser     string
	flagDebugErrors  bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "blocker",
		Short: "Bulk-block accounts on X/Twitter from a targets file",
		Long:  "Reads a list of target handles or ids, resolves them against the remote platform, and blocks each one not already blocked or permanently failed, persisting progress to a local SQLite history store.",
		RunE:  runRoot,
	}

	flags := root.Flags()
	flags.StringVar(&flagConfigFile, "config", "", "path to a config file (optional; env vars and flags override it)")
	flags.StringVar(&flagCookiesPath, "cookies", "", "path to the cookies.json credential file")
	flags.StringVar(&flagUsersFile, "users-file", "", "path to the targets JSON file")
	flags.StringVar(&flagDBPath, "db", "", "path to the history SQLite database")
	flags.StringVar(&flagCacheDir, "cache-dir", "", "directory for the identifier cache")
	flags.IntVar(&flagBatchSize, "batch-size", 0, "targets processed per batch before the inter-batch delay (0 = use config default)")
	flags.DurationVar(&flagDelay, "delay", 0, "delay between batches (0 = use config default)")
	flags.IntVar(&flagMaxUsers, "max-users", 0, "cap the number of targets processed this run (0 = unlimited)")
	flags.BoolVar(&flagDebug, "debug", false, "enable debug logging")
	flags.BoolVar(&flagDisableEnhance, "disable-header-enhancement", false, "disable browser-fingerprint header enhancement")
	flags.BoolVar(&flagEnableForwardedFor, "enable-forwarded-for", false, "attach a synthetic X-Forwarded-For header")

	flags.BoolVar(&flagStats, "stats", false, "print history statistics and exit")
	flags.BoolVar(&flagRetry, "retry", false, "run a retry pass over previously failed targets instead of a fresh pass")
	flags.BoolVar(&flagAll, "all", false, "process all targets, ignoring any cached blocked/permanent-failure state")
	flags.BoolVar(&flagAutoRetry, "auto-retry", false, "after the main pass, also run a retry pass in the same invocation")
	flags.BoolVar(&flagResetRetry, "reset-retry", false, "zero retry_count/last_retry_at on every failed row and exit")
	flags.BoolVar(&flagClearErrors, "clear-errors", false, "delete all failed history rows and exit")
	flags.BoolVar(&flagResetFailed, "reset-failed", false, "requalify every failed row as retryable and exit")
	flags.StringVar(&flagTestUser, "test-user", "", "resolve a single handle or id against the remote platform and print the result, without blocking")
	flags.BoolVar(&flagDebugErrors, "debug-errors", false, "print the most recent failed rows and exit")

	root.MarkFlagsMutuallyExclusive("stats", "retry", "reset-retry", "clear-errors", "reset-failed", "test-user", "debug-errors")

	return root
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(cfg)

	logger := obslog.New(obslog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
		Filename: cfg.LogFile,
	})
	if flagDebug {
		logger = obslog.New(obslog.Config{Level: "debug", Format: cfg.LogFormat, Output: cfg.LogOutput, Filename: cfg.LogFile})
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hist, err := history.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer hist.Close()

	switch {
	case flagStats:
		return printStats(ctx, hist)
	case flagResetRetry:
		return resetRetry(ctx, hist, logger)
	case flagClearErrors:
		return clearErrors(ctx, hist, logger)
	case flagResetFailed:
		return resetFailed(ctx, hist, logger)
	case flagDebugErrors:
		return printDebugErrors(ctx, hist)
	}

	creds := credstore.New(cfg.CookiesPath, cfg.CredentialCacheTTL)
	defer creds.Close()

	mapping, err := creds.Load()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	owner := idcache.DeriveOwner(mapping)

	cache, err := idcache.New(cfg.CacheDir, owner, cfg.CacheLRUSize)
	if err != nil {
		return fmt.Errorf("open identifier cache: %w", err)
	}

	coordinator := recovery.New(creds, logger)
	registry := prometheus.NewRegistry()
	metrics := obsmetrics.New(registry)

	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	client := remote.New(creds, limiter, coordinator, coordinator, remote.HeaderOptions{
		EnableEnhancement:  !flagDisableEnhance,
		EnableForwardedFor: flagEnableForwardedFor,
	})

	if flagTestUser != "" {
		return runTestUser(ctx, client, flagTestUser, logger)
	}

	eng := engine.New(client, hist, cache, coordinator, metrics, logger, cfg.BatchSize, cfg.Delay)

	targets, format, err := engine.LoadTargets(cfg.UsersFile)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}

	maxUsers := cfg.MaxUsers
	if flagMaxUsers > 0 {
		maxUsers = flagMaxUsers
	}

	if flagRetry {
		return eng.RunRetryPass(ctx, format)
	}

	if err := eng.Run(ctx, targets, format, maxUsers, flagAll); err != nil {
		return fmt.Errorf("processing pass failed: %w", err)
	}

	if flagAutoRetry {
		if err := eng.RunRetryPass(ctx, format); err != nil {
			return fmt.Errorf("retry pass failed: %w", err)
		}
	}
	return nil
}

func applyFlagOverrides(cfg *config.Config) {
	if flagCookiesPath != "" {
		cfg.CookiesPath = flagCookiesPath
	}
	if flagUsersFile != "" {
		cfg.UsersFile = flagUsersFile
	}
	if flagDBPath != "" {
		cfg.DBPath = flagDBPath
	}
	if flagCacheDir != "" {
		cfg.CacheDir = flagCacheDir
	}
	if flagBatchSize > 0 {
		cfg.BatchSize = flagBatchSize
	}
	if flagDelay > 0 {
		cfg.Delay = flagDelay
	}
	if flagDebug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
}
