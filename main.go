package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"coinflow/config"
	"coinflow/internal/metrics"
	"coinflow/internal/pipeline"
	"coinflow/internal/storage"
	"coinflow/logger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one pipeline pass and returns the process exit code.
func run(args []string) int {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	flags := flag.NewFlagSet("coinflow", flag.ContinueOnError)
	configPath := flags.String("config", config.DefaultConfigPath, "Path to configuration file")
	skipFetch := flags.Bool("skip-fetch", false, "Reprocess already staged raw data without calling the feed")
	dryRun := flags.Bool("dry-run", false, "Use the local directory store instead of S3")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		return 1
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		return 1
	}

	log.WithEnv("APP_ENV").WithFields(logger.Fields{
		"service":     cfg.Coinflow.Name,
		"version":     cfg.Coinflow.Version,
		"environment": config.AppEnvironment(),
		"skip_fetch":  *skipFetch,
		"dry_run":     *dryRun,
	}).Info("starting coinflow")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}

	reportCtx, stopReport := context.WithCancel(ctx)
	defer stopReport()
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(reportCtx, log, 30*time.Second)
	}

	var sink *metrics.PushSink
	if cfg.Metrics.Pushgateway.URL != "" {
		sink = metrics.NewPushSink(cfg.Metrics.Pushgateway.URL, cfg.Metrics.Pushgateway.Job)
		defer sink.Close()
	}

	store, err := openStore(ctx, cfg, *dryRun)
	if err != nil {
		log.WithError(err).Error("failed to open object store")
		return 1
	}

	_, runErr := pipeline.New(cfg, store, pipeline.WithSkipFetch(*skipFetch)).Run(ctx)
	stopReport()

	if sink != nil {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := sink.Push(pushCtx); err != nil {
			log.WithComponent("main").WithError(err).Warn("failed to push metrics")
		}
		cancel()
	}

	if runErr != nil {
		log.WithComponent("main").WithError(runErr).Error("coinflow run failed")
		return 1
	}
	log.WithComponent("main").Info("coinflow run finished")
	return 0
}

func openStore(ctx context.Context, cfg *config.Config, dryRun bool) (storage.ObjectStore, error) {
	if dryRun || !cfg.Storage.S3.Enabled {
		logger.GetLogger().WithComponent("main").WithFields(logger.Fields{
			"dir": cfg.Storage.Local.Dir,
		}).Info("using local object store")
		return storage.NewLocalStore(cfg.Storage.Local.Dir)
	}
	return storage.NewS3Store(ctx, cfg.Storage.S3, cfg.Coinflow.Version)
}
