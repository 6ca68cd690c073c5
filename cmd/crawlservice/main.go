package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/common"
	"github.com/ternarybob/crawlservice/internal/server"
	badgerstore "github.com/ternarybob/crawlservice/internal/storage/badger"
	"github.com/ternarybob/crawlservice/internal/worker"
)

// configPaths is a custom flag type that allows multiple -config flags.
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand, overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("crawlservice version %s\n", common.GetVersion())
		os.Exit(0)
	}

	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	common.InstallCrashHandler("./logs")

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	// 5. Open storage, wire server + worker, serve until signalled.

	if len(configFiles) == 0 {
		if _, err := os.Stat("crawlservice.toml"); err == nil {
			configFiles = append(configFiles, "crawlservice.toml")
		} else if _, err := os.Stat("deployments/local/crawlservice.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/crawlservice.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		if len(configFiles) == 0 {
			tempLogger.Fatal().Err(err).Msg("failed to load configuration: no config file found")
		} else {
			tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("failed to load configuration files")
		}
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, finalPort, *serverHost)

	logger := common.SetupLogger(config)
	defer common.Stop()

	common.PrintBanner(config, logger)

	logger.Info().
		Strs("config_files", configFiles).
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Msg("configuration loaded")

	db, err := badgerstore.NewDB(logger, &config.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open badger database")
	}
	defer db.Close()

	jobs := badgerstore.NewJobStorage(db, logger)
	ipUsage := badgerstore.NewIPUsageStorage(db)
	events, err := badgerstore.NewEventStorage(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize event storage")
	}
	artifacts := badgerstore.NewArtifactStorage(db)
	documents := badgerstore.NewDocumentStorage(db)

	srv := server.New(config, logger, jobs, ipUsage, events, artifacts)
	shutdownChan := make(chan struct{})
	srv.SetShutdownChannel(shutdownChan)

	common.SafeGo(logger, "http-server", func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	})

	time.Sleep(100 * time.Millisecond)
	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("server ready - press Ctrl+C to stop")

	workerCtx, stopWorker := context.WithCancel(context.Background())
	w := worker.New(config, logger, jobs, ipUsage, events, artifacts, documents)
	common.SafeGoWithContext(workerCtx, logger, "job-worker", func() {
		w.Run(workerCtx)
	})
	logger.Info().Msg("job worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("interrupt signal received")
	case <-shutdownChan:
		logger.Info().Msg("shutdown requested via HTTP")
	}

	common.PrintShutdownBanner(logger)

	stopWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	logger.Info().Msg("crawlservice stopped")
}
