// Command verifyd runs the contract verification service: it wires the
// canonical store, compiler, chain client, verifier, write-sink fan-out
// policy, job lifecycle event bus, Job Engine, and public API surface
// described by the configuration file, then serves requests until an
// interrupt or termination signal arrives. Grounded on
// cmd/indexer/main.go's flag parsing, .env loading, and signal-driven
// graceful shutdown sequence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/api"
	"github.com/chainverify/verifyd/internal/cache"
	"github.com/chainverify/verifyd/internal/config"
	"github.com/chainverify/verifyd/internal/fanout"
	"github.com/chainverify/verifyd/internal/jobengine"
	"github.com/chainverify/verifyd/internal/logger"
	"github.com/chainverify/verifyd/internal/notify"
	"github.com/chainverify/verifyd/internal/replace"
	"github.com/chainverify/verifyd/internal/sinks"
	"github.com/chainverify/verifyd/internal/store"
	"github.com/chainverify/verifyd/internal/workerpool"
	"github.com/chainverify/verifyd/pkg/chain"
	"github.com/chainverify/verifyd/pkg/compiler"
	"github.com/chainverify/verifyd/pkg/verifier"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (json, console)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("verifyd version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	log, err := initLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting verifyd",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("node_id", cfg.Node.ID),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	st, err := store.Open(store.Config{Path: cfg.CanonicalStore.Path, ReadOnly: cfg.CanonicalStore.ReadOnly}, log)
	if err != nil {
		log.Fatal("failed to open canonical store", zap.Error(err))
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("failed to close canonical store", zap.Error(err))
		}
	}()
	log.Info("canonical store opened", zap.String("path", cfg.CanonicalStore.Path))

	comp, err := compiler.NewSolcCompiler(nil)
	if err != nil {
		log.Fatal("failed to initialize compiler", zap.Error(err))
	}
	defer comp.Close()

	ch, err := newChain(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize chain client", zap.Error(err))
	}

	v := verifier.NewBytecodeVerifier()

	writeOrErr, writeOrWarn, readSink, debug, err := buildSinks(ctx, cfg, st, log)
	if err != nil {
		log.Fatal("failed to initialize sinks", zap.Error(err))
	}
	policy := fanout.New(writeOrErr, writeOrWarn, readSink, log)

	var activeRead sinks.ReadSink = readSink
	var readCache *cache.ReadThroughCache
	if cfg.Cache.Enabled {
		readCache = cache.New(cache.Config{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			TTL:      cfg.Cache.TTL,
		}, readSink, log)
		activeRead = readCache
		defer readCache.Close()
		log.Info("read-through cache enabled", zap.String("addr", cfg.Cache.Addr))
	}

	notifier, err := notify.New(notify.Config{
		Type: cfg.EventBus.Type,
		Kafka: notify.KafkaConfig{
			Brokers:      cfg.EventBus.Kafka.Brokers,
			Topic:        cfg.EventBus.Kafka.Topic,
			ClientID:     cfg.EventBus.Kafka.ClientID,
			RequiredAcks: cfg.EventBus.Kafka.RequiredAcks,
		},
	}, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer notifier.Close()
	log.Info("event bus initialized", zap.String("type", cfg.EventBus.Type))

	engine := jobengine.New(
		jobengine.Config{VerificationEndpoint: fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port)},
		&workerpool.Config{NumWorkers: cfg.WorkerPool.NumWorkers, QueueSize: cfg.WorkerPool.QueueSize, TaskTimeout: cfg.WorkerPool.TaskTimeout},
		st, comp, ch, v, policy, debug, notifier, log,
	)
	engine.Start()
	defer engine.Close()
	log.Info("job engine started", zap.Int("workers", cfg.WorkerPool.NumWorkers))

	// replaceEngine services the maintainer-only Replace Engine path
	// (spec.md §4.8), exposed over HTTP behind a shared-secret header; an
	// unset VERIFYD_ADMIN_TOKEN simply leaves the route disabled.
	replaceEngine := replace.New(st, comp, ch, v, log)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(api.Config{
			Host:                   cfg.API.Host,
			Port:                   cfg.API.Port,
			EnableGraphQL:          cfg.API.EnableGraphQL,
			EnableWebSocket:        cfg.API.EnableWebSocket,
			EnableCORS:             cfg.API.EnableCORS,
			AllowedOrigins:         cfg.API.AllowedOrigins,
			AdmissionRatePerSecond: 50,
			AdmissionBurst:         100,
			AdminToken:             os.Getenv("VERIFYD_ADMIN_TOKEN"),
		}, engine, activeRead, notifier, replaceEngine, log)

		go func() {
			if err := apiServer.ListenAndServe(); err != nil {
				log.Error("api server failed", zap.Error(err))
			}
		}()
		log.Info("api server listening", zap.String("host", cfg.API.Host), zap.Int("port", cfg.API.Port))
	}

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case <-ctx.Done():
	}

	log.Info("shutting down gracefully...")
	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to stop api server gracefully", zap.Error(err))
		}
	}

	log.Info("verifyd stopped")
}

// newChain constructs the single Chain collaborator the Job Engine
// dispatches bytecode reads through. The engine is wired against one
// chain per process (spec.md §4.6's Chain collaborator takes no chain id
// parameter); the first configured chain is active, matching how
// single-chain deployments of this service are expected to run.
func newChain(cfg *config.Config, log *zap.Logger) (chain.Chain, error) {
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("at least one chain must be configured")
	}
	primary := cfg.Chains[0]
	return chain.NewRPCChain(chain.Config{
		Endpoint: primary.Endpoint,
		Timeout:  primary.Timeout,
		Logger:   log,
	})
}

// buildSinks constructs every WriteSink named in cfg.Sinks.WriteOrErr/
// WriteOrWarn plus the single active ReadSink, per spec.md §4.3/§4.4.
// debug is non-nil only when the configured write sinks include one that
// also implements jobengine.DebugArtifactUploader (the S3 sink, keyed to a
// separate bucket).
func buildSinks(ctx context.Context, cfg *config.Config, st *store.Store, log *zap.Logger) (writeOrErr, writeOrWarn []sinks.WriteSink, read sinks.ReadSink, debug jobengine.DebugArtifactUploader, err error) {
	build := func(identifier string) (sinks.WriteSink, error) {
		switch sinks.Identifier(identifier) {
		case sinks.IdentifierSourcifyDatabase:
			return sinks.NewCanonicalStoreSink(st), nil
		case sinks.IdentifierAllianceDatabase:
			return sinks.NewAllianceDatabaseSink(sinks.AllianceConfig{
				DSN:             cfg.Sinks.Alliance.DSN,
				MaxOpenConns:    cfg.Sinks.Alliance.MaxOpenConns,
				MaxIdleConns:    cfg.Sinks.Alliance.MaxIdleConns,
				ConnMaxIdleTime: cfg.Sinks.Alliance.ConnMaxIdleTime,
				ConnMaxLifetime: cfg.Sinks.Alliance.ConnMaxLifetime,
			}, log)
		case sinks.IdentifierRepositoryV1:
			return sinks.NewFilesystemSink(cfg.Sinks.Filesystem.Root, sinks.IdentifierRepositoryV1), nil
		case sinks.IdentifierRepositoryV2:
			return sinks.NewFilesystemSink(cfg.Sinks.Filesystem.Root, sinks.IdentifierRepositoryV2), nil
		case sinks.IdentifierS3Repository:
			return sinks.NewS3RepositorySink(sinks.S3Config{Bucket: cfg.Sinks.S3.Bucket, Region: cfg.Sinks.S3.Region})
		case sinks.IdentifierEtherscanVerify:
			return newExplorerSink(ctx, sinks.FamilyEtherscan, cfg.ExternalVerifiers.Etherscan, st, log)
		case sinks.IdentifierBlockscoutVerify:
			return newExplorerSink(ctx, sinks.FamilyBlockscout, cfg.ExternalVerifiers.Blockscout, st, log)
		case sinks.IdentifierRoutescanVerify:
			return newExplorerSink(ctx, sinks.FamilyRoutescan, cfg.ExternalVerifiers.Routescan, st, log)
		default:
			return nil, fmt.Errorf("unknown sink identifier %q", identifier)
		}
	}

	for _, id := range cfg.Sinks.WriteOrErr {
		sink, buildErr := build(id)
		if buildErr != nil {
			return nil, nil, nil, nil, fmt.Errorf("writeOrErr sink %q: %w", id, buildErr)
		}
		if initErr := sink.Init(ctx); initErr != nil {
			return nil, nil, nil, nil, fmt.Errorf("writeOrErr sink %q: init: %w", id, initErr)
		}
		writeOrErr = append(writeOrErr, sink)
		if uploader, ok := sink.(jobengine.DebugArtifactUploader); ok && cfg.DebugDataStore.Enabled {
			debug = uploader
		}
	}
	for _, id := range cfg.Sinks.WriteOrWarn {
		sink, buildErr := build(id)
		if buildErr != nil {
			return nil, nil, nil, nil, fmt.Errorf("writeOrWarn sink %q: %w", id, buildErr)
		}
		if initErr := sink.Init(ctx); initErr != nil {
			return nil, nil, nil, nil, fmt.Errorf("writeOrWarn sink %q: init: %w", id, initErr)
		}
		writeOrWarn = append(writeOrWarn, sink)
		if uploader, ok := sink.(jobengine.DebugArtifactUploader); ok && cfg.DebugDataStore.Enabled && debug == nil {
			debug = uploader
		}
	}

	switch sinks.Identifier(cfg.Sinks.Read) {
	case sinks.IdentifierSourcifyDatabase, "":
		read = sinks.NewStoreReadSink(st)
	default:
		return nil, nil, nil, nil, fmt.Errorf("unsupported read sink identifier %q (only SourcifyDatabase is backed by a ReadSink)", cfg.Sinks.Read)
	}

	return writeOrErr, writeOrWarn, read, debug, nil
}

func newExplorerSink(ctx context.Context, family sinks.ExplorerFamily, cfg config.ExplorerConfig, st *store.Store, log *zap.Logger) (*sinks.ExplorerSink, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("explorer family %s is not enabled in configuration", family)
	}
	directory := sinks.NewHTTPDirectoryFetcher(cfg.DirectoryURL)
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.APIKey != "" {
		return sinks.NewExplorerSinkWithAPIKey(ctx, family, cfg.APIKey, directory, httpClient, st, log)
	}
	return sinks.NewExplorerSink(ctx, family, directory, httpClient, st, log)
}

func loadConfig(configFile string) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func initLogger(level, format string) (*zap.Logger, error) {
	if format == "json" || format == "production" {
		return logger.NewProduction()
	}
	cfg := logger.Config{Level: level, Encoding: "console", Development: true}
	return logger.NewWithConfig(&cfg)
}
