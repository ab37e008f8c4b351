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

	"github.com/sirupsen/logrus"

	"solana-copy-trader/internal/assembler"
	"solana-copy-trader/internal/balance"
	"solana-copy-trader/internal/bundle"
	"solana-copy-trader/internal/config"
	"solana-copy-trader/internal/discovery"
	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/ingestion"
	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/pipeline"
	"solana-copy-trader/internal/programs"
	"solana-copy-trader/internal/signer"
	"solana-copy-trader/internal/solana"
	"solana-copy-trader/internal/storage"
	"solana-copy-trader/internal/storage/clickhouse"
	"solana-copy-trader/internal/storage/memory"
	"solana-copy-trader/internal/storage/migrations"
	pgstore "solana-copy-trader/internal/storage/postgres"
	redisstore "solana-copy-trader/internal/storage/redis"
	"solana-copy-trader/internal/venue"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config (missing file uses defaults + env)")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	storageMode := flag.String("storage", "", "Override storage.mode: memory or postgres")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	if *storageMode != "" {
		cfg.Storage.Mode = *storageMode
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(2)
		}
	}

	logger := newLogger(cfg.Log)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			logger.WithField("addr", *metricsAddr).Info("starting metrics server")
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("shutting down, waiting for in-flight submissions")
		cancel()

		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Warn("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(cfg.ConfirmationDeadline() + 30*time.Second):
			logger.Error("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("copytrade failed")
	}
	logger.Info("shutdown complete")
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// run wires the service and blocks until ctx ends. Configuration problems
// fail here, before the stream is opened.
func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	target, err := config.ParseWallet(cfg.TargetWallet)
	if err != nil {
		return fmt.Errorf("target wallet: %w", err)
	}
	copySigner, err := signer.Load(cfg.CopyKeypair, cfg.CopyKeypairPath)
	if err != nil {
		return fmt.Errorf("copy keypair: %w", err)
	}
	owner := copySigner.PublicKey()
	sizing, err := cfg.SizingPolicy()
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"target":      target.String(),
		"copy_wallet": owner.String(),
		"sizing":      string(sizing.Mode),
		"venues":      cfg.Venues.Enabled,
	}).Info("starting copytrade")

	node := solana.NewHTTPClient(cfg.RPC.Endpoint,
		solana.WithTimeout(cfg.RPCTimeout()),
		solana.WithMaxRetries(cfg.RPC.MaxRetries),
		solana.WithCommitment(cfg.RPC.Commitment),
		solana.WithRateLimit(cfg.RPC.RequestsPerSecond),
	)
	slot, err := node.GetSlot(ctx)
	if err != nil {
		return fmt.Errorf("rpc %s unreachable: %w", node.Endpoint(), err)
	}
	logger.WithField("slot", slot).Info("rpc node reachable")

	// Extractor and registry carry exactly the enabled venues.
	extractor := discovery.NewExtractor(discovery.ExtractorOptions{Logger: logger, SkipDefaults: true})
	venueOpts := venue.Options{
		Owner:       owner,
		Reader:      venue.NewRPCStateReader(node),
		SlippageBps: cfg.SlippageBps,
		Freshness: venue.Freshness{
			MaxSlotLag:   cfg.Deadlines.MaxSlotLag,
			FetchTimeout: cfg.StateFetchTimeout(),
		},
		Logger: logger,
	}
	registry := venue.NewRegistry()
	for _, v := range cfg.EnabledVenues() {
		switch v {
		case domain.VenuePumpFun:
			a, err := venue.NewPumpFunAdapter(venueOpts)
			if err != nil {
				return err
			}
			registry.Register(a)
			extractor.RegisterParser(programs.PumpFunProgramID, discovery.NewPumpFunParser())
		case domain.VenueRaydiumV4:
			a, err := venue.NewRaydiumAdapter(venueOpts)
			if err != nil {
				return err
			}
			registry.Register(a)
			extractor.RegisterParser(programs.RaydiumV4ProgramID, discovery.NewRaydiumParser())
		default:
			return fmt.Errorf("unknown venue %q", v)
		}
	}
	if err := registry.Require(extractor.Venues()...); err != nil {
		return err
	}

	blockhashes := assembler.NewBlockhashCache(node, assembler.DefaultRefreshAfter, logger)
	asm, err := assembler.New(assembler.Options{
		Signer:          copySigner,
		Blockhashes:     blockhashes,
		Priority:        cfg.PriorityPolicy(),
		MaxBlockhashAge: cfg.BlockhashMaxAge(),
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	relay := bundle.NewJitoClient(cfg.Relay.Endpoint, bundle.JitoOptions{
		RequestsPerSecond: cfg.Relay.RequestsPerSecond,
		Logger:            logger,
	})
	submitter, err := bundle.NewSubmitter(bundle.Options{
		Relay:        relay,
		Statuses:     node,
		Tips:         asm,
		TipLamports:  cfg.Priority.TipLamports,
		Deadline:     cfg.ConfirmationDeadline(),
		PollInterval: cfg.PollInterval(),
		PollRetries:  cfg.Deadlines.PollRetries,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	st, closeStores, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	snapshot := balance.NewSnapshot()
	refresher := balance.NewRefresher(node, owner, snapshot, logger)
	if err := refresher.RefreshSOL(ctx); err != nil {
		return fmt.Errorf("initial balance: %w", err)
	}

	p, err := pipeline.New(pipeline.Options{
		Target:       target,
		Extractor:    extractor,
		Replicator:   registry,
		Assembler:    asm,
		Submitter:    submitter,
		Sizing:       sizing,
		Snapshot:     snapshot,
		Locks:        balance.NewKeyLock(),
		Refresher:    refresher,
		Replications: st.replications,
		Seen:         st.seen,
		Analytics:    st.analytics,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	wsCfg := solana.DefaultWSConfig()
	wsCfg.Logger = logger
	ws, err := solana.NewWSClient(ctx, cfg.Stream.Endpoint, &wsCfg)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer ws.Close()

	stream, err := ingestion.NewWSStream(ingestion.WSStreamOptions{
		WS:           ws,
		Fetcher:      node,
		Target:       target,
		Commitment:   cfg.RPC.Commitment,
		FetchRetries: cfg.Stream.FetchRetries,
		BufferSize:   cfg.Stream.BufferSize,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	runner, err := pipeline.NewRunner(pipeline.RunnerOptions{
		Stream:         stream,
		Processor:      p,
		Blockhashes:    blockhashes,
		Balances:       refresher,
		ReconnectDelay: cfg.ReconnectDelay(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

type stores struct {
	replications storage.ReplicationStore
	seen         storage.SeenSignatureStore
	analytics    storage.SubmissionAnalyticsStore
}

// openStorage selects the journal, dedup and analytics backends.
func openStorage(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*stores, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*stores, func(), error) {
		closeAll()
		return nil, nil, err
	}

	seenOpts := storage.SeenOptions{TTL: cfg.DedupTTL(), Capacity: cfg.Storage.DedupCapacity}
	s := &stores{
		replications: memory.NewReplicationStore(),
		seen:         memory.NewSeenSignatureStore(seenOpts),
	}

	var pool *pgstore.Pool
	if cfg.Storage.Mode == "postgres" || cfg.Storage.Dedup == "postgres" {
		var err error
		pool, err = pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fail(fmt.Errorf("postgres migrations: %w", err))
		}
		logger.Info("postgres migrations applied")
	}
	if cfg.Storage.Mode == "postgres" {
		s.replications = pgstore.NewReplicationStore(pool)
	}

	switch cfg.Storage.Dedup {
	case "postgres":
		s.seen = pgstore.NewSeenSignatureStore(pool, seenOpts)
	case "redis":
		rdb, err := redisstore.NewClient(ctx, cfg.Storage.RedisAddr, "")
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		closers = append(closers, func() { _ = rdb.Close() })
		s.seen = redisstore.NewSeenSignatureStore(rdb, seenOpts)
	}

	if cfg.Storage.Analytics == "clickhouse" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
		if err != nil {
			return fail(fmt.Errorf("clickhouse: %w", err))
		}
		closers = append(closers, func() { _ = conn.Close() })
		s.analytics = clickhouse.NewSubmissionStore(conn)
		logger.Info("clickhouse analytics enabled")
	}

	logger.WithFields(logrus.Fields{
		"journal":   cfg.Storage.Mode,
		"dedup":     cfg.Storage.Dedup,
		"analytics": cfg.Storage.Analytics,
	}).Info("storage ready")
	return s, closeAll, nil
}
