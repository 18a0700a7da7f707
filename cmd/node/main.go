package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/uhyunpark/zklite/params"
	"github.com/uhyunpark/zklite/pkg/api"
	"github.com/uhyunpark/zklite/pkg/app/core/events"
	"github.com/uhyunpark/zklite/pkg/app/core/ledger"
	"github.com/uhyunpark/zklite/pkg/app/engine"
	"github.com/uhyunpark/zklite/pkg/app/sequencer"
	"github.com/uhyunpark/zklite/pkg/broker"
	"github.com/uhyunpark/zklite/pkg/crypto"
	"github.com/uhyunpark/zklite/pkg/storage"
	"github.com/uhyunpark/zklite/pkg/util"
	"go.uber.org/zap"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewNodeLogger(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
}

func run(cfg params.Config, sugar *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "state"))
	if err != nil {
		return err
	}
	defer store.Close()

	// ---- Ledger (dev token balances) ----
	mem := ledger.NewMemory(ledger.WithPersister(store), ledger.WithLogger(sugar))
	balances, allowances, err := store.LoadLedger()
	if err != nil {
		return err
	}
	mem.Restore(balances, allowances)

	// ---- Event sinks ----
	hub := api.NewHub(sugar)
	sinks := events.Multi{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := broker.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, sugar)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		sugar.Infow("kafka_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// ---- Engine ----
	eng, err := engine.New(engine.Config{
		Address: cfg.Domain.VerifyingContract,
		Admin:   cfg.Admin,
		Domain: crypto.EIP712Domain{
			Name:    cfg.Domain.Name,
			Version: cfg.Domain.Version,
			ChainID: big.NewInt(cfg.Domain.ChainID),
		},
	}, mem,
		engine.WithStore(store),
		engine.WithSink(sinks),
		engine.WithLogger(sugar),
	)
	if err != nil {
		return err
	}
	if err := createGenesisPairs(ctx, cfg, eng, sugar); err != nil {
		return err
	}

	seq := sequencer.New(cfg.Node.QueueSize, sugar)
	go seq.Run(ctx)

	// ---- API Server ----
	apiCfg := api.Config{
		Engine:      eng,
		Sequencer:   seq,
		Hub:         hub,
		Journal:     store,
		Relayer:     cfg.Relayer,
		CORSOrigins: cfg.CORSOrigins,
		Log:         sugar,
	}
	if cfg.Node.DevFaucet {
		apiCfg.Faucet = mem
		sugar.Warnw("dev_faucet_enabled")
	}
	apiServer, err := api.NewServer(apiCfg)
	if err != nil {
		return err
	}

	sugar.Infow("node_starting",
		"engine", eng.Address().Hex(),
		"admin", eng.Admin().Hex(),
		"relayer", cfg.Relayer.Hex(),
		"chain_id", cfg.Domain.ChainID,
		"pairs", len(eng.ListPairs()),
		"active_orders", len(eng.ActiveOrderIDs()),
	)

	go logProgress(ctx, eng, seq, sugar)

	return apiServer.Start(ctx, cfg.Node.APIAddr)
}

// createGenesisPairs seeds the configured pairs on an empty store.
func createGenesisPairs(ctx context.Context, cfg params.Config, eng *engine.Engine, sugar *zap.SugaredLogger) error {
	if len(eng.ListPairs()) > 0 {
		return nil
	}
	pairs, err := cfg.Pairs()
	if err != nil {
		return err
	}
	for _, p := range pairs {
		created, err := eng.CreatePair(ctx, eng.Admin(), p)
		if err != nil {
			return err
		}
		sugar.Infow("genesis_pair_created", "pair_id", created.ID, "base", created.BaseAsset.Hex(), "quote", created.QuoteAsset.Hex())
	}
	return nil
}

func logProgress(ctx context.Context, eng *engine.Engine, seq *sequencer.Sequencer, sugar *zap.SugaredLogger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sugar.Infow("engine_status",
				"active_orders", len(eng.ActiveOrderIDs()),
				"queue", seq.Len(),
			)
		}
	}
}
