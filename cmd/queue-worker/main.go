package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bobmcallan/corequeue/internal/common"
	"github.com/bobmcallan/corequeue/internal/storage/mongo"
	"github.com/bobmcallan/corequeue/internal/worker"
)

func main() {
	configPath := os.Getenv("QUEUE_CONFIG")

	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := common.NewLogger(cfg.Logging.Level)
	common.PrintBanner(cfg, logger)

	ctx := context.Background()

	db, err := mongo.Connect(ctx, &cfg.Mongo)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to mongo")
	}

	queueStore := mongo.NewQueueStore(db, cfg.Mongo.QueueColl, logger)
	lockStore := mongo.NewLockStore(db, cfg.Mongo.LockColl)
	journalStore := mongo.NewJournalStore(db, cfg.Mongo.JournalColl)

	if err := lockStore.EnsureIndexes(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure lock store indexes")
	}

	depth := int(cfg.Worker.GetAvgStatsInterval() / cfg.Worker.GetCollectStatsInterval())
	sampler := worker.NewResourceSampler(depth)

	events := worker.NewEventHub(logger)
	go events.Run()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = cfg.Identity
	}

	selector := worker.NewSelector(
		queueStore, lockStore, sampler, nil, nil, events, logger,
		cfg.Identity, hostname, cfg.Worker.GetMaxCPU(), cfg.Worker.GetMinFreeRAM(),
	)

	supervisor := worker.NewSupervisor(
		queueStore, lockStore, nil, events, logger,
		cfg.Identity, cfg.Worker.GetWallTime(), cfg.Worker.GetZombieTime(),
	)

	w := worker.New(&cfg.Worker, queueStore, lockStore, journalStore, sampler, selector, supervisor, events, logger, cfg.Identity)

	if err := w.RunForeground(ctx); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		events.Stop()
		common.PrintShutdownBanner(logger)
		os.Exit(1)
	}

	events.Stop()
	common.PrintShutdownBanner(logger)
}
