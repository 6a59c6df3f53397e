package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/trendboard/opportunity-planner/internal/archive"
	"github.com/trendboard/opportunity-planner/internal/cache"
	"github.com/trendboard/opportunity-planner/internal/config"
	"github.com/trendboard/opportunity-planner/internal/evidence"
	"github.com/trendboard/opportunity-planner/internal/opa"
	"github.com/trendboard/opportunity-planner/internal/queue"
	"github.com/trendboard/opportunity-planner/internal/scorer"
	"github.com/trendboard/opportunity-planner/internal/service"
	"github.com/trendboard/opportunity-planner/internal/store"
	"github.com/trendboard/opportunity-planner/internal/synthesizer"
	"github.com/trendboard/opportunity-planner/internal/validation"
	"github.com/trendboard/opportunity-planner/internal/worker"
	"github.com/trendboard/opportunity-planner/pkg/log"
	"github.com/trendboard/opportunity-planner/pkg/migrations"
	"go.uber.org/zap"
)

// app holds the components shared by the api and worker commands.
type app struct {
	cfg      *config.Config
	store    store.Store
	queue    *queue.Queue
	provider evidence.Provider
	boards   *service.BoardService
	jobs     *service.JobService
}

// setupLogging installs the process logger and returns its teardown.
func setupLogging(cfg *config.Config) func() {
	logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel), cfg.Service.LogFormat)
	undo := zap.ReplaceGlobals(logger)
	return func() {
		_ = logger.Sync()
		undo()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
}

func newApp(cfg *config.Config) (*app, error) {
	zap.S().Info("Initializing data store")
	db, err := store.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing data store: %w", err)
	}

	if err := migrations.MigrateStore(db); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s := store.NewStore(db)
	q := queue.NewQueue(s, queue.NewRetryPolicy(cfg.Worker))
	provider := evidence.NewStoreProvider(s)
	boardCache := cache.NewTTLCache[service.BoardView](cfg.Cache.TTL, cfg.Cache.SchemaVersion)

	return &app{
		cfg:      cfg,
		store:    s,
		queue:    q,
		provider: provider,
		boards:   service.NewBoardService(s, q, provider, boardCache, cfg.Service.AutoEnqueueMinimum),
		jobs:     service.NewJobService(q),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// newPool wires the generation pipeline on top of the shared components.
func (a *app) newPool() (*worker.Pool, error) {
	policy, err := opa.NewValidatorFromDir(a.cfg.Service.PoliciesDir)
	if err != nil {
		return nil, fmt.Errorf("loading policies: %w", err)
	}

	validator, err := validation.NewValidator(a.cfg.Validation)
	if err != nil {
		return nil, fmt.Errorf("building validator: %w", err)
	}

	synth, err := synthesizer.NewAnthropicSynthesizer(a.cfg.Synthesizer)
	if err != nil {
		return nil, fmt.Errorf("building synthesizer: %w", err)
	}

	executor := worker.NewExecutor(a.cfg, a.provider, synth, validator, scorer.NewHeuristicScorer(policy, a.cfg.Scoring.StrongThreshold))
	pool := worker.NewPool(a.cfg.Worker, a.store, a.queue, executor, a.boards)

	if a.cfg.Archive.Enabled {
		archiver, err := archive.NewMinioArchiver(
			archive.WithEndpoint(a.cfg.Archive.Endpoint),
			archive.WithBucket(a.cfg.Archive.Bucket),
			archive.WithAccessKey(a.cfg.Archive.AccessKey),
			archive.WithSecretKey(a.cfg.Archive.SecretKey),
			archive.WithSSL(a.cfg.Archive.UseSSL),
		)
		if err != nil {
			return nil, fmt.Errorf("building archiver: %w", err)
		}
		pool = pool.WithArchiver(archiver)
	}

	return pool, nil
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
