package main

import (
	"context"

	"github.com/spf13/cobra"
	apiserver "github.com/trendboard/opportunity-planner/internal/api_server"
	"github.com/trendboard/opportunity-planner/internal/config"
	handlers "github.com/trendboard/opportunity-planner/internal/handlers/v1"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the API server, the metrics server and the worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(true, true)
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run only the API and metrics servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(true, false)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(false, true)
	},
}

func serve(withAPI, withWorkers bool) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	teardown := setupLogging(cfg)
	defer teardown()

	zap.S().Info("Starting opportunity planner")
	defer zap.S().Info("Opportunity planner stopped")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := signalContext()
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if withAPI {
		if err := startServers(ctx, g, a); err != nil {
			return err
		}
	}

	if withWorkers {
		pool, err := a.newPool()
		if err != nil {
			return err
		}
		g.Go(func() error {
			return pool.Run(ctx)
		})
	}

	return g.Wait()
}

func startServers(ctx context.Context, g *errgroup.Group, a *app) error {
	listener, err := newListener(a.cfg.Service.Address)
	if err != nil {
		return err
	}

	metricsListener, err := newListener(a.cfg.Service.MetricsAddress)
	if err != nil {
		_ = listener.Close()
		return err
	}

	server := apiserver.New(a.cfg, handlers.NewServiceHandler(a.boards, a.jobs), listener)
	metricsServer := apiserver.NewMetricServer(a.cfg.Service.MetricsAddress, metricsListener)

	g.Go(func() error {
		return server.Run(ctx)
	})
	g.Go(func() error {
		return metricsServer.Run(ctx)
	})

	return nil
}
