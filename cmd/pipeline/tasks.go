package main

import (
	"context"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/aggregator"
	"github.com/rxtech-lab/argo-signals/internal/follower"
	"github.com/rxtech-lab/argo-signals/internal/indicator"
	"github.com/rxtech-lab/argo-signals/internal/ingestion"
	"github.com/rxtech-lab/argo-signals/internal/router"
	"github.com/rxtech-lab/argo-signals/internal/strategy"
	"github.com/rxtech-lab/argo-signals/internal/supervisor"
	"github.com/rxtech-lab/argo-signals/pkg/marketdata/provider"
)

func ingestTasks(a *app) ([]supervisor.Task, error) {
	feed := provider.NewBinanceStream(provider.BinanceStreamOptions{
		BaseURL:          a.cfg.FuturesWSURL,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      2 * time.Minute,
	}, a.log)

	opts := ingestion.DefaultOptions()
	opts.RefreshInterval = a.cfg.Tunables.RefreshInterval
	opts.GapCheckInterval = a.cfg.Tunables.GapCheckInterval
	opts.RepairInterval = a.cfg.Tunables.RepairInterval
	opts.RepairBatch = a.cfg.Tunables.RepairBatch
	opts.MarkPriceInterval = a.cfg.Tunables.MarkPriceInterval

	svc := ingestion.New(a.store, a.bus, a.bus, feed, a.historical(), opts, a.log)

	return []supervisor.Task{{
		Name: "ingestion",
		Run:  func(ctx context.Context) error { return svc.Run(ctx, a.bus) },
	}}, nil
}

func aggregateTasks(a *app) ([]supervisor.Task, error) {
	agg := aggregator.New(a.store, a.bus, a.log)

	return []supervisor.Task{{
		Name: "aggregator",
		Run:  func(ctx context.Context) error { return agg.Run(ctx, a.bus) },
	}}, nil
}

func indicatorTasks(a *app) ([]supervisor.Task, error) {
	opts := indicator.DefaultOptions()
	opts.FrameBars = a.cfg.Tunables.IndicatorBars
	opts.Workers = a.cfg.Tunables.IndicatorWorkers
	opts.Retention = a.cfg.Tunables.RetentionRows
	opts.RefreshInterval = a.cfg.Tunables.RefreshInterval

	engine := indicator.NewEngine(a.store, indicator.DefaultRegistry(), a.bus, a.bus, opts, a.log)

	return []supervisor.Task{{
		Name: "indicators",
		Run:  func(ctx context.Context) error { return engine.Run(ctx, a.bus) },
	}}, nil
}

func routerTasks(a *app) ([]supervisor.Task, error) {
	opts := router.DefaultOptions()
	opts.RefreshInterval = a.cfg.Tunables.RefreshInterval
	opts.Consumer = a.consumerConfig(opts.Consumer)

	r := router.New(a.store, a.bus, a.bus, opts, a.log)

	return []supervisor.Task{{
		Name: "router",
		Run:  func(ctx context.Context) error { return r.Run(ctx, a.bus, a.bus) },
	}}, nil
}

func webhookTasks(a *app) ([]supervisor.Task, error) {
	hook := router.NewWebhook(a.bus, a.log)

	return []supervisor.Task{{
		Name: "webhook",
		Run:  func(ctx context.Context) error { return hook.Serve(ctx, a.cfg.HTTPAddr) },
	}}, nil
}

func (a *app) newRuntime() *strategy.Runtime {
	opts := strategy.DefaultOptions()
	opts.Tasks = a.consumerConfig(opts.Tasks)
	opts.Closes = a.consumerConfig(opts.Closes)

	indicators := strategy.NewScratchpadIndicators(a.bus, a.store)

	return strategy.New(a.store, indicators, strategy.DefaultEvaluators(), a.bus, opts, a.log)
}

func (a *app) newFollower() *follower.Follower {
	opts := follower.DefaultOptions()
	opts.Tick = a.cfg.Tunables.FollowerTick
	opts.RefreshInterval = a.cfg.Tunables.FollowerRefreshInterval
	opts.Commission = a.cfg.Tunables.Commission()
	opts.Shard = a.shard

	return follower.New(a.store, strategy.NewScratchpadIndicators(a.bus, a.store), a.bus, opts, a.log)
}

func runtimeTask(a *app, rt *strategy.Runtime) supervisor.Task {
	return supervisor.Task{
		Name: "runtime",
		Run:  func(ctx context.Context) error { return rt.Run(ctx, a.bus) },
	}
}

func followerTask(a *app, f *follower.Follower) supervisor.Task {
	return supervisor.Task{
		Name: "follower",
		Run:  func(ctx context.Context) error { return f.Run(ctx, a.bus) },
	}
}

func runtimeTasks(a *app) ([]supervisor.Task, error) {
	return []supervisor.Task{runtimeTask(a, a.newRuntime())}, nil
}

func followerTasks(a *app) ([]supervisor.Task, error) {
	return []supervisor.Task{followerTask(a, a.newFollower())}, nil
}

// allTasks runs every service in one process. The runtime hands opened
// positions straight to the follower.
func allTasks(a *app) ([]supervisor.Task, error) {
	var tasks []supervisor.Task

	for _, build := range []func(*app) ([]supervisor.Task, error){
		ingestTasks, aggregateTasks, indicatorTasks, routerTasks, webhookTasks,
	} {
		t, err := build(a)
		if err != nil {
			return nil, err
		}

		tasks = append(tasks, t...)
	}

	rt := a.newRuntime()
	f := a.newFollower()
	rt.HandOff(f.HandOff())

	return append(tasks, runtimeTask(a, rt), followerTask(a, f)), nil
}
