package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-signals/internal/bus"
	"github.com/rxtech-lab/argo-signals/internal/config"
	"github.com/rxtech-lab/argo-signals/internal/export"
	"github.com/rxtech-lab/argo-signals/internal/follower"
	"github.com/rxtech-lab/argo-signals/internal/ingestion"
	"github.com/rxtech-lab/argo-signals/internal/logger"
	"github.com/rxtech-lab/argo-signals/internal/metrics"
	"github.com/rxtech-lab/argo-signals/internal/store"
	"github.com/rxtech-lab/argo-signals/internal/supervisor"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/internal/version"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/rxtech-lab/argo-signals/pkg/marketdata/provider"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// app holds what every sub-command shares.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	store    *store.Store
	bus      *bus.Bus
	shard    follower.Shard
	consumer string
}

// load reads the configuration and builds the logger.
func load(cmd *cli.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLoggerWithDebug(cfg.Debug)
	if err != nil {
		return nil, err
	}

	for _, w := range cfg.Warnings {
		log.Warn("Configuration warning", zap.String("warning", w))
	}

	a := &app{cfg: cfg, log: log}

	if cmd.IsSet("shard") {
		if a.shard, err = follower.ParseShard(cmd.String("shard")); err != nil {
			return nil, err
		}
	} else {
		a.shard = follower.Shard{Index: 0, Count: 1}
	}

	a.consumer = consumerName(cmd.String("consumer"), a.shard)

	return a, nil
}

// consumerName is the stream consumer name of this process. Stable names let
// a restarted process drain its own pending entries.
func consumerName(flag string, shard follower.Shard) string {
	if flag != "" {
		return flag
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = uuid.NewString()[:8]
	}

	if shard.Count > 1 {
		return host + "-" + strconv.Itoa(shard.Index)
	}

	return host
}

func (a *app) connectStore(ctx context.Context) error {
	s, err := store.Connect(ctx, a.cfg.DatabaseURL, store.DefaultPoolOptions, a.log)
	if err != nil {
		return err
	}

	a.store = s

	return nil
}

// checkSchema refuses to start against a database migrated by another
// minor release.
func (a *app) checkSchema(ctx context.Context) error {
	v, ok, err := a.store.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	if !ok {
		a.log.Warn("Database has no recorded schema version, run migrate")

		return nil
	}

	return version.CheckSchemaCompatibility(version.GetVersion(), v)
}

func (a *app) connectBus(ctx context.Context) error {
	b, err := bus.New(ctx, bus.Options{
		Addr:     a.cfg.Redis.Addr(),
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	}, a.log)
	if err != nil {
		return err
	}

	a.bus = b

	return nil
}

// startupPolicy retries an unreachable store or broker until the process is
// stopped.
func (a *app) startupPolicy() supervisor.RetryPolicy {
	initial := a.cfg.Tunables.RestartDelay
	if initial <= 0 {
		initial = time.Second
	}

	return supervisor.RetryPolicy{Initial: initial, Max: 30 * time.Second}
}

// retryStartup runs op until it succeeds, fails with an error that is not
// transient, or ctx is done.
func retryStartup(ctx context.Context, log *logger.Logger, policy supervisor.RetryPolicy, what string, op func(context.Context) error) error {
	attempt := 0

	return supervisor.Retry(ctx, policy, func() error {
		err := op(ctx)
		if err != nil && errors.IsRetryable(err) {
			attempt++
			log.Warn("Startup dependency unavailable, retrying",
				zap.String("dependency", what),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}

		return err
	})
}

func (a *app) close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn("Failed to close bus", zap.Error(err))
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("Failed to close store", zap.Error(err))
		}
	}

	_ = a.log.Sync()
}

// consumerConfig applies the stream tunables to cfg.
func (a *app) consumerConfig(cfg bus.ConsumerConfig) bus.ConsumerConfig {
	cfg.Consumer = cfg.Group + "-" + a.consumer
	cfg.Count = a.cfg.Tunables.StreamBatch
	cfg.Block = a.cfg.Tunables.StreamBlock
	cfg.ClaimMinIdle = a.cfg.Tunables.ClaimMinIdle

	return cfg
}

func (a *app) historical() *provider.BinanceFuturesClient {
	return provider.NewBinanceFuturesClient(provider.BinanceOptions{
		BaseURL: a.cfg.FuturesRESTURL,
		Timeout: a.cfg.Tunables.HistoricalTimeout,
		Retries: a.cfg.Tunables.HistoricalRetries,
	}, a.log)
}

// serviceCommand builds a sub-command that runs the tasks of one or more
// services under a supervisor until the process is stopped.
func serviceCommand(name, usage string, flags []cli.Flag, build func(*app) ([]supervisor.Task, error)) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			policy := a.startupPolicy()

			for _, step := range []struct {
				what string
				op   func(context.Context) error
			}{
				{"store", a.connectStore},
				{"schema", a.checkSchema},
				{"bus", a.connectBus},
			} {
				if err := retryStartup(ctx, a.log, policy, step.what, step.op); err != nil {
					if ctx.Err() != nil {
						a.log.Info("Stopped before startup finished", zap.String("command", name))

						return nil
					}

					return err
				}
			}

			metrics.InitMetrics()

			tasks, err := build(a)
			if err != nil {
				return err
			}

			sup := supervisor.New(a.log,
				supervisor.WithDelays(a.cfg.Tunables.RestartDelay, 30*time.Second),
				supervisor.WithRestartHook(func(task string) {
					metrics.TaskRestarts.WithLabelValues(task).Inc()
				}),
			)
			sup.Add(tasks...)

			a.log.Info("Pipeline started", zap.String("command", name), zap.Int("tasks", len(tasks)))
			err = sup.Run(ctx)
			a.log.Info("Pipeline stopped", zap.String("command", name))

			return err
		},
	}
}

func sweepAction(ctx context.Context, cmd *cli.Command) error {
	a, err := load(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.connectStore(ctx); err != nil {
		return err
	}

	sweeper := ingestion.NewSweeper(a.store, a.historical(), a.log)

	report, err := sweeper.Sweep(ctx, ingestion.SweepOptions{
		Symbols:      cmd.StringSlice("symbol"),
		From:         cmd.Timestamp("from").UTC(),
		To:           cmd.Timestamp("to").UTC(),
		ShowProgress: !cmd.Bool("quiet"),
	})
	if err != nil {
		return err
	}

	a.log.Info("Sweep finished",
		zap.Int("symbols", report.Symbols),
		zap.Int("gaps", len(report.Gaps)),
		zap.Int("filled", report.Filled),
		zap.Int("windows", report.Windows),
	)

	return nil
}

func exportAction(ctx context.Context, cmd *cli.Command) error {
	a, err := load(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.connectStore(ctx); err != nil {
		return err
	}

	since := cmd.Timestamp("since").UTC()

	res, err := export.NewExporter(a.store, a.log).Export(ctx, export.Options{
		OutputDir:    cmd.String("out"),
		Since:        since,
		BarSymbols:   cmd.StringSlice("bars"),
		BarTimeframe: types.Timeframe(cmd.String("timeframe")),
		BarsFrom:     since,
		BarsTo:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	a.log.Info("Export written", zap.String("dir", res.Dir), zap.Int("positions", res.Positions), zap.Int("bars", res.Bars))

	return nil
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	a, err := load(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.connectStore(ctx); err != nil {
		return err
	}

	if err := a.store.Migrate(ctx); err != nil {
		return err
	}

	if err := a.store.RecordSchemaVersion(ctx, version.GetVersion(), time.Now()); err != nil {
		return err
	}

	a.log.Info("Schema is up to date", zap.String("version", version.GetVersion()))

	return nil
}
