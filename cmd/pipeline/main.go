package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rxtech-lab/argo-signals/internal/config"
	"github.com/rxtech-lab/argo-signals/internal/types"
	"github.com/rxtech-lab/argo-signals/internal/version"
	"github.com/rxtech-lab/argo-signals/pkg/errors"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		if errors.HasCode(err, errors.ErrCodeConfigInvalid) {
			fmt.Fprintln(os.Stderr, "Invalid configuration:", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}

		stop()
		os.Exit(1)
	}
}

var dateLayouts = cli.TimestampConfig{
	Layouts: []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"},
}

func shardFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "shard",
		Usage: "Shard of the open positions owned by this process, as `i/n`",
	}
}

func consumerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "consumer",
		Usage: "Stream consumer name. Defaults to the host name",
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "pipeline",
		Usage:   "Market data, signal and position pipeline for perpetual futures",
		Version: version.GetVersion(),
		Commands: []*cli.Command{
			serviceCommand("ingest", "Follow live candles and mark prices, repair missing minute bars", nil, ingestTasks),
			serviceCommand("aggregate", "Build M5 to H4 bars from minute bars", nil, aggregateTasks),
			serviceCommand("indicators", "Compute indicators on every closed bar", nil, indicatorTasks),
			serviceCommand("router", "Route signal phrases to strategy tasks", []cli.Flag{consumerFlag()}, routerTasks),
			serviceCommand("runtime", "Evaluate strategy tasks and open positions", []cli.Flag{consumerFlag(), shardFlag()}, runtimeTasks),
			serviceCommand("follower", "Follow open positions against the mark price", []cli.Flag{shardFlag()}, followerTasks),
			serviceCommand("webhook", "Accept signals over HTTP", nil, webhookTasks),
			serviceCommand("all", "Run every service in one process", []cli.Flag{consumerFlag(), shardFlag()}, allTasks),
			sweepCommand(),
			exportCommand(),
			schemaCommand(),
			migrateCommand(),
		},
	}
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Fill missing minute bars from the historical API and rebuild M5 and M15",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "symbol",
				Aliases: []string{"s"},
				Usage:   "Symbol to sweep, repeatable. Defaults to every symbol with minute bars",
			},
			&cli.TimestampFlag{
				Name:     "from",
				Usage:    "Start of the range in `YYYY-MM-DD` format (or RFC3339)",
				Config:   dateLayouts,
				Required: true,
			},
			&cli.TimestampFlag{
				Name:   "to",
				Usage:  "End of the range. Defaults to now",
				Value:  time.Now().UTC(),
				Config: dateLayouts,
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Hide the progress bar",
			},
		},
		Action: sweepAction,
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write closed positions, and optionally bars, to parquet",
		Flags: []cli.Flag{
			&cli.TimestampFlag{
				Name:     "since",
				Usage:    "Export positions closed at or after `YYYY-MM-DD` (or RFC3339)",
				Config:   dateLayouts,
				Required: true,
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output directory",
				Value:   "exports",
			},
			&cli.StringSliceFlag{
				Name:  "bars",
				Usage: "Also export bars of this symbol, repeatable",
			},
			&cli.StringFlag{
				Name:  "timeframe",
				Usage: "Timeframe of the exported bars",
				Value: string(types.TimeframeM5),
			},
		},
		Action: exportAction,
	}
}

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Print the JSON schema of the tunables file",
		Action: func(context.Context, *cli.Command) error {
			schema, err := config.TunablesSchema()
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(os.Stdout, schema)

			return err
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Create the database schema",
		Action: migrateAction,
	}
}
