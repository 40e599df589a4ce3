// Command marketd runs the prediction marketplace daemon: it migrates the
// job store, recovers admission state, and serves orchestrated execution
// plus the lease expiry sweep until interrupted.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/oraclade/predictmarket"
	"github.com/oraclade/predictmarket/pkg/core"
	"github.com/oraclade/predictmarket/pkg/market"
	"github.com/oraclade/predictmarket/pkg/orchestrator"
	"github.com/oraclade/predictmarket/pkg/schedule"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "path to an optional .env file",
		Value: ".env",
	}

	app := &cli.Command{
		Name:  "marketd",
		Usage: "prediction marketplace daemon",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the marketplace core until interrupted",
				Flags:  []cli.Flag{envFlag},
				Action: serveAction,
			},
			{
				Name:   "migrate",
				Usage:  "create or update the job store schema",
				Flags:  []cli.Flag{envFlag},
				Action: migrateAction,
			},
			{
				Name:  "jobs",
				Usage: "inspect the job store",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list jobs, newest first",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:  "owner",
								Usage: "filter by owner principal",
							},
							&cli.StringFlag{
								Name:  "state",
								Usage: "filter by state (pending/processing/completed/failed/cancelled)",
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "maximum rows",
								Value: 50,
							},
						},
						Action: jobsListAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func openStore(cmd *cli.Command) (*predictmarket.GormStore, *config, error) {
	cfg, err := loadConfig(cmd.String("env"))
	if err != nil {
		return nil, nil, err
	}
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return predictmarket.NewGormStore(db), cfg, nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	store, cfg, err := openStore(cmd)
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	registry := predictmarket.NewRegistry()
	registerBuiltins(registry)

	var sweep predictmarket.Schedule
	if cfg.SweepCron != "" {
		sweep = schedule.Cron(cfg.SweepCron)
	} else {
		sweep = schedule.Every(cfg.SweepInterval)
	}

	marketOpts := []market.Option{market.WithLogger(slog.Default())}
	if cfg.LeaseDuration > 0 {
		marketOpts = append(marketOpts, market.WithLeaseDuration(cfg.LeaseDuration))
	}
	if cfg.MaxClaims > 0 {
		marketOpts = append(marketOpts, market.WithMaxClaims(cfg.MaxClaims))
	}

	svc, err := predictmarket.NewService(ctx, store, registry, predictmarket.ServiceConfig{
		AdmissionLimit: cfg.AdmissionLimit,
		SweepSchedule:  sweep,
		MarketOptions:  marketOpts,
		OrchestratorOpt: []orchestrator.Option{
			orchestrator.Concurrency(cfg.Concurrency),
			orchestrator.QueueDepth(cfg.QueueDepth),
			orchestrator.WithLogger(slog.Default()),
		},
	})
	if err != nil {
		return fmt.Errorf("wire service: %w", err)
	}

	go logEvents(ctx, svc.Bus)

	slog.Info("marketd serving",
		"database", cfg.DatabaseURL,
		"concurrency", cfg.Concurrency,
		"admission_limit", svc.Admission.Limit(),
		"pipelines", registry.Names(predictmarket.KindPipeline))

	if err := svc.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	slog.Info("marketd stopped")
	return nil
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	store, cfg, err := openStore(cmd)
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	slog.Info("schema up to date", "database", cfg.DatabaseURL)
	return nil
}

func jobsListAction(ctx context.Context, cmd *cli.Command) error {
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}

	jobs, err := store.Query(ctx, predictmarket.Filter{
		Owner: cmd.String("owner"),
		State: core.JobState(cmd.String("state")),
		Limit: int(cmd.Int("limit")),
	})
	if err != nil {
		return fmt.Errorf("query jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Println("no jobs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNER\tSTATE\tMODE\tPIPELINE\tCLAIMS\tCREATED")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			job.ID, job.Owner, job.State, job.Mode, job.Pipeline,
			job.ClaimCount, job.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func logEvents(ctx context.Context, bus *predictmarket.Bus) {
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			switch ev := e.(type) {
			case *predictmarket.JobFailed:
				slog.Warn("job failed", "job_id", ev.Job.ID, "error", ev.Job.Error)
			case *predictmarket.LeaseExpired:
				slog.Info("lease expired", "job_id", ev.JobID, "holder", ev.Holder, "requeued", ev.Requeued)
			}
		}
	}
}
