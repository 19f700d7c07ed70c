// Command fleetctl is the fleet controller process: it loads configuration,
// opens the store, wires every control-loop engine, and runs the scheduler
// job table until signalled to stop. Flags and subcommands use
// github.com/urfave/cli/v2; the `status` subcommand prints a human-readable
// table with github.com/olekukonko/tablewriter.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	mf "github.com/RenegadeUK/home-miner-manager-sub000"
	"github.com/RenegadeUK/home-miner-manager-sub000/configs"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/db"
	"github.com/RenegadeUK/home-miner-manager-sub000/internal/logging"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/adapter"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/agilesolo"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/alerts"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/automation"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/energy"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/healthscore"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/highdiff"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/ingest"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/poolhealth"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/poolstrategy"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/reconcile"
	"github.com/RenegadeUK/home-miner-manager-sub000/pkg/scheduler"
)

func main() {
	app := &cli.App{
		Name:  "fleetctl",
		Usage: "run and inspect the miner fleet controller",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "configs/config.yml", Usage: "path to config YAML"},
			&cli.StringFlag{Name: "env", Value: "", Usage: "optional .env secret overlay"},
		},
		Action: runCmd,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the scheduler until interrupted",
				Action: runCmd,
			},
			{
				Name:   "status",
				Usage:  "print a snapshot of every enabled miner's latest telemetry",
				Action: statusCmd,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(c *cli.Context) (*configs.Config, *db.Store, *slog.Logger, func(), error) {
	cfg, err := configs.Load(c.String("config"), c.String("env"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	data := cfg.Get()

	logger, closeLogging, err := logging.New(logging.Config{
		FilePath:   data.Logging.FilePath,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
		SentryDSN:  data.Logging.SentryDSN,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("init logging: %w", err)
	}

	store, err := db.Open(data.Database.DSN)
	if err != nil {
		closeLogging()
		return nil, nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, store, logger, closeLogging, nil
}

func newAdapterFactory() func(m mf.Miner) (adapter.Adapter, error) {
	return func(m mf.Miner) (adapter.Adapter, error) {
		port := 0
		if m.Port != nil {
			port = *m.Port
		}
		return adapter.New(m.Family, m.Host, port, m.Config)
	}
}

func runCmd(c *cli.Context) error {
	cfg, store, logger, closeLogging, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeLogging()
	defer store.Close()

	newAdapter := newAdapterFactory()
	data := cfg.Get()

	hdTracker := highdiff.New(store, nil) // block-explorer client supplied by the deployment, if any
	collector := ingest.New(store, newAdapter, hdTracker)
	slotSyncer := ingest.NewSlotSyncer(store, newAdapter)

	nmListener, err := newNMMinerListener(store, collector, logger)
	if err != nil {
		logger.Warn("nmminer udp listener disabled", "err", err)
	}
	energySvc := energy.New(store, nil, data.OctopusAgile.Region) // tariff client supplied by the deployment, if any
	phMonitor := poolhealth.New(store)
	agileEngine := agilesolo.New(store, data.OctopusAgile.Region, newAdapter)
	psEngine := poolstrategy.New(store, newAdapter, data.OctopusAgile.Region,
		data.EnergyOptimization.Enabled, data.EnergyOptimization.PriceThreshold)
	autoEngine := automation.New(store, newAdapter, data.OctopusAgile.Region)
	strategyReconciler := reconcile.NewStrategyReconciler(store, newAdapter)
	automationReconciler := reconcile.NewAutomationReconciler(store, newAdapter)
	hsRecorder := healthscore.New(store)
	alertChecker := alerts.New(store, time.Duration(data.Alerts.CooldownMinutes)*time.Minute)

	sched := scheduler.New(logger)

	sched.Register(scheduler.Job{
		Name: "energy-price-refresh", Interval: 30 * time.Minute,
		RunFunc: func(ctx context.Context) {
			if _, err := energySvc.Refresh(ctx, time.Now()); err != nil {
				logger.Warn("energy price refresh failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "telemetry-collection", Interval: 60 * time.Second,
		RunFunc: func(ctx context.Context) { collector.CollectAll(ctx, time.Now()) },
	})
	sched.Register(scheduler.Job{
		Name: "automation-evaluation", Interval: 60 * time.Second,
		RunFunc: func(ctx context.Context) {
			if _, err := autoEngine.EvaluateAll(ctx, time.Now()); err != nil {
				logger.Warn("automation evaluation failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "automation-reconciliation", Interval: 5 * time.Minute,
		RunFunc: func(ctx context.Context) {
			if err := automationReconciler.Run(ctx); err != nil {
				logger.Warn("automation reconciliation failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "alert-checks", Interval: 5 * time.Minute,
		RunFunc: func(ctx context.Context) {
			if _, err := alertChecker.Check(time.Now()); err != nil {
				logger.Warn("alert checks failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "health-score-recording", Interval: time.Hour,
		RunFunc: func(ctx context.Context) {
			if _, err := hsRecorder.Tick(time.Now()); err != nil {
				logger.Warn("health score recording failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "pool-health-monitor", Interval: 5 * time.Minute,
		RunFunc: func(ctx context.Context) {
			if _, err := phMonitor.Tick(ctx, time.Now()); err != nil {
				logger.Warn("pool health monitor failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "pool-strategy-execution", Interval: 5 * time.Minute,
		RunFunc: func(ctx context.Context) {
			if _, err := psEngine.ExecuteAll(ctx, time.Now()); err != nil {
				logger.Warn("pool strategy execution failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "pool-strategy-reconciliation", Interval: 5 * time.Minute,
		RunFunc: func(ctx context.Context) {
			if _, err := strategyReconciler.Run(ctx); err != nil {
				logger.Warn("pool strategy reconciliation failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "pool-slot-sync", Interval: 15 * time.Minute,
		RunFunc: func(ctx context.Context) {
			if err := slotSyncer.SyncAll(ctx); err != nil {
				logger.Warn("pool slot sync failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "agile-solo-execution", InitialDelay: scheduler.InitialDelayToTopOf(time.Now(), 30*time.Minute), Interval: 30 * time.Minute,
		RunFunc: func(ctx context.Context) {
			if _, err := agileEngine.Execute(ctx, time.Now()); err != nil {
				logger.Warn("agile solo execution failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "agile-solo-reconciliation", Interval: 5 * time.Minute,
		RunFunc: func(ctx context.Context) {
			if err := agileEngine.Reconcile(ctx, time.Now()); err != nil {
				logger.Warn("agile solo reconciliation failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "telemetry-purge", Interval: 6 * time.Hour,
		RunFunc: func(ctx context.Context) {
			if _, err := store.PurgeTelemetryBefore(time.Now().Add(-30 * 24 * time.Hour)); err != nil {
				logger.Warn("telemetry purge failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "event-purge", Interval: 24 * time.Hour,
		RunFunc: func(ctx context.Context) {
			if _, err := store.PurgeEventsBefore(time.Now().Add(-30 * 24 * time.Hour)); err != nil {
				logger.Warn("event purge failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "energy-price-purge", Interval: 7 * 24 * time.Hour,
		RunFunc: func(ctx context.Context) {
			if _, err := energySvc.Purge(time.Now()); err != nil {
				logger.Warn("energy price purge failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "high-diff-purge", Interval: 24 * time.Hour,
		RunFunc: func(ctx context.Context) {
			if _, err := hdTracker.Purge(time.Now()); err != nil {
				logger.Warn("high diff purge failed", "err", err)
			}
		},
	})
	sched.Register(scheduler.Job{
		Name: "db-optimise", Interval: 30 * 24 * time.Hour,
		RunFunc: func(ctx context.Context) {
			if err := store.Optimize(); err != nil {
				logger.Warn("db optimise failed", "err", err)
			}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if nmListener != nil {
		go func() {
			if err := nmListener.Serve(ctx); err != nil {
				logger.Warn("nmminer udp listener stopped", "err", err)
			}
		}()
		defer nmListener.Close()
	}

	logger.Info("fleetctl starting", "region", data.OctopusAgile.Region)
	return sched.Start(ctx)
}

// newNMMinerListener builds the shared passive-family UDP listener:
// one adapter per enabled NMMiner miner, registered by IP, with frame
// persistence wired through the same Collector path active families use
// (ingest.Collector.PersistTelemetryRecord) so a delivered frame is stored
// exactly as a polled record would be. The registry is a startup
// snapshot; a miner added after the process starts is picked up on the
// next restart.
func newNMMinerListener(store *db.Store, collector *ingest.Collector, logger *slog.Logger) (*adapter.Listener, error) {
	nmFamily := mf.FamilyNMMiner
	miners, err := store.EnabledMiners(&nmFamily)
	if err != nil {
		return nil, fmt.Errorf("list nmminer miners: %w", err)
	}

	byIP := make(map[string]adapter.Adapter, len(miners))
	for _, m := range miners {
		byIP[m.Host] = adapter.NewNMMinerWithID(m.Host, m.ID)
	}
	registry := adapter.NewRegistry(byIP)

	listener, err := adapter.NewListener(adapter.TelemetryPort, registry, func(format string, args ...any) {
		logger.Warn(fmt.Sprintf(format, args...))
	})
	if err != nil {
		return nil, err
	}
	listener.Persist = func(ctx context.Context, minerID uint, rec *adapter.TelemetryRecord, receivedAt time.Time) {
		if err := collector.PersistTelemetryRecord(ctx, minerID, mf.FamilyNMMiner, nil, rec, receivedAt); err != nil {
			logger.Warn("persist nmminer telemetry failed", "miner_id", minerID, "err", err)
		}
	}
	return listener, nil
}

func statusCmd(c *cli.Context) error {
	_, store, _, closeLogging, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeLogging()
	defer store.Close()

	miners, err := store.EnabledMiners(nil)
	if err != nil {
		return fmt.Errorf("list miners: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Family", "Mode", "Last Seen", "Hashrate", "Pool"})
	for _, m := range miners {
		latest, _ := store.LatestTelemetry(m.ID)
		mode := "-"
		if m.CurrentMode != nil {
			mode = *m.CurrentMode
		}
		lastSeen, hashrate, pool := "never", "-", "-"
		if latest != nil {
			lastSeen = latest.Timestamp.Format(time.RFC3339)
			hashrate = fmt.Sprintf("%.2f %s", latest.Hashrate, latest.HashrateUnit)
			pool = latest.PoolInUse
		}
		table.Append([]string{fmt.Sprintf("%d", m.ID), m.Name, string(m.Family), mode, lastSeen, hashrate, pool})
	}
	table.Render()
	return nil
}
