// Package main provides the entry point for the consensus observer.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"consensus-observer/internal/chain"
	"consensus-observer/internal/collector"
	"consensus-observer/internal/config"
	"consensus-observer/internal/consensus"
	"consensus-observer/internal/logger"
	"consensus-observer/internal/store"
	"consensus-observer/internal/tui"

	dbpkg "consensus-observer/internal/db"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const (
	statusRetries  = 5
	statusInterval = 3 * time.Second
	defaultLogFile = "observer.log"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code once every deferred cleanup has run:
// 2 for bad settings, 1 for runtime failures.
func run() int {
	// Try to load .env from CWD if present; otherwise use environment as-is
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 2
	}

	// The dashboard owns the terminal, so its logs always go to a file
	logPath := cfg.LogPath
	if cfg.Dashboard && logPath == "" {
		logPath = defaultLogFile
	}
	var logWriter io.Writer = os.Stderr
	if logPath != "" {
		logFile, err := logger.OpenFile(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", logPath, err)
			return 1
		}
		defer logFile.Close()
		logWriter = logFile
		fmt.Fprintf(os.Stderr, "Logs written to %s\n", logPath)
	}
	lg, err := logger.New(cfg.LogLevel, logWriter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid LOG_LEVEL %q: %v\n", cfg.LogLevel, err)
		return 2
	}
	lg.Info("Consensus observer starting", "config", cfg.DebugString())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := chain.New(cfg.RPCURL, cfg.AppAPIURL, lg)
	if err != nil {
		lg.Error("Failed to init RPC client", "err", err)
		return 1
	}

	status, err := client.StatusWithRetry(ctx, statusRetries, statusInterval)
	if err != nil {
		lg.Error("RPC node is not reachable", "url", cfg.RPCURL, "err", err)
		return 1
	}
	lg.Info("Connected to RPC",
		"url", cfg.RPCURL,
		"chain_id", status.NodeInfo.Network,
		"latest_block", status.SyncInfo.LatestBlockHeight,
		"latest_block_time", status.SyncInfo.LatestBlockTime,
	)
	if status.SyncInfo.CatchingUp {
		lg.Error("Node is catching up, consensus data may lag", "url", cfg.RPCURL)
	}

	if cfg.Dashboard {
		err = runDashboard(ctx, cancel, cfg, client, lg)
	} else {
		err = runPipelines(ctx, cfg, client, lg)
	}
	if err != nil {
		return 1
	}
	return 0
}

// runPipelines runs the stream and poll pipelines until ctx is cancelled.
// A pipeline that fails at startup does not stop the other one.
func runPipelines(ctx context.Context, cfg config.Config, client *chain.Client, lg log.Logger) error {
	stores := store.Multi{store.NewFileStore(cfg.ResultDir)}

	gormDB, err := dbpkg.Open(cfg, lg)
	if err != nil {
		lg.Error("Failed to connect database", "err", err)
		return err
	}
	if gormDB != nil {
		lg.Info("DB connected")
		if err := dbpkg.AutoMigrate(gormDB); err != nil {
			lg.Error("Failed to run migrations", "err", err)
			return err
		}
		lg.Info("Migrations applied")
		stores = append(stores, dbpkg.NewStore(gormDB))
	} else {
		lg.Info("DATABASE_URL not provided, saving to files only", "dir", cfg.ResultDir)
	}

	coll := collector.NewCollector(cfg, client, stores, lg)
	poller := collector.NewPoller(cfg, client, client, stores, lg)

	var g errgroup.Group
	g.Go(func() error {
		if err := coll.Run(ctx); err != nil {
			lg.Error("Stream pipeline stopped", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := poller.Run(ctx); err != nil {
			lg.Error("Poll pipeline stopped", "err", err)
			return err
		}
		return nil
	})

	err = g.Wait()
	lg.Info("Shutting down")
	return err
}

// runDashboard renders the poll pipeline live. Nothing is persisted.
func runDashboard(ctx context.Context, cancel context.CancelFunc, cfg config.Config, client *chain.Client, lg log.Logger) error {
	snapshots := make(chan consensus.Snapshot, 1)
	chainInfo := make(chan tui.ChainInfo, 1)

	poller := collector.NewPoller(cfg, client, client, nil, lg, collector.WithUpdates(snapshots))

	var g errgroup.Group
	g.Go(func() error {
		defer close(snapshots)
		if err := poller.Run(ctx); err != nil {
			lg.Error("Poll pipeline stopped", "err", err)
			cancel()
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer close(chainInfo)
		refreshChainInfo(ctx, client, cfg.DashboardRefresh, chainInfo, lg)
		return nil
	})

	if err := tui.Run(ctx, snapshots, chainInfo, tui.WithoutEmoji(cfg.DashboardNoEmoji)); err != nil {
		lg.Error("TUI error", "err", err)
	}
	// TUI exited, stop the feeders
	cancel()
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "dashboard stopped: %v\n", err)
		return err
	}
	return nil
}

func refreshChainInfo(ctx context.Context, client *chain.Client, every time.Duration, out chan<- tui.ChainInfo, lg log.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		info := tui.ChainInfo{}
		if st, err := client.Status(ctx); err == nil {
			info.ChainID = st.NodeInfo.Network
			info.NodeVersion = st.NodeInfo.Version
			info.CatchingUp = st.SyncInfo.CatchingUp
			info.LatestHeight = st.SyncInfo.LatestBlockHeight
			info.LatestBlockTime = st.SyncInfo.LatestBlockTime
		} else {
			info.Err = err
			lg.Error("Failed to refresh node status", "err", err)
		}
		if plan, err := client.UpgradePlan(ctx); err == nil {
			if plan != nil {
				info.UpgradeName = plan.Name
				info.UpgradeHeight = plan.Height
			}
		} else {
			lg.Debug("Failed to fetch upgrade plan", "err", err)
		}

		select {
		case out <- info:
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
