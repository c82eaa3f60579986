package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockmedi/medledger/api"
	"github.com/blockmedi/medledger/chain"
	"github.com/blockmedi/medledger/config"
	"github.com/blockmedi/medledger/events"
	"github.com/blockmedi/medledger/exception"
	"github.com/blockmedi/medledger/logx"
	"github.com/blockmedi/medledger/monitoring"
	"github.com/blockmedi/medledger/peer"
	"github.com/blockmedi/medledger/ratelimit"
	"github.com/blockmedi/medledger/store"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ledger node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func loadNodeConfig() (*config.NodeFileConfig, error) {
	if nodeConfigPath == "" {
		return config.DefaultNodeConfig()
	}
	return config.LoadNodeConfig(nodeConfigPath)
}

// openController loads both config files, opens the configured store and
// wires a controller to it. The caller owns the returned store.
func openController(bus *events.EventBus) (*chain.Controller, store.LedgerStore, *config.NodeFileConfig, *config.ChainConfig, error) {
	nodeCfg, err := loadNodeConfig()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load node config: %w", err)
	}
	chainCfg, err := config.LoadChainConfig(chainConfigPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load chain config: %w", err)
	}

	ledgerStore, err := store.CreateStore(&nodeCfg.Store)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to open ledger store: %w", err)
	}

	validator := peer.NewHTTPValidator(nodeCfg.PeerURLs(), chainCfg.PeerTimeout())
	controller := chain.NewController(ledgerStore, validator, chain.Options{
		MaxAttempts: chainCfg.MaxAttempts,
		BackoffStep: chainCfg.BackoffStep(),
		Events:      bus,
	})
	return controller, ledgerStore, nodeCfg, chainCfg, nil
}

func runNode() error {
	bus := events.NewEventBus()
	controller, ledgerStore, nodeCfg, chainCfg, err := openController(bus)
	if err != nil {
		return err
	}
	defer ledgerStore.MustClose()

	if err := controller.EnsureInitialized(); err != nil {
		return err
	}
	monitoring.InitMetrics()

	ok, err := controller.VerifyChainIntegrity()
	if err != nil {
		return err
	}
	if !ok {
		logx.Warn("NODE", "Ledger failed its integrity check at startup")
	}

	subID, commits := bus.Subscribe()
	defer bus.Unsubscribe(subID)
	exception.SafeGo("commit-log", func() { logCommits(commits) })

	server := api.NewAPIServer(controller, nodeCfg.SelfNode.ListenAddr, nodeCfg.IsDevelopment())
	if chainCfg.ValidateRateLimit > 0 {
		server.ValidateLimiter = ratelimit.NewRateLimiter(&ratelimit.RateLimiterConfig{
			MaxRequests: chainCfg.ValidateRateLimit,
			WindowSize:  chainCfg.ValidateRateWindow(),
		})
	}
	if err := server.Start(); err != nil {
		return err
	}
	logx.Info("NODE", fmt.Sprintf("Node running: environment=%s store=%s peers=%v",
		nodeCfg.Environment, nodeCfg.Store.Type, nodeCfg.PeerURLs()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logx.Info("NODE", "Shutting down node...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func logCommits(ch <-chan events.LedgerEvent) {
	for event := range ch {
		switch e := event.(type) {
		case *events.BlockCommitted:
			logx.Info("NODE", "Committed block", e.BlockHash(), "after", e.Attempts(), "attempt(s)")
		case *events.CommitFailed:
			collection, keyField, keyValue := e.Key()
			logx.Warn("NODE", fmt.Sprintf("Commit failed for %s.%s=%s: %v", collection, keyField, keyValue, e.Err()))
		}
	}
}
