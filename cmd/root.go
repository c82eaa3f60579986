package cmd

import (
	"os"

	"github.com/blockmedi/medledger/logx"
	"github.com/spf13/cobra"
)

var (
	nodeConfigPath  string
	chainConfigPath string
)

var rootCmd = &cobra.Command{
	Use:   "medledger",
	Short: "Medledger node CLI",
	Long:  "Command line interface for running and inspecting a hash-chained ledger node.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&nodeConfigPath, "config", "", "Path to node.yml (defaults to an in-memory single node)")
	rootCmd.PersistentFlags().StringVar(&chainConfigPath, "chain-config", "", "Path to chain.ini with [chain] tuning")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		os.Exit(1)
	}
}
