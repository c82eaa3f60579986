package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the hash chain of the configured ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		controller, ledgerStore, _, _, err := openController(nil)
		if err != nil {
			return err
		}
		defer ledgerStore.MustClose()

		ok, err := controller.VerifyChainIntegrity()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("ledger integrity check failed")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ledger integrity ok")
		return nil
	},
}

var tipCmd = &cobra.Command{
	Use:   "tip",
	Short: "Print the block count and tip hash of the configured ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		controller, ledgerStore, _, _, err := openController(nil)
		if err != nil {
			return err
		}
		defer ledgerStore.MustClose()

		count, err := controller.BlockCount()
		if err != nil {
			return err
		}
		tip, err := controller.TipHash()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "blocks: %d\ntip: %s\n", count, tip)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <collection> <key_field> <key_value>",
	Short: "Print every stored version of one record, oldest first",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, ledgerStore, _, _, err := openController(nil)
		if err != nil {
			return err
		}
		defer ledgerStore.MustClose()

		history, err := ledgerStore.History(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return fmt.Errorf("no versions of %s.%s=%s", args[0], args[1], args[2])
		}
		out := cmd.OutOrStdout()
		for _, version := range history {
			state := "live"
			if version.Superseded {
				state = "superseded"
			}
			fmt.Fprintf(out, "%s %s %s %s %s\n", version.Timestamp, version.Type, version.Hash, state, version.Data)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd, tipCmd, historyCmd)
}
