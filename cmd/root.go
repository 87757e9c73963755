package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	rpcURL     string
	outputJSON bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "gas-repricer",
	Short: "Offline divergence analysis for repriced EVM gas schedules",
	Long: `gas-repricer uses Geth as a library to re-execute historical blocks under
both the protocol gas schedule and an experimentally repriced one, and
reports every place the two executions behaved differently.

It detects divergence across:
- Terminal status (success/revert/halt/out-of-gas)
- Gas consumption pattern (opcode-category accounting)
- Resulting state root (touched account/storage fingerprint)
- Emitted event logs
- Call tree shape
- Out-of-gas triggering under the inflated budget`,
	Version: "1.0.0",
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc", "http://localhost:8545", "Ethereum RPC URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Accepted but unused: no command produces JSON output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
}
