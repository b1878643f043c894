package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Position and order reconciliation engine for crypto futures",
	Long: `Sentinel keeps a local record of positions and protective orders
consistent with the exchange's authoritative state.

It provides:
  - Periodic reconciliation of positions against exchange truth
  - Orphaned protective order detection and cleanup
  - Crash recovery from an atomic on-disk snapshot
  - Deterministic order fingerprints for safe retry after timeouts
  - A kill switch that halts trading on repeated failures
  - An append-only audit ledger with offline verification`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
