package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/sentinel/guard"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear a tripped kill switch",
	Long: `Remove the kill switch marker file so the next run starts
with trading enabled.

Only do this after reviewing why the switch tripped; the engine never
clears it on its own.

Example:
  sentinel reset --marker killswitch.tripped`,
	RunE: runReset,
}

var resetMarkerPath string

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().StringVarP(&resetMarkerPath, "marker", "m", "", "path to the kill switch marker file (required)")
	resetCmd.MarkFlagRequired("marker")
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := guard.RemoveMarker(resetMarkerPath); err != nil {
		return fmt.Errorf("remove marker: %w", err)
	}
	fmt.Printf("kill switch marker %s removed\n", resetMarkerPath)
	return nil
}
