package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bond-alerts/internal/app"
)

var (
	showLimit  int
	showAlerts bool
	showPrune  time.Duration
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent yield samples or delivered alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if showPrune > 0 && !showAlerts {
			return fmt.Errorf("--prune-older-than requires --alerts")
		}

		opts := app.ShowOptions{
			Limit:          showLimit,
			Alerts:         showAlerts,
			PruneOlderThan: showPrune,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of entries to display")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show delivered alerts instead of samples")
	showCmd.Flags().DurationVar(&showPrune, "prune-older-than", 0, "Delete alert records older than this age before listing (requires --alerts)")
}
