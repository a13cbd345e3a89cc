package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateISIN  string
	simulateName  string
	simulateYield float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic new-instrument alert through the live channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateISIN == "" {
			return errors.New("--isin is required")
		}
		if simulateYield <= 0 {
			return errors.New("--yield must be greater than 0")
		}

		name := simulateName
		if name == "" {
			name = simulateISIN
		}

		return getApp().SimulateAlert(cmd.Context(), simulateISIN, name, decimal.NewFromFloat(simulateYield))
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateISIN, "isin", "", "Synthetic instrument ISIN")
	simulateCmd.Flags().StringVar(&simulateName, "name", "", "Synthetic instrument name")
	simulateCmd.Flags().Float64Var(&simulateYield, "yield", 0, "Synthetic yield to maturity in percent")
}
