package cli

import (
	"errors"
	"math/big"

	"github.com/spf13/cobra"
)

var (
	simulateCampaignID string
	simulateUserWallet string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-attribution",
	Short: "Dry-run an attribution without submitting a transaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		campaignID, ok := new(big.Int).SetString(simulateCampaignID, 10)
		if !ok || campaignID.Sign() < 0 {
			return errors.New("--campaign must be a non-negative integer")
		}
		if simulateUserWallet == "" {
			return errors.New("--user is required")
		}
		return getApp().SimulateAttribution(cmd.Context(), campaignID, simulateUserWallet)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCampaignID, "campaign", "", "Campaign ID to attribute against")
	simulateCmd.Flags().StringVar(&simulateUserWallet, "user", "", "User wallet address")
}
