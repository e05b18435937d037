package cli

import (
	"github.com/spf13/cobra"
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "List the currently active campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowCampaigns(cmd.Context())
	},
}
