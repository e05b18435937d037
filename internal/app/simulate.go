package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"apex-bridge/internal/attribution"
)

// SimulateAttribution dry-runs an attribution against the ad registry
// without submitting anything. Useful for checking publisher registration
// and campaign eligibility before going live.
func (a *App) SimulateAttribution(ctx context.Context, campaignID *big.Int, userWallet string) error {
	if !common.IsHexAddress(userWallet) {
		return fmt.Errorf("invalid user wallet %q", userWallet)
	}

	client := a.newChainClient()
	writer, err := a.newWriter(client)
	if err != nil {
		return fmt.Errorf("configure transaction writer: %w", err)
	}

	submitter := attribution.NewSubmitter(writer, attribution.Options{
		Registry:    common.HexToAddress(a.Config.Ethereum.AdRegistry),
		PublisherID: a.Config.Publisher.ID,
	}, a.Logger)

	if err := submitter.Simulate(ctx, campaignID, userWallet); err != nil {
		var aerr *attribution.Error
		if errors.As(err, &aerr) {
			fmt.Fprintf(os.Stdout, "simulation rejected: %s (%s)\n", aerr.Kind, aerr.Message)
			return nil
		}
		return err
	}

	fmt.Fprintf(os.Stdout, "simulation passed for campaign %s, user %s\n", campaignID, userWallet)
	return nil
}
