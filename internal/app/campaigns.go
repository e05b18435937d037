package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// ShowCampaigns prints the currently active campaign snapshot.
func (a *App) ShowCampaigns(ctx context.Context) error {
	client := a.newChainClient()
	cache := a.newCache(client)

	active, cached, fetchedAt, err := cache.Active(ctx)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		fmt.Fprintln(os.Stdout, "no active campaigns")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%d active campaign(s), cached=%v, fetched %s\n\n",
		len(active), cached, fetchedAt.UTC().Format(time.RFC3339))

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tAdvertiser\tTitle\tBudget\tSpent\tCPA\tExpires (UTC)")

	for _, c := range active {
		title := ""
		if c.Spec != nil {
			title = sanitizeInline(c.Spec.Title)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.CampaignID,
			c.AdvertiserID,
			title,
			c.Budget.Amount,
			c.Budget.Spent,
			c.Budget.CPAAmount,
			time.Unix(int64(c.ExpiryTime), 0).UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
