// Package agent holds the glue between the recommendation engine and a text
// generation backend. The backend itself is injected; this package only
// shapes prompts and interprets replies.
package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"apex-bridge/internal/campaigns"
)

// Reply is one generation result with its token accounting.
type Reply struct {
	Text         string
	PromptTokens int
	OutputTokens int
	TotalTokens  int
}

// Generator produces a reply for a prompt under a system instruction.
type Generator interface {
	Generate(ctx context.Context, prompt, system string) (Reply, error)
}

const baseInstruction = `You are an AI assistant integrated with the APEX advertising network.
Your task is to act as a helpful assistant. When appropriate based on the user's query, you can naturally recommend relevant campaigns from the APEX network.`

const purchasePrompt = `When you recommend a product or service, always ask the user: "Would you like to purchase this?" to give them the option to proceed with a transaction.`

// SystemInstruction renders the system prompt for one generation call,
// embedding the currently active campaigns.
func SystemInstruction(active []campaigns.Serialized) string {
	if len(active) == 0 {
		return baseInstruction + "\n\nCurrently there are no active campaigns available."
	}

	var list strings.Builder
	for i, c := range active {
		if i > 0 {
			list.WriteString("\n\n")
		}
		title := fmt.Sprintf("Campaign #%s", c.CampaignID)
		description := "No description available"
		targetURL := ""
		if c.Spec != nil {
			if c.Spec.Title != "" {
				title = c.Spec.Title
			}
			if c.Spec.Description != "" {
				description = c.Spec.Description
			}
			targetURL = c.Spec.TargetURL
		}
		fmt.Fprintf(&list, "%d. **%s**\n   - Description: %s", i+1, title, description)
		if targetURL != "" {
			fmt.Fprintf(&list, "\n   - Link: %s", targetURL)
		}
	}

	return fmt.Sprintf(`%s

Here are the currently active campaigns you can recommend when relevant:

%s

Guidelines:
- Only recommend campaigns when they are clearly relevant to the user's current query
- Be natural and helpful first - answer the user's question directly before considering any recommendations
- If the conversation topic shifts or the user's request is no longer relevant to available campaigns, do NOT force a recommendation
- Never recommend campaigns just to fill a response - it's better to provide no recommendation than an irrelevant one
- Always include the campaign link when recommending (if available)
- You can recommend multiple campaigns if they are all relevant to the current discussion
- %s`, baseInstruction, list.String(), purchasePrompt)
}

var affirmativePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\byes\b`),
	regexp.MustCompile(`(?i)\bbuy\b`),
	regexp.MustCompile(`(?i)\bpurchase\b`),
	regexp.MustCompile(`(?i)\bproceed\b`),
	regexp.MustCompile(`(?i)\bbook\b`),
	regexp.MustCompile(`(?i)\bconfirm\b`),
	regexp.MustCompile(`(?i)\blet'?s?\s*do\s*it\b`),
	regexp.MustCompile(`(?i)\bi'?ll?\s*take\s*it\b`),
	regexp.MustCompile(`(?i)\bsure\b`),
	regexp.MustCompile(`(?i)\bgo\s*ahead\b`),
}

// DetectPurchaseIntent reports whether a user message reads as an affirmative
// response to a purchase offer.
func DetectPurchaseIntent(message string) bool {
	trimmed := strings.TrimSpace(message)
	for _, pattern := range affirmativePatterns {
		if pattern.MatchString(trimmed) {
			return true
		}
	}
	return false
}
